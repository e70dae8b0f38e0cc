package quiz

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/bildung/quizrag/embeddings"
	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/ingestion"
	"github.com/bildung/quizrag/llm"
)

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.vectors != nil {
		return s.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

// stubLLM replays queued responses; once drained it repeats the last one.
type stubLLM struct {
	responses []string
	err       error
	calls     int
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", errors.New("no stub response configured")
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

var _ llm.Client = (*stubLLM)(nil)

func twoSourceIndex() *index.VectorIndex {
	return &index.VectorIndex{
		Model:     "test-model",
		Dimension: 2,
		Chunks: []ingestion.Chunk{
			{SourceID: "slides.pdf", SourceType: ingestion.SourceDocument, Text: "Routers forward packets between networks."},
			{SourceID: "lecture.mp3", SourceType: ingestion.SourceAudio, Text: "DNS resolves hostnames to addresses."},
		},
		Vectors: [][]float32{
			{1, 0},
			{0.8, 0.6},
		},
	}
}

const routingQuestionJSON = `[{"question": "What does a router forward between networks?", "options": {"A": "Packets", "B": "Sessions", "C": "Transcripts", "D": "Cables"}, "correct_answer": "A"}]`

const dnsQuestionJSON = `[{"question": "What does DNS translate hostnames into?", "options": {"A": "Addresses", "B": "Packets", "C": "Frames", "D": "Cookies"}, "correct_answer": "A"}]`

func TestGenerateCollectsFromEachSource(t *testing.T) {
	client := &stubLLM{responses: []string{routingQuestionJSON, dnsQuestionJSON}}
	gen := NewGenerator(client, &stubEmbedder{}, log.New(io.Discard, "", 0))

	questions, err := gen.Generate(context.Background(), twoSourceIndex(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	for i, q := range questions {
		if q.ID == "" {
			t.Fatalf("question %d: missing id", i)
		}
		if !q.AutoGenerated {
			t.Fatalf("question %d: expected auto-generated flag", i)
		}
	}
	if questions[0].ID == questions[1].ID {
		t.Fatal("question ids must be unique")
	}
}

func TestGenerateStopsAtRequestedCount(t *testing.T) {
	// The model ignores the requested count and returns three valid
	// questions in one batch; the generator must accept only the target
	// and not burn calls on the remaining sources.
	overProduced := `[
		{"question": "What does a router forward between networks?", "options": {"A": "Packets", "B": "Sessions", "C": "Transcripts", "D": "Cables"}, "correct_answer": "A"},
		{"question": "What does DNS translate hostnames into?", "options": {"A": "Addresses", "B": "Packets", "C": "Frames", "D": "Cookies"}, "correct_answer": "A"},
		{"question": "Which layer do switches operate at?", "options": {"A": "Link", "B": "Session", "C": "Transport", "D": "Physical"}, "correct_answer": "A"}
	]`
	client := &stubLLM{responses: []string{overProduced}}
	gen := NewGenerator(client, &stubEmbedder{}, log.New(io.Discard, "", 0))

	questions, err := gen.Generate(context.Background(), twoSourceIndex(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(questions) != 2 {
		t.Fatalf("expected exactly 2 questions, got %d", len(questions))
	}
	if client.calls != 1 {
		t.Fatalf("expected a single model call, got %d", client.calls)
	}
}

func TestGenerateDropsDuplicates(t *testing.T) {
	// Every call returns the same question; only one survives and the
	// generator gives up after its attempt budget.
	client := &stubLLM{responses: []string{routingQuestionJSON}}
	gen := NewGenerator(client, &stubEmbedder{}, log.New(io.Discard, "", 0))

	questions, err := gen.Generate(context.Background(), twoSourceIndex(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(questions) != 1 {
		t.Fatalf("expected 1 unique question, got %d", len(questions))
	}
}

func TestGenerateRetriesMalformedOutput(t *testing.T) {
	client := &stubLLM{responses: []string{"sorry, I cannot do that", routingQuestionJSON}}
	gen := NewGenerator(client, &stubEmbedder{}, log.New(io.Discard, "", 0))

	questions, err := gen.Generate(context.Background(), twoSourceIndex(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected recovery after malformed output, got %d questions", len(questions))
	}
	if client.calls < 2 {
		t.Fatalf("expected at least 2 model calls, got %d", client.calls)
	}
}

func TestGenerateDiscardsInvalidCandidates(t *testing.T) {
	invalid := `[{"question": "Too few options?", "options": {"A": "Yes", "B": "No"}, "correct_answer": "A"}]`
	client := &stubLLM{responses: []string{invalid}}
	gen := NewGenerator(client, &stubEmbedder{}, log.New(io.Discard, "", 0))

	questions, err := gen.Generate(context.Background(), twoSourceIndex(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(questions) != 0 {
		t.Fatalf("expected no questions from invalid candidates, got %d", len(questions))
	}
}

func TestGenerateModelFailure(t *testing.T) {
	client := &stubLLM{err: errors.New("provider down")}
	gen := NewGenerator(client, &stubEmbedder{}, log.New(io.Discard, "", 0))

	_, err := gen.Generate(context.Background(), twoSourceIndex(), 1)
	if KindOf(err) != KindModelFailure {
		t.Fatalf("expected model failure kind, got %v", err)
	}
}

func TestGenerateEmbedFailure(t *testing.T) {
	gen := NewGenerator(&stubLLM{responses: []string{routingQuestionJSON}}, &stubEmbedder{err: errors.New("embed down")}, log.New(io.Discard, "", 0))

	_, err := gen.Generate(context.Background(), twoSourceIndex(), 1)
	if KindOf(err) != KindModelFailure {
		t.Fatalf("expected model failure kind, got %v", err)
	}
}

func TestDistributeEvenly(t *testing.T) {
	quotas := distributeEvenly(5, 3)
	want := []int{2, 2, 1}
	for i := range want {
		if quotas[i] != want[i] {
			t.Fatalf("expected quotas %v, got %v", want, quotas)
		}
	}

	if quotas := distributeEvenly(2, 5); quotas[0] != 1 || quotas[1] != 1 || quotas[2] != 0 {
		t.Fatalf("unexpected quotas: %v", quotas)
	}
	if distributeEvenly(3, 0) != nil {
		t.Fatal("expected nil quotas for zero buckets")
	}
}

func TestClampQuestions(t *testing.T) {
	if clampQuestions(0) != MinQuestions {
		t.Fatal("expected clamp up to minimum")
	}
	if clampQuestions(999) != MaxQuestions {
		t.Fatal("expected clamp down to maximum")
	}
	if clampQuestions(7) != 7 {
		t.Fatal("in-range value must pass through")
	}
}

func TestGroupBySourcePreservesOrder(t *testing.T) {
	results := []index.Result{
		{Chunk: ingestion.Chunk{SourceID: "b"}},
		{Chunk: ingestion.Chunk{SourceID: "a"}},
		{Chunk: ingestion.Chunk{SourceID: "b"}},
		{Chunk: ingestion.Chunk{SourceID: ""}},
	}

	order, grouped := groupBySource(results)
	if len(order) != 3 || order[0] != "b" || order[1] != "a" || order[2] != "unknown" {
		t.Fatalf("unexpected source order: %v", order)
	}
	if len(grouped["b"]) != 2 {
		t.Fatalf("expected 2 results for source b, got %d", len(grouped["b"]))
	}
}
