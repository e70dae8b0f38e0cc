package quiz

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/bildung/quizrag/embeddings"
	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/llm"
)

const (
	// MinQuestions and MaxQuestions bound a generation request; out-of-range
	// values are clamped rather than rejected.
	MinQuestions = 1
	MaxQuestions = 50

	maxAttemptsPerSource  = 4
	perSourceContextChars = 3500
	broadContextChars     = 4500

	// probeQuery seeds the diversified retrieval that feeds generation.
	probeQuery = "Key concepts and topics explained across all lectures and videos"

	mmrFetchK = 200
	mmrLambda = 0.3
)

const generatorSystemPrompt = "You are an expert instructor who writes high-quality multiple-choice quiz questions."

// Generator produces structurally valid, mutually non-duplicate MCQs from a
// vector index, drawing proportionally from each source.
type Generator struct {
	llm      llm.Client
	embedder embeddings.Embedder
	logger   *log.Logger
}

func NewGenerator(llmClient llm.Client, embedder embeddings.Embedder, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{llm: llmClient, embedder: embedder, logger: logger}
}

// Generate returns up to numQuestions validated questions. It may return
// fewer when the corpus cannot support the request; that is not an error.
func (g *Generator) Generate(ctx context.Context, idx *index.VectorIndex, numQuestions int) ([]Question, error) {
	if g.llm == nil {
		return nil, fmt.Errorf("llm client is not configured")
	}
	if g.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}

	numQuestions = clampQuestions(numQuestions)

	retrieveK := 8 * numQuestions
	if retrieveK < 40 {
		retrieveK = 40
	}

	vectors, err := g.embedder.Embed(ctx, []string{probeQuery})
	if err != nil {
		return nil, wrapError(KindModelFailure, "embed retrieval probe", err)
	}
	if len(vectors) == 0 {
		return nil, newError(KindModelFailure, "embedder returned no vectors")
	}

	candidates := idx.SearchMMR(vectors[0], retrieveK, mmrFetchK, mmrLambda)
	if len(candidates) == 0 {
		return nil, nil
	}

	sources, bySource := groupBySource(candidates)
	quotas := distributeEvenly(numQuestions, len(sources))

	collected := make([]Question, 0, numQuestions)
	seen := make(map[string]bool, numQuestions)

	for i, source := range sources {
		need := quotas[i]
		if need <= 0 {
			continue
		}

		contextText := resultsToText(bySource[source], perSourceContextChars)

		for attempt := 0; need > 0 && attempt < maxAttemptsPerSource; attempt++ {
			accepted, err := g.generateBatch(ctx, contextText, need, numQuestions, seen, &collected)
			if err != nil {
				return nil, err
			}
			need -= accepted

			if len(collected) >= numQuestions {
				return collected, nil
			}
		}

		if need > 0 {
			g.logger.Printf("source %s exhausted %d attempts with %d questions still owed", source, maxAttemptsPerSource, need)
		}
	}

	// One broad pass over the whole candidate set to fill any remainder.
	if remaining := numQuestions - len(collected); remaining > 0 {
		contextText := resultsToText(candidates, broadContextChars)
		if _, err := g.generateBatch(ctx, contextText, remaining, numQuestions, seen, &collected); err != nil {
			return nil, err
		}
	}

	return collected, nil
}

// generateBatch asks the model for count questions over contextText and
// folds the validated survivors into collected, never past limit even when
// the model over-produces. It returns how many were accepted; malformed
// output counts as zero and is retried by the caller.
func (g *Generator) generateBatch(ctx context.Context, contextText string, count, limit int, seen map[string]bool, collected *[]Question) (int, error) {
	raw, err := g.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: generatorSystemPrompt},
		{Role: llm.RoleUser, Content: buildGenerationPrompt(count, contextText)},
	})
	if err != nil {
		return 0, wrapError(KindModelFailure, "generate questions", err)
	}

	parsed, ok := extractJSONArray(raw)
	if !ok {
		g.logger.Printf("discarding malformed generation output (%d bytes)", len(raw))
		return 0, nil
	}

	accepted := 0
	for _, candidate := range parsed {
		if len(*collected) >= limit {
			break
		}
		if !isValidMCQ(candidate) {
			continue
		}

		candidate.Text = strings.TrimSpace(candidate.Text)
		normalized := normalizeText(candidate.Text)
		if seen[normalized] {
			continue
		}
		if isNearDuplicate(candidate.Text, *collected) {
			continue
		}

		candidate.ID = uuid.New().String()
		candidate.AutoGenerated = true

		seen[normalized] = true
		*collected = append(*collected, candidate)
		accepted++
	}

	return accepted, nil
}

func isNearDuplicate(text string, accepted []Question) bool {
	normalized := normalizeText(text)
	for _, existing := range accepted {
		if similarityRatio(normalized, normalizeText(existing.Text)) >= questionSimilarityThreshold {
			return true
		}
	}
	return false
}

func clampQuestions(n int) int {
	if n < MinQuestions {
		return MinQuestions
	}
	if n > MaxQuestions {
		return MaxQuestions
	}
	return n
}

// groupBySource partitions retrieval results by source id, preserving
// first-seen order so quotas favor the most relevant sources.
func groupBySource(results []index.Result) ([]string, map[string][]index.Result) {
	order := make([]string, 0)
	grouped := make(map[string][]index.Result)

	for _, result := range results {
		id := result.Chunk.SourceID
		if id == "" {
			id = "unknown"
		}
		if _, ok := grouped[id]; !ok {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], result)
	}

	return order, grouped
}

// distributeEvenly spreads total across buckets as evenly as possible, the
// remainder going to the first buckets.
func distributeEvenly(total, buckets int) []int {
	if buckets <= 0 {
		return nil
	}

	base := total / buckets
	remainder := total % buckets

	quotas := make([]int, buckets)
	for i := range quotas {
		quotas[i] = base
		if i < remainder {
			quotas[i]++
		}
	}
	return quotas
}

// resultsToText joins chunk texts into one context block, capped at maxChars
// to avoid token explosion.
func resultsToText(results []index.Result, maxChars int) string {
	var b strings.Builder
	for _, result := range results {
		text := strings.TrimSpace(result.Chunk.Text)
		if text == "" {
			continue
		}
		if b.Len()+len(text) > maxChars {
			break
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func buildGenerationPrompt(count int, contextText string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TASK:\nGenerate EXACTLY %d UNIQUE multiple-choice questions.\n\n", count)
	b.WriteString(`MANDATORY DIVERSITY RULES:
- EACH question MUST test a DIFFERENT concept or topic
- NEVER generate two questions from the same idea
- Spread questions across all topics in the context

CRITICAL RULES:
- EXACTLY 4 options: A, B, C, D
- Only ONE correct answer
- Options must be semantically DISTINCT
- No duplicated or similar questions
- No repeated or paraphrased options
- Incorrect options must be plausible but clearly wrong
- NO explanations
- NO markdown
- OUTPUT ONLY valid JSON
- Use DOUBLE QUOTES only

FORMAT:
[
  {
    "question": "...",
    "options": {
      "A": "...",
      "B": "...",
      "C": "...",
      "D": "..."
    },
    "correct_answer": "A"
  }
]

Context:
`)
	b.WriteString(contextText)

	return b.String()
}
