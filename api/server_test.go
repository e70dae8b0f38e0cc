package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bildung/quizrag/cache"
	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/ingestion"
	"github.com/bildung/quizrag/llm"
	"github.com/bildung/quizrag/outline"
	"github.com/bildung/quizrag/quiz"
)

type stubCourseStore struct {
	quiz    outline.Quiz
	quizErr error
	outline outline.Outline
}

func (s *stubCourseStore) GetQuiz(ctx context.Context, quizID int64) (outline.Quiz, error) {
	if s.quizErr != nil {
		return outline.Quiz{}, s.quizErr
	}
	return s.quiz, nil
}

func (s *stubCourseStore) GetOutline(ctx context.Context, courseID int64) (outline.Outline, error) {
	return s.outline, nil
}

func (s *stubCourseStore) GetLectures(ctx context.Context, moduleIDs []int64) ([]outline.Lecture, error) {
	return nil, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	return "[]", nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.data[key]
	return blob, ok, nil
}

func (s *memStore) Put(ctx context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[key] = blob
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

var _ cache.Store = (*memStore)(nil)

func testServer(store outline.CourseStore) *Server {
	logger := log.New(io.Discard, "", 0)

	resolver := outline.NewResolver(store, logger)
	loader := ingestion.NewLoader("testdata", nil, logger)
	chunker := ingestion.NewChunker(0, 0)
	builder := index.NewBuilder(stubEmbedder{}, "test-model", logger)
	indexCache := cache.New(&memStore{}, logger)

	svc := quiz.NewService(resolver, loader, chunker, builder, indexCache, stubLLM{}, stubEmbedder{}, nil, logger)
	return New(svc, logger)
}

func emptyCourse() *stubCourseStore {
	return &stubCourseStore{
		quiz: outline.Quiz{ID: 9, CourseID: 1},
		outline: outline.Outline{
			{Type: outline.BlockModule, ID: 1, Position: 0},
			{Type: outline.BlockQuiz, ID: 9, Position: 1},
		},
	}
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGenerateManualModeShortCircuits(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/9/generate?mode=manual", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp generateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "manual" || len(resp.Questions) != 0 {
		t.Fatalf("unexpected manual response: %+v", resp)
	}
}

func TestGenerateRejectsBadQuizID(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/abc/generate", "{}")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerateRejectsNonNumericCount(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/9/generate", `{"num_questions": "many"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateEmptyCorpusWarns(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/9/generate", `{"num_questions": 3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp generateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Warning == "" {
		t.Fatal("expected a warning for an empty corpus")
	}
	if len(resp.Questions) != 0 {
		t.Fatalf("expected no questions, got %d", len(resp.Questions))
	}
}

func TestGenerateInvalidScope(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/9/generate?scope=everything", "{}")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerateQuizNotFound(t *testing.T) {
	srv := testServer(&stubCourseStore{quizErr: outline.ErrNotFound})

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/9/generate", "{}")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestValidateAnswerRequiresFields(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/9/validate-answer", `{"question": "", "answer": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestValidateAnswerEmptyCorpusVerdict(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/quiz/9/validate-answer", `{"question": "What forwards packets?", "answer": "A router"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result.IsCorrect {
		t.Fatal("expected an incorrect verdict without material")
	}
}

func TestContentReport(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodGet, "/v1/quiz/9/content", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report quiz.ContentReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(report.ModuleIDs) != 1 || report.ModuleIDs[0] != 1 {
		t.Fatalf("unexpected module ids: %v", report.ModuleIDs)
	}
}

func TestClearCacheRequiresConfirmation(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodPost, "/v1/cache/clear", `{"quiz_id": 9}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/cache/clear", `{"quiz_id": 9, "confirm": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := testServer(emptyCourse())

	rec := doRequest(t, srv, http.MethodGet, "/v1/quiz/9/generate", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", allow)
	}
}
