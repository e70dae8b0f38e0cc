package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/bildung/quizrag/quiz"
)

const defaultQuestionCount = 5

// Server exposes the quiz generation and validation workflows over HTTP.
type Server struct {
	svc     *quiz.Service
	logger  *log.Logger
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type generateRequest struct {
	NumQuestions json.Number `json:"num_questions"`
}

type generateResponse struct {
	QuizID    int64           `json:"quiz_id"`
	Mode      string          `json:"mode"`
	Scope     string          `json:"scope"`
	Questions []quiz.Question `json:"questions"`
	Warning   string          `json:"warning,omitempty"`
}

type validateRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type validateResponse struct {
	QuizID int64        `json:"quiz_id"`
	Result quiz.Verdict `json:"result"`
}

type clearCacheRequest struct {
	QuizID  int64  `json:"quiz_id"`
	Scope   string `json:"scope"`
	Source  string `json:"source"`
	Confirm bool   `json:"confirm"`
}

// New constructs a Server over an already wired quiz service.
func New(svc *quiz.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{svc: svc, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/quiz/{id}/generate", s.handleGenerate)
	mux.HandleFunc("/v1/quiz/{id}/validate-answer", s.handleValidateAnswer)
	mux.HandleFunc("/v1/quiz/{id}/content", s.handleContent)
	mux.HandleFunc("/v1/cache/clear", s.handleClearCache)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	quizID, err := pathQuizID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	scope := r.URL.Query().Get("scope")
	source := r.URL.Query().Get("source")

	// Manual quizzes carry instructor-authored questions; nothing to generate.
	if r.URL.Query().Get("mode") == "manual" {
		s.writeJSON(w, http.StatusOK, generateResponse{
			QuizID:    quizID,
			Mode:      "manual",
			Scope:     scope,
			Questions: []quiz.Question{},
		})
		return
	}

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	numQuestions := defaultQuestionCount
	if req.NumQuestions != "" {
		parsed, err := strconv.Atoi(req.NumQuestions.String())
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("num_questions must be an integer"))
			return
		}
		numQuestions = parsed
	}

	result, err := s.svc.GenerateQuestions(r.Context(), quizID, scope, source, numQuestions)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, generateResponse{
		QuizID:    quizID,
		Mode:      "auto",
		Scope:     scope,
		Questions: result.Questions,
		Warning:   result.Warning,
	})
}

func (s *Server) handleValidateAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	quizID, err := pathQuizID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	verdict, err := s.svc.ValidateAnswer(
		r.Context(),
		quizID,
		r.URL.Query().Get("scope"),
		r.URL.Query().Get("source"),
		req.Question,
		req.Answer,
	)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, validateResponse{QuizID: quizID, Result: verdict})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	quizID, err := pathQuizID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.svc.AccessibleContent(
		r.Context(),
		quizID,
		r.URL.Query().Get("scope"),
		r.URL.Query().Get("source"),
	)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearCacheRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear cached indexes"))
		return
	}
	if req.QuizID <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("quiz_id is required"))
		return
	}

	if err := s.svc.Invalidate(r.Context(), req.QuizID, req.Scope, req.Source); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Printf("cleared cached index for quiz %d (scope=%q source=%q)", req.QuizID, req.Scope, req.Source)
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "cache cleared"})
}

func pathQuizID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("quiz id must be a positive integer")
	}
	return id, nil
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch quiz.KindOf(err) {
	case quiz.KindNotFound:
		status = http.StatusNotFound
	case quiz.KindInvalidInput:
		status = http.StatusBadRequest
	case quiz.KindContentMissing:
		status = http.StatusUnprocessableEntity
	case quiz.KindModelFailure:
		status = http.StatusServiceUnavailable
	case quiz.KindMalformedModelOutput:
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
