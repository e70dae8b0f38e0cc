package quiz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/bildung/quizrag/cache"
	"github.com/bildung/quizrag/embeddings"
	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/ingestion"
	"github.com/bildung/quizrag/knowledge"
	"github.com/bildung/quizrag/llm"
	"github.com/bildung/quizrag/outline"
)

// WarnNoContent is surfaced when the resolved scope holds no usable
// material; callers present "no content yet" instead of an error.
const WarnNoContent = "No lecture content available"

const warnNoQuestions = "AI could not generate valid questions"

// Service is the engine's front door: it resolves scope, builds or loads the
// cached index, and drives generation and validation against it.
type Service struct {
	resolver  *outline.Resolver
	loader    *ingestion.Loader
	chunker   *ingestion.Chunker
	builder   *index.Builder
	cache     *cache.Cache
	generator *Generator
	validator *AnswerValidator
	graph     neo4j.DriverWithContext
	logger    *log.Logger
}

// NewService wires the pipeline together. graph may be nil; provenance sync
// is then skipped.
func NewService(
	resolver *outline.Resolver,
	loader *ingestion.Loader,
	chunker *ingestion.Chunker,
	builder *index.Builder,
	indexCache *cache.Cache,
	llmClient llm.Client,
	embedder embeddings.Embedder,
	graph neo4j.DriverWithContext,
	logger *log.Logger,
) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		resolver:  resolver,
		loader:    loader,
		chunker:   chunker,
		builder:   builder,
		cache:     indexCache,
		generator: NewGenerator(llmClient, embedder, logger),
		validator: NewAnswerValidator(llmClient, embedder, logger),
		graph:     graph,
		logger:    logger,
	}
}

// GenerateResult carries generated questions plus an optional caller-facing
// warning (short corpus, no content).
type GenerateResult struct {
	Questions []Question `json:"questions"`
	Warning   string     `json:"warning,omitempty"`
}

// GenerateQuestions builds (or loads) the index scoped to the quiz and
// produces up to numQuestions validated MCQs. An empty corpus yields an
// empty result with a warning, never an error; a short corpus yields fewer
// questions with a warning.
func (s *Service) GenerateQuestions(ctx context.Context, quizID int64, scopeRaw, sourceRaw string, numQuestions int) (GenerateResult, error) {
	scope, selector, err := parseScopeAndSelector(scopeRaw, sourceRaw)
	if err != nil {
		return GenerateResult{}, err
	}

	requested := numQuestions
	numQuestions = clampQuestions(numQuestions)
	if numQuestions != requested {
		s.logger.Printf("quiz %d: clamped question count %d to %d", quizID, requested, numQuestions)
	}

	idx, err := s.indexFor(ctx, quizID, scope, selector)
	if err != nil {
		if errors.Is(err, index.ErrEmptyCorpus) {
			return GenerateResult{Questions: []Question{}, Warning: WarnNoContent}, nil
		}
		return GenerateResult{}, s.coerce(err)
	}

	questions, err := s.generator.Generate(ctx, idx, numQuestions)
	if err != nil {
		return GenerateResult{}, s.coerce(err)
	}

	result := GenerateResult{Questions: questions}
	switch {
	case len(questions) == 0:
		result.Questions = []Question{}
		result.Warning = warnNoQuestions
	case len(questions) < numQuestions:
		result.Warning = fmt.Sprintf("Generated %d of %d requested questions; the scoped content could not support more", len(questions), numQuestions)
	}
	return result, nil
}

// ValidateAnswer judges a free-text answer against the quiz's scoped index.
// A scope with no usable content deterministically yields an incorrect
// verdict instead of an error.
func (s *Service) ValidateAnswer(ctx context.Context, quizID int64, scopeRaw, sourceRaw, question, studentAnswer string) (Verdict, error) {
	scope, selector, err := parseScopeAndSelector(scopeRaw, sourceRaw)
	if err != nil {
		return Verdict{}, err
	}
	if strings.TrimSpace(question) == "" || strings.TrimSpace(studentAnswer) == "" {
		return Verdict{}, newError(KindInvalidInput, "both question and answer are required")
	}

	idx, err := s.indexFor(ctx, quizID, scope, selector)
	if err != nil {
		if errors.Is(err, index.ErrEmptyCorpus) {
			return Verdict{Explanation: NoMaterialExplanation}, nil
		}
		return Verdict{}, s.coerce(err)
	}

	verdict, err := s.validator.Validate(ctx, idx, question, studentAnswer)
	if err != nil {
		return Verdict{}, s.coerce(err)
	}
	return verdict, nil
}

// ContentReport is the diagnostic view of what a quiz can draw from.
type ContentReport struct {
	ModuleIDs []int64           `json:"module_ids"`
	Lectures  []outline.Lecture `json:"lectures"`
	// IndexSources is filled from the provenance graph when one is
	// configured and the index has been built at least once.
	IndexSources []IndexSource `json:"index_sources,omitempty"`
}

type IndexSource struct {
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	ChunkCount int    `json:"chunk_count"`
}

// AccessibleContent resolves and reports the content units a quiz may draw
// from under the given scope, without building anything.
func (s *Service) AccessibleContent(ctx context.Context, quizID int64, scopeRaw, sourceRaw string) (ContentReport, error) {
	scope, selector, err := parseScopeAndSelector(scopeRaw, sourceRaw)
	if err != nil {
		return ContentReport{}, err
	}

	moduleIDs, err := s.resolver.Resolve(ctx, quizID, scope)
	if err != nil {
		return ContentReport{}, s.coerce(err)
	}

	lectures, err := s.resolver.AccessibleLectures(ctx, quizID, scope)
	if err != nil {
		return ContentReport{}, s.coerce(err)
	}

	report := ContentReport{ModuleIDs: moduleIDs, Lectures: lectures}

	if s.graph != nil {
		key := cache.Key{QuizID: quizID, Scope: scope, Source: selector}
		stats, insightsErr := knowledge.IndexInsights(ctx, s.graph, key.Hash())
		if insightsErr != nil {
			s.logger.Printf("index insights for %s unavailable: %v", key, insightsErr)
		}
		for _, stat := range stats {
			report.IndexSources = append(report.IndexSources, IndexSource{
				SourceID:   stat.SourceID,
				SourceType: stat.SourceType,
				ChunkCount: stat.ChunkCount,
			})
		}
	}
	return report, nil
}

// Invalidate drops the cached index for the given quiz/scope/source.
func (s *Service) Invalidate(ctx context.Context, quizID int64, scopeRaw, sourceRaw string) error {
	scope, selector, err := parseScopeAndSelector(scopeRaw, sourceRaw)
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cache.Key{QuizID: quizID, Scope: scope, Source: selector})
}

// indexFor returns the cached index for (quiz, scope, selector), running the
// full resolve-load-chunk-embed pipeline on a miss.
func (s *Service) indexFor(ctx context.Context, quizID int64, scope outline.ScopeMode, selector ingestion.Selector) (*index.VectorIndex, error) {
	key := cache.Key{QuizID: quizID, Scope: scope, Source: selector}

	return s.cache.GetOrBuild(ctx, key, func(buildCtx context.Context) (*index.VectorIndex, error) {
		lectures, err := s.resolver.AccessibleLectures(buildCtx, quizID, scope)
		if err != nil {
			return nil, err
		}

		units, err := s.loader.Load(buildCtx, lectures, selector)
		if err != nil {
			return nil, err
		}

		chunks, err := s.chunker.Split(units)
		if err != nil {
			return nil, err
		}

		idx, err := s.builder.Build(buildCtx, chunks)
		if err != nil {
			return nil, err
		}

		s.syncProvenance(buildCtx, key, idx)
		return idx, nil
	})
}

func (s *Service) syncProvenance(ctx context.Context, key cache.Key, idx *index.VectorIndex) {
	if s.graph == nil {
		return
	}

	counts := make(map[string]*knowledge.SourceStat)
	order := make([]string, 0)
	for _, chunk := range idx.Chunks {
		stat, ok := counts[chunk.SourceID]
		if !ok {
			stat = &knowledge.SourceStat{SourceID: chunk.SourceID, SourceType: string(chunk.SourceType)}
			counts[chunk.SourceID] = stat
			order = append(order, chunk.SourceID)
		}
		stat.ChunkCount++
	}

	stats := make([]knowledge.SourceStat, 0, len(order))
	for _, id := range order {
		stats = append(stats, *counts[id])
	}

	if err := knowledge.SyncIndex(ctx, s.graph, key.Hash(), key.QuizID, string(key.Scope), string(key.Source), stats); err != nil {
		s.logger.Printf("provenance sync for %s failed: %v", key, err)
	}
}

func parseScopeAndSelector(scopeRaw, sourceRaw string) (outline.ScopeMode, ingestion.Selector, error) {
	scope, err := outline.ParseScope(scopeRaw)
	if err != nil {
		return "", "", wrapError(KindInvalidInput, "parse scope", err)
	}
	selector, err := ingestion.ParseSelector(sourceRaw)
	if err != nil {
		return "", "", wrapError(KindInvalidInput, "parse source selector", err)
	}
	return scope, selector, nil
}

// coerce maps sentinel errors from the lower layers onto the caller-facing
// taxonomy; already-typed errors pass through.
func (s *Service) coerce(err error) error {
	switch {
	case err == nil:
		return nil
	case KindOf(err) != "":
		return err
	case errors.Is(err, outline.ErrNotFound):
		return wrapError(KindNotFound, "resolve quiz scope", err)
	case errors.Is(err, outline.ErrInvalidScope), errors.Is(err, ingestion.ErrInvalidSelector):
		return wrapError(KindInvalidInput, "parse request", err)
	case errors.Is(err, ingestion.ErrContentMissing):
		return wrapError(KindContentMissing, "load lecture content", err)
	case errors.Is(err, ingestion.ErrUnsupportedDocument):
		return wrapError(KindInvalidInput, "normalize content", err)
	case errors.Is(err, index.ErrEmptyCorpus):
		return wrapError(KindEmptyCorpus, "build index", err)
	default:
		return err
	}
}
