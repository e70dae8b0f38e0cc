package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/bildung/quizrag/api"
	"github.com/bildung/quizrag/cache"
	"github.com/bildung/quizrag/config"
	"github.com/bildung/quizrag/database"
	"github.com/bildung/quizrag/embeddings"
	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/ingestion"
	"github.com/bildung/quizrag/llm"
	"github.com/bildung/quizrag/outline"
	"github.com/bildung/quizrag/quiz"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "generate":
		generateCmd(cfg, logger, os.Args[2:])
	case "validate":
		validateCmd(cfg, logger, os.Args[2:])
	case "content":
		contentCmd(cfg, logger, os.Args[2:])
	case "clear-cache":
		clearCacheCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// wiring holds the connected service plus everything that must be closed when
// the command finishes.
type wiring struct {
	svc    *quiz.Service
	closes []func()
}

func (w *wiring) Close() {
	for i := len(w.closes) - 1; i >= 0; i-- {
		w.closes[i]()
	}
}

func buildService(ctx context.Context, cfg config.Config, logger *log.Logger) (*wiring, error) {
	w := &wiring{}

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	w.closes = append(w.closes, pgPool.Close)

	var store cache.Store
	switch cfg.CacheBackend {
	case config.CacheBackendPostgres:
		if err := database.EnsureCacheSchema(ctx, pgPool, cfg.Embeddings.Dimension); err != nil {
			w.Close()
			return nil, fmt.Errorf("cache schema: %w", err)
		}
		store = cache.NewPostgresStore(pgPool)
	case config.CacheBackendFilesystem:
		fsStore, err := cache.NewFSStore(cfg.CacheDir)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("cache directory: %w", err)
		}
		store = fsStore
	default:
		w.Close()
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}

	var graphDriver neo4j.DriverWithContext
	if cfg.Neo4jURI != "" {
		graphDriver, err = database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		driver := graphDriver
		w.closes = append(w.closes, func() { _ = driver.Close(context.Background()) })
	}

	var transcriber ingestion.Transcriber
	if cfg.Speech.CredentialsFile != "" {
		transcriber, err = ingestion.NewSpeechTranscriber(ctx, cfg.Speech)
		if err != nil {
			logger.Printf("speech transcriber unavailable, audio sources will be skipped: %v", err)
		} else {
			w.closes = append(w.closes, func() { _ = transcriber.Close() })
		}
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	courseStore := database.NewCourseStore(pgPool)
	resolver := outline.NewResolver(courseStore, logger)
	loader := ingestion.NewLoader(cfg.MediaRoot, transcriber, logger)
	chunker := ingestion.NewChunker(0, 0)
	builder := index.NewBuilder(embedder, cfg.Embeddings.Model, logger)
	indexCache := cache.New(store, logger)

	w.svc = quiz.NewService(resolver, loader, chunker, builder, indexCache, llmClient, embedder, graphDriver, logger)
	return w, nil
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.HTTPAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire service: %v", err)
	}
	defer w.Close()

	server := &http.Server{
		Addr:    *addr,
		Handler: api.New(w.svc, logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server: %v", err)
	}
}

func generateCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("generate", flag.ExitOnError)
	quizID := flags.Int64("quiz", 0, "quiz id to generate questions for")
	scope := flags.String("scope", "all_before", "content scope (all_before or since_last_quiz)")
	source := flags.String("source", "both", "content sources (document, audio, or both)")
	count := flags.Int("n", 5, "number of questions to generate")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse generate flags: %v", err)
	}
	if *quizID <= 0 {
		logger.Fatal("generate requires --quiz")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire service: %v", err)
	}
	defer w.Close()

	result, err := w.svc.GenerateQuestions(ctx, *quizID, *scope, *source, *count)
	if err != nil {
		logger.Fatalf("generate questions: %v", err)
	}

	if result.Warning != "" {
		logger.Printf("warning: %s", result.Warning)
	}
	printJSON(logger, result.Questions)
}

func validateCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("validate", flag.ExitOnError)
	quizID := flags.Int64("quiz", 0, "quiz id the question belongs to")
	scope := flags.String("scope", "all_before", "content scope (all_before or since_last_quiz)")
	source := flags.String("source", "both", "content sources (document, audio, or both)")
	question := flags.String("question", "", "question text")
	answer := flags.String("answer", "", "student answer to judge")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse validate flags: %v", err)
	}
	if *quizID <= 0 {
		logger.Fatal("validate requires --quiz")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire service: %v", err)
	}
	defer w.Close()

	verdict, err := w.svc.ValidateAnswer(ctx, *quizID, *scope, *source, *question, *answer)
	if err != nil {
		logger.Fatalf("validate answer: %v", err)
	}

	printJSON(logger, verdict)
}

func contentCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("content", flag.ExitOnError)
	quizID := flags.Int64("quiz", 0, "quiz id to inspect")
	scope := flags.String("scope", "all_before", "content scope (all_before or since_last_quiz)")
	source := flags.String("source", "both", "content sources (document, audio, or both)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse content flags: %v", err)
	}
	if *quizID <= 0 {
		logger.Fatal("content requires --quiz")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire service: %v", err)
	}
	defer w.Close()

	report, err := w.svc.AccessibleContent(ctx, *quizID, *scope, *source)
	if err != nil {
		logger.Fatalf("inspect content: %v", err)
	}

	printJSON(logger, report)
}

func clearCacheCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	quizID := flags.Int64("quiz", 0, "quiz id whose cached index should be dropped")
	scope := flags.String("scope", "all_before", "content scope of the cached index")
	source := flags.String("source", "both", "content sources of the cached index")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear-cache flags: %v", err)
	}
	if *quizID <= 0 {
		logger.Fatal("clear-cache requires --quiz")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire service: %v", err)
	}
	defer w.Close()

	if err := w.svc.Invalidate(ctx, *quizID, *scope, *source); err != nil {
		logger.Fatalf("clear cache: %v", err)
	}
	logger.Printf("cleared cached index for quiz %d", *quizID)
}

func printJSON(logger *log.Logger, payload any) {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		logger.Fatalf("encode output: %v", err)
	}
	fmt.Println(string(encoded))
}

func printUsage() {
	fmt.Println("Usage: quizrag <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve        Run the HTTP API")
	fmt.Println("  generate     Generate questions for a quiz (--quiz, --scope, --source, --n)")
	fmt.Println("  validate     Judge a free-text answer against quiz content (--quiz, --question, --answer)")
	fmt.Println("  content      Show the lectures a quiz can draw from (--quiz, --scope)")
	fmt.Println("  clear-cache  Drop the cached vector index for a quiz (--quiz, --scope, --source)")
}
