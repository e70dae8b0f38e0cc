package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureCacheSchema creates the tables backing the Postgres index cache. The
// course tables (quizzes_quiz, courses_course, courses_lecture) belong to the
// platform and are never created here.
func EnsureCacheSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS quiz_index_cache (
			key_hash TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			dimension INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS quiz_index_chunks (
			key_hash TEXT NOT NULL REFERENCES quiz_index_cache(key_hash) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			source_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			PRIMARY KEY (key_hash, chunk_index)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_quiz_index_chunks_embedding ON quiz_index_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
