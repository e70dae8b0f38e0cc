package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/ingestion"
)

// PostgresStore persists cached indexes as typed rows instead of an opaque
// blob: one header row plus one row per chunk with its embedding in a VECTOR
// column, so the cached corpus stays inspectable and queryable with plain SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.pool == nil {
		return nil, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		model     string
		dimension int
	)
	err := s.pool.QueryRow(ctx,
		"SELECT model, dimension FROM quiz_index_cache WHERE key_hash = $1", key,
	).Scan(&model, &dimension)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query cached index: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_id, source_type, content, embedding
		FROM quiz_index_chunks
		WHERE key_hash = $1
		ORDER BY chunk_index
	`, key)
	if err != nil {
		return nil, false, fmt.Errorf("query cached chunks: %w", err)
	}
	defer rows.Close()

	idx := &index.VectorIndex{Model: model, Dimension: dimension}
	for rows.Next() {
		var (
			chunk ingestion.Chunk
			vec   pgvector.Vector
		)
		if err := rows.Scan(&chunk.SourceID, &chunk.SourceType, &chunk.Text, &vec); err != nil {
			return nil, false, fmt.Errorf("scan cached chunk: %w", err)
		}
		idx.Chunks = append(idx.Chunks, chunk)
		idx.Vectors = append(idx.Vectors, vec.Slice())
	}
	if rows.Err() != nil {
		return nil, false, rows.Err()
	}

	blob, err := idx.Encode()
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, blob []byte) (err error) {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	idx, err := index.Decode(blob)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM quiz_index_cache WHERE key_hash = $1", key); err != nil {
		return fmt.Errorf("clear existing index: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO quiz_index_cache (key_hash, model, dimension, created_at)
		VALUES ($1, $2, $3, NOW())
	`, key, idx.Model, idx.Dimension); err != nil {
		return fmt.Errorf("insert index header: %w", err)
	}

	for i, chunk := range idx.Chunks {
		if _, err = tx.Exec(ctx, `
			INSERT INTO quiz_index_chunks (key_hash, chunk_index, source_id, source_type, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, key, i, chunk.SourceID, chunk.SourceType, chunk.Text, pgvector.NewVector(idx.Vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM quiz_index_cache WHERE key_hash = $1", key); err != nil {
		return fmt.Errorf("delete cached index: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
