package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bildung/quizrag/embeddings"
	"github.com/bildung/quizrag/ingestion"
)

// ErrEmptyCorpus is returned when no usable chunks remain after filtering
// blanks; an index cannot be built over nothing.
var ErrEmptyCorpus = errors.New("no usable content to index")

// Builder embeds chunks with one fixed model and assembles a VectorIndex.
type Builder struct {
	embedder embeddings.Embedder
	model    string
	logger   *log.Logger
}

func NewBuilder(embedder embeddings.Embedder, model string, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{embedder: embedder, model: model, logger: logger}
}

func (b *Builder) Build(ctx context.Context, chunks []ingestion.Chunk) (*VectorIndex, error) {
	if b.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}

	kept := make([]ingestion.Chunk, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		kept = append(kept, chunk)
		texts = append(texts, chunk.Text)
	}

	if len(kept) == 0 {
		return nil, ErrEmptyCorpus
	}

	vectors, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(kept) {
		return nil, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(kept), len(vectors))
	}

	dimension := len(vectors[0])
	normalized := make([][]float32, len(vectors))
	for i, vec := range vectors {
		if len(vec) != dimension {
			return nil, fmt.Errorf("inconsistent embedding dimension: expected %d, got %d", dimension, len(vec))
		}
		normalized[i] = normalize(vec)
	}

	b.logger.Printf("built vector index: %d chunks, dimension %d, model %s", len(kept), dimension, b.model)

	return &VectorIndex{
		Model:     b.model,
		Dimension: dimension,
		Chunks:    kept,
		Vectors:   normalized,
	}, nil
}
