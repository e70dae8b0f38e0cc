package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"golang.org/x/sync/singleflight"

	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/ingestion"
	"github.com/bildung/quizrag/outline"
)

// Key is the composite identity of one cached vector index. It deliberately
// does not incorporate a hash of the underlying material: editing a lecture
// does not invalidate an already-built index.
type Key struct {
	QuizID int64
	Scope  outline.ScopeMode
	Source ingestion.Selector
}

func (k Key) String() string {
	return fmt.Sprintf("quiz:%d|scope:%s|source:%s", k.QuizID, k.Scope, k.Source)
}

// Hash returns the deterministic storage key for this cache identity.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Store is a minimal key-value blob store so the backing medium (filesystem,
// object storage, embedded DB) is swappable without touching pipeline logic.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, blob []byte) error
	Delete(ctx context.Context, key string) error
}

// BuildFunc produces a fresh index on a cache miss.
type BuildFunc func(ctx context.Context) (*index.VectorIndex, error)

// Cache persists one vector index per Key and guards against cache stampedes:
// concurrent requests for the same unbuilt key trigger exactly one build.
type Cache struct {
	store  Store
	group  singleflight.Group
	logger *log.Logger
}

func New(store Store, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{store: store, logger: logger}
}

// GetOrBuild returns the cached index for key, building and persisting it on
// a miss. Builders are serialized per key; a caller whose context expires
// abandons its wait, but the in-flight build keeps running on a detached
// context and still populates the cache for future requests.
func (c *Cache) GetOrBuild(ctx context.Context, key Key, build BuildFunc) (*index.VectorIndex, error) {
	if c.store == nil {
		return nil, fmt.Errorf("cache store is not configured")
	}

	hash := key.Hash()

	ch := c.group.DoChan(hash, func() (any, error) {
		buildCtx := context.WithoutCancel(ctx)

		blob, ok, err := c.store.Get(buildCtx, hash)
		if err != nil {
			return nil, fmt.Errorf("cache get %s: %w", key, err)
		}
		if ok {
			idx, decodeErr := index.Decode(blob)
			if decodeErr == nil {
				return idx, nil
			}
			// Corrupt entry: rebuild rather than fail the request.
			c.logger.Printf("cache entry for %s is unreadable, rebuilding: %v", key, decodeErr)
		}

		idx, err := build(buildCtx)
		if err != nil {
			return nil, err
		}

		encoded, err := idx.Encode()
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(buildCtx, hash, encoded); err != nil {
			return nil, fmt.Errorf("cache put %s: %w", key, err)
		}

		c.logger.Printf("cached vector index for %s (%d chunks)", key, idx.Len())
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*index.VectorIndex), nil
	}
}

// Invalidate removes the cached index for key, if any.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	if c.store == nil {
		return fmt.Errorf("cache store is not configured")
	}
	return c.store.Delete(ctx, key.Hash())
}
