package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/ingestion"
	"github.com/bildung/quizrag/outline"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
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
	s.data[key] = blob
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

var _ Store = (*memStore)(nil)

func testKey() Key {
	return Key{QuizID: 7, Scope: outline.ScopeAllBefore, Source: ingestion.SelectBoth}
}

func testBuildIndex() *index.VectorIndex {
	return &index.VectorIndex{
		Model:     "test-model",
		Dimension: 2,
		Chunks:    []ingestion.Chunk{{SourceID: "a.pdf", SourceType: ingestion.SourceDocument, Text: "content"}},
		Vectors:   [][]float32{{1, 0}},
	}
}

func TestKeyIdentity(t *testing.T) {
	key := testKey()
	if key.String() != "quiz:7|scope:all_before|source:both" {
		t.Fatalf("unexpected key string: %q", key.String())
	}

	other := Key{QuizID: 7, Scope: outline.ScopeAllBefore, Source: ingestion.SelectDocument}
	if key.Hash() == other.Hash() {
		t.Fatal("distinct keys must hash differently")
	}
	if key.Hash() != (testKey()).Hash() {
		t.Fatal("equal keys must hash identically")
	}
}

func TestGetOrBuildBuildsOnce(t *testing.T) {
	store := newMemStore()
	c := New(store, log.New(io.Discard, "", 0))

	var builds int32
	build := func(ctx context.Context) (*index.VectorIndex, error) {
		atomic.AddInt32(&builds, 1)
		return testBuildIndex(), nil
	}

	first, err := c.GetOrBuild(context.Background(), testKey(), build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Len() != 1 {
		t.Fatalf("expected 1 chunk, got %d", first.Len())
	}

	second, err := c.GetOrBuild(context.Background(), testKey(), build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Len() != 1 {
		t.Fatalf("expected 1 chunk, got %d", second.Len())
	}

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("expected exactly 1 build, got %d", got)
	}
}

func TestGetOrBuildPropagatesBuildError(t *testing.T) {
	c := New(newMemStore(), log.New(io.Discard, "", 0))

	wantErr := errors.New("build failed")
	_, err := c.GetOrBuild(context.Background(), testKey(), func(ctx context.Context) (*index.VectorIndex, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected build error, got %v", err)
	}
}

func TestGetOrBuildRecoversCorruptEntry(t *testing.T) {
	store := newMemStore()
	key := testKey()
	store.data[key.Hash()] = []byte("corrupt blob")

	c := New(store, log.New(io.Discard, "", 0))

	var builds int32
	idx, err := c.GetOrBuild(context.Background(), key, func(ctx context.Context) (*index.VectorIndex, error) {
		atomic.AddInt32(&builds, 1)
		return testBuildIndex(), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected rebuilt index, got %d chunks", idx.Len())
	}
	if atomic.LoadInt32(&builds) != 1 {
		t.Fatal("expected corrupt entry to trigger a rebuild")
	}
}

func TestGetOrBuildCollapsesConcurrentBuilds(t *testing.T) {
	store := newMemStore()
	c := New(store, log.New(io.Discard, "", 0))

	var builds int32
	release := make(chan struct{})
	build := func(ctx context.Context) (*index.VectorIndex, error) {
		atomic.AddInt32(&builds, 1)
		<-release
		return testBuildIndex(), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrBuild(context.Background(), testKey(), build)
		}(i)
	}

	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("expected 1 shared build, got %d", got)
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	store := newMemStore()
	c := New(store, log.New(io.Discard, "", 0))

	var builds int32
	build := func(ctx context.Context) (*index.VectorIndex, error) {
		atomic.AddInt32(&builds, 1)
		return testBuildIndex(), nil
	}

	if _, err := c.GetOrBuild(context.Background(), testKey(), build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Invalidate(context.Background(), testKey()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := c.GetOrBuild(context.Background(), testKey(), build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := atomic.LoadInt32(&builds); got != 2 {
		t.Fatalf("expected rebuild after invalidation, got %d builds", got)
	}
}
