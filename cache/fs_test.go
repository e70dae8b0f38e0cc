package cache

import (
	"bytes"
	"context"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	key := testKey().Hash()

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	blob := []byte("payload")
	if err := store.Put(ctx, key, blob); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || !bytes.Equal(got, blob) {
		t.Fatalf("expected stored blob back, got ok=%v blob=%q", ok, got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("expected miss after delete")
	}

	// Deleting a missing entry is not an error.
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestFSStoreOverwrite(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	key := testKey().Hash()

	if err := store.Put(ctx, key, []byte("old")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, key, []byte("new")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "new" {
		t.Fatalf("expected overwritten blob, got %q", got)
	}
}
