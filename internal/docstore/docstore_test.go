package docstore

import (
	"context"
	"errors"
	"testing"
)

type analysisDoc struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := AnalysisDocKey(3)

	doc := analysisDoc{Name: "segmentation", Parameters: map[string]any{"sigma": 1.5}}
	info, err := store.Put(ctx, key, doc)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != key || info.Size == 0 {
		t.Fatalf("unexpected put info %+v", info)
	}

	if _, err := store.Put(ctx, key, doc); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected create-only conflict, got %v", err)
	}

	var got analysisDoc
	if _, err := store.Get(ctx, key, &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != doc.Name || got.Parameters["sigma"] != 1.5 {
		t.Fatalf("unexpected document %+v", got)
	}

	if _, err := store.Head(ctx, key); err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := store.Get(ctx, AnalysisDocKey(99), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := store.Put(ctx, DataMetadataKey(7), map[string]string{"channel": "DAPI"}); err != nil {
		t.Fatalf("put metadata: %v", err)
	}
	infos, err := store.List(ctx, "analysis/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != key {
		t.Fatalf("unexpected listing %+v", infos)
	}

	removed, err := store.Delete(ctx, key)
	if err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if _, err := store.Head(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected document gone, got %v", err)
	}
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	testStoreRoundTrip(t, store)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemory()
	if store.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	testStoreRoundTrip(t, store)
}

func TestS3StoreRoundTrip(t *testing.T) {
	store := newS3MockForTests()
	if store.Driver() != DriverS3 {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	ctx := context.Background()
	key := AnalysisDocKey(1)

	info, err := store.Put(ctx, key, analysisDoc{Name: "deconvolution"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.URI != "s3://mock-bucket/"+key {
		t.Fatalf("unexpected uri %s", info.URI)
	}
	if _, err := store.Put(ctx, key, analysisDoc{Name: "other"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected conflict, got %v", err)
	}

	var got analysisDoc
	if _, err := store.Get(ctx, key, &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "deconvolution" {
		t.Fatalf("unexpected document %+v", got)
	}

	if _, err := store.Put(ctx, DataMetadataKey(2), map[string]string{"stain": "DAPI"}); err != nil {
		t.Fatalf("put metadata: %v", err)
	}
	infos, err := store.List(ctx, "data/")
	if err != nil || len(infos) != 1 {
		t.Fatalf("unexpected listing %+v (%v)", infos, err)
	}

	if removed, err := store.Delete(ctx, key); err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if _, err := store.Head(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected document gone, got %v", err)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "  ", "../escape", "/abs/path", "a/../../b"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected key %q rejected", key)
		}
	}
	if k, err := sanitizeKey("analysis/3.json"); err != nil || k != "analysis/3.json" {
		t.Fatalf("expected clean key accepted, got %q %v", k, err)
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("TRACECORE_DOCSTORE_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	t.Setenv("TRACECORE_DOCSTORE_DRIVER", "fs")
	t.Setenv("TRACECORE_DOCSTORE_FS_ROOT", t.TempDir())
	store, err = Open(context.Background())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	t.Setenv("TRACECORE_DOCSTORE_DRIVER", "cloud")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
