package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestPutGetList(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)

	info, err := store.Put(ctx, "journals/sales.log.20240601T100000Z", bytes.NewReader([]byte("sale;7;ana;42;2024-06-01T10:00:00Z\n")))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "journals/sales.log.20240601T100000Z" || info.Size == 0 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "journals/sales.log.20240601T100000Z", bytes.NewReader([]byte("x"))); err == nil {
		t.Fatal("expected duplicate failure")
	}

	got, rc, err := store.Get(ctx, "journals/sales.log.20240601T100000Z")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got.Size != int64(len(b)) || !bytes.HasPrefix(b, []byte("sale;")) {
		t.Fatalf("unexpected content %q", b)
	}

	list, err := store.List(ctx, "journals/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "journals/sales.log.20240601T100000Z" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list, _ := store.List(ctx, "snapshots/"); len(list) != 0 {
		t.Fatalf("unexpected objects under snapshots/: %+v", list)
	}
}

func TestPutRejectsTraversalKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/../../b"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x"))); err == nil {
			t.Errorf("expected rejection for key %q", key)
		}
	}
}

func TestPutLeavesNoTempOnSuccess(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Put(ctx, "a.log", bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.log" {
		t.Fatalf("unexpected entries %v", entries)
	}
}
