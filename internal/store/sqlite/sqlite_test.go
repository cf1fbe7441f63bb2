package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"hordegraphy/internal/store"
)

var _ store.Backing = (*Cache)(nil)

func TestCachePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Put(ctx, "clubLink", []byte(`"a"`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put(ctx, "clubLink", []byte(`"b"`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := c.Put(ctx, "members", []byte(`[]`)); err != nil {
		t.Fatalf("put members: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || string(got["clubLink"]) != `"b"` || string(got["members"]) != `[]` {
		t.Fatalf("unexpected entries %q", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
