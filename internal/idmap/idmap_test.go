package idmap

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "idmap.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "n1", 42); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	remoteID, ok, err := s.Lookup(ctx, "n1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || remoteID != 42 {
		t.Errorf("Lookup = (%d, %v), want (42, true)", remoteID, ok)
	}
}

func TestLookupUnknown(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok {
		t.Error("Lookup of unknown id reported a mapping")
	}
}

func TestRecordUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "n1", 42); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(ctx, "n1", 99); err != nil {
		t.Fatalf("re-Record failed: %v", err)
	}

	remoteID, _, err := s.Lookup(ctx, "n1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if remoteID != 99 {
		t.Errorf("remote id = %d, want 99", remoteID)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestForgetIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "n1", 42); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Forget(ctx, "n1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if err := s.Forget(ctx, "n1"); err != nil {
		t.Fatalf("second Forget failed: %v", err)
	}

	if _, ok, _ := s.Lookup(ctx, "n1"); ok {
		t.Error("mapping survived Forget")
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idmap.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Record(ctx, "n1", 42); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	remoteID, ok, err := reopened.Lookup(ctx, "n1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || remoteID != 42 {
		t.Errorf("Lookup after reopen = (%d, %v), want (42, true)", remoteID, ok)
	}
}
