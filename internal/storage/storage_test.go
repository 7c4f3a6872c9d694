package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/captcha-relay/internal/storage"
)

// testStoreContract exercises the behavior every backend must share.
func testStoreContract(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "never-written"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown key, got %v", err)
	}

	if err := s.Put(ctx, "task-1", []byte(`{"status":"pending"}`), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"status":"pending"}` {
		t.Fatalf("unexpected value %q", got)
	}

	if err := s.Put(ctx, "task-1", []byte(`{"status":"completed","solution":"42"}`), time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = s.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(got) != `{"status":"completed","solution":"42"}` {
		t.Fatalf("overwrite not visible, got %q", got)
	}

	// repeated reads are stable
	again, _ := s.Get(ctx, "task-1")
	if string(again) != string(got) {
		t.Fatalf("read drifted: %q vs %q", again, got)
	}

	if err := s.Put(ctx, "", []byte("x"), time.Minute); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := s.Put(ctx, "k", []byte("x"), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
	if err := s.Put(ctx, "big", make([]byte, storage.MaxValueSize+1), time.Minute); err == nil {
		t.Fatal("expected error for oversized value")
	}
}

func TestOpenHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cases := []struct {
		handle string
		want   string
	}{
		{"memory://", "*storage.Memory"},
		{"badger://" + filepath.Join(dir, "badger"), "*storage.Badger"},
		{"sqlite://" + filepath.Join(dir, "relay.db"), "*storage.SQLite"},
	}
	for _, tc := range cases {
		s, err := storage.Open(ctx, tc.handle, storage.Options{})
		if err != nil {
			t.Fatalf("open %s: %v", tc.handle, err)
		}
		if got := typeName(s); got != tc.want {
			t.Fatalf("open %s: got %s, want %s", tc.handle, got, tc.want)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close %s: %v", tc.handle, err)
		}
	}

	for _, bad := range []string{"", "redis://localhost", "badger://", "/tmp/no-scheme"} {
		if _, err := storage.Open(ctx, bad, storage.Options{}); err == nil {
			t.Fatalf("expected error for handle %q", bad)
		}
	}
}

func typeName(s storage.Store) string {
	switch s.(type) {
	case *storage.Memory:
		return "*storage.Memory"
	case *storage.Badger:
		return "*storage.Badger"
	case *storage.SQLite:
		return "*storage.SQLite"
	}
	return "unknown"
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	m.Close()
	if err := m.Put(ctx, "k", []byte("v"), time.Minute); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !strings.Contains(storage.ErrClosed.Error(), "closed") {
		t.Fatal("unexpected error text")
	}
}
