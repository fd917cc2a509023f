package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.LoadSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession on a fresh database, got %v", err)
	}

	if err := db.SaveSession(ctx, "http://hub.local:8123", "token-1", "push"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	s, err := db.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if s.Endpoint != "http://hub.local:8123" || s.Token != "token-1" || s.Transport != "push" {
		t.Errorf("unexpected session: %+v", s)
	}
	if s.UpdatedAt.IsZero() {
		t.Error("expected updated_at to parse")
	}
}

func TestSaveSession_Upserts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveSession(ctx, "http://old.local:8123", "old-token", "push"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := db.SaveSession(ctx, "http://new.local:8123", "new-token", "rest"); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	s, err := db.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if s.Endpoint != "http://new.local:8123" || s.Transport != "rest" {
		t.Errorf("expected the latest session, got %+v", s)
	}
}

func TestClearSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Clearing an empty table is fine.
	if err := db.ClearSession(ctx); err != nil {
		t.Fatalf("clear on empty failed: %v", err)
	}

	if err := db.SaveSession(ctx, "http://hub.local:8123", "token", "push"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := db.ClearSession(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := db.LoadSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}
}
