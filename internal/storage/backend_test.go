package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/starford/codex/internal/apperr"
)

// backends returns every driver that can run without external services.
// Postgres joins when CODEX_TEST_POSTGRES_DSN is set.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	out := map[string]Backend{
		DriverMemory: NewMemory(),
		DriverFS:     tempFS(t),
	}

	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "codex.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	out[DriverSQLite] = sq

	bd, err := OpenBadger(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { bd.Close() })
	out[DriverBadger] = bd

	if dsn := os.Getenv("CODEX_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := OpenPostgres(context.Background(), dsn)
		if err != nil {
			t.Fatalf("OpenPostgres: %v", err)
		}
		t.Cleanup(func() {
			_, _ = pg.db.Exec(context.Background(), `DELETE FROM codex_records WHERE scope LIKE 'test_%'`)
			pg.Close()
		})
		out[DriverPostgres] = pg
	}
	return out
}

func TestBackend_StoreLoadDelete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.Store(ctx, "test_elements", "e1", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("Store: %v", err)
			}
			got, err := b.Load(ctx, "test_elements", "e1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if string(got) != `{"a":1}` {
				t.Errorf("Load = %q", got)
			}

			if err := b.Store(ctx, "test_elements", "e1", []byte(`{"a":2}`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _ = b.Load(ctx, "test_elements", "e1")
			if string(got) != `{"a":2}` {
				t.Errorf("Load after overwrite = %q", got)
			}

			if err := b.Delete(ctx, "test_elements", "e1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := b.Load(ctx, "test_elements", "e1"); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("Load after delete: want ErrNotFound, got %v", err)
			}
			if err := b.Delete(ctx, "test_elements", "e1"); err != nil {
				t.Errorf("deleting an absent record should succeed: %v", err)
			}
		})
	}
}

func TestBackend_ListIsScopedAndSorted(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = b.Store(ctx, "test_users", "b", []byte("1"))
			_ = b.Store(ctx, "test_users", "a", []byte("2"))
			_ = b.Store(ctx, "test_users_other", "c", []byte("3"))

			ids, err := b.List(ctx, "test_users")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if !slices.Equal(ids, []string{"a", "b"}) {
				t.Errorf("List = %v, want [a b]", ids)
			}

			empty, err := b.List(ctx, "test_nothing")
			if err != nil {
				t.Fatalf("List empty scope: %v", err)
			}
			if len(empty) != 0 {
				t.Errorf("expected no ids, got %v", empty)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "tape"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_FSCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	b, err := Open(context.Background(), Options{Driver: DriverFS, Path: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}
