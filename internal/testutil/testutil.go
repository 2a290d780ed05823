// Package testutil provides shared test helpers for setting up stores and
// element trees.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestStore returns a Store over an in-memory backend with caching enabled.
func TestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.NewStore(storage.NewMemory(), storage.WithCacheSize(128), storage.WithLogger(Logger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestFSStore returns a Store over a file backend rooted in a temporary
// directory, together with that directory.
func TestFSStore(t *testing.T) (string, *storage.Store) {
	t.Helper()
	dir := t.TempDir()
	fsb, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	st, err := storage.NewStore(fsb, storage.WithCacheSize(128), storage.WithLogger(Logger()))
	if err != nil {
		t.Fatal(err)
	}
	return dir, st
}

// Page returns an element with version 1 carrying an empty contents object
// and the given slugs for every slug language. Slugs are stored as given.
func Page(parent string, slugs ...models.Slug) *models.Element {
	e := models.NewElement("page", parent)
	v := e.Versions[1]
	for _, s := range slugs {
		if !v.HasLanguage(s.Language) {
			v.SetContents(s.Language, models.NewElementContents())
		}
	}
	v.Slugs = slugs
	return e
}

// Slug is shorthand for a live slug.
func Slug(lang, url string, def bool) models.Slug {
	return models.Slug{URL: url, Language: lang, Default: def}
}

// Put stores elements, registering each one in its parent's children cache
// when the parent is among them or already stored.
func Put(t *testing.T, st *storage.Store, elems ...*models.Element) {
	t.Helper()
	ctx := context.Background()
	byID := map[string]*models.Element{}
	for _, e := range elems {
		byID[e.ID] = e
	}
	for _, e := range elems {
		if e.Parent == "" {
			continue
		}
		p, ok := byID[e.Parent]
		if !ok {
			var err error
			p, err = st.LoadElement(ctx, e.Parent)
			if err != nil {
				t.Fatalf("load parent %s: %v", e.Parent, err)
			}
			byID[p.ID] = p
			elems = append(elems, p)
		}
		v := p.Versions[p.NewestVersionNumber()]
		if !v.HasChild(e.ID) {
			v.Children = append(v.Children, e.ID)
		}
	}
	for _, e := range elems {
		if err := st.StoreElement(ctx, e); err != nil {
			t.Fatalf("store %s: %v", e.ID, err)
		}
	}
}
