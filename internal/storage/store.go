package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// Store is the typed adapter over a Backend.
//
// Every load decodes a fresh object, so callers never share mutable state
// through the Store. Encoded records are kept in a process-local ARC cache
// that is refreshed on every write and delete made through the Store.
// Writes made by other processes are only seen after Invalidate (the fs
// watcher does this) or once the entry is evicted.
type Store struct {
	backend Backend
	cache   *lru.ARCCache
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store) error

// WithCacheSize enables the record cache with room for n records.
// Zero disables caching.
func WithCacheSize(n int) StoreOption {
	return func(s *Store) error {
		if n <= 0 {
			s.cache = nil
			return nil
		}
		c, err := lru.NewARC(n)
		if err != nil {
			return fmt.Errorf("storage: create cache: %w", err)
		}
		s.cache = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) error {
		s.logger = l
		return nil
	}
}

// NewStore wraps b.
func NewStore(b Backend, opts ...StoreOption) (*Store, error) {
	s := &Store{backend: b, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Backend returns the wrapped driver.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

func cacheKey(scope, id string) string { return scope + "/" + id }

// LoadRecord returns the raw record.
func (s *Store) LoadRecord(ctx context.Context, scope, id string) ([]byte, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKey(scope, id)); ok {
			return v.([]byte), nil
		}
	}
	data, err := s.backend.Load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(cacheKey(scope, id), data)
	}
	return data, nil
}

// StoreRecord writes the raw record.
func (s *Store) StoreRecord(ctx context.Context, scope, id string, data []byte) error {
	if err := s.backend.Store(ctx, scope, id, data); err != nil {
		// The backend state is unknown now; drop the cached copy.
		s.Invalidate(scope, id)
		return err
	}
	if s.cache != nil {
		s.cache.Add(cacheKey(scope, id), slices.Clone(data))
	}
	return nil
}

// DeleteRecord removes the record. It implements models.Adapter.
func (s *Store) DeleteRecord(ctx context.Context, scope, id string) error {
	s.Invalidate(scope, id)
	return s.backend.Delete(ctx, scope, id)
}

// ListRecords returns the ids stored under scope.
func (s *Store) ListRecords(ctx context.Context, scope string) ([]string, error) {
	return s.backend.List(ctx, scope)
}

// Invalidate drops the cached copy of a record.
func (s *Store) Invalidate(scope, id string) {
	if s.cache != nil {
		s.cache.Remove(cacheKey(scope, id))
	}
}

// Purge empties the record cache.
func (s *Store) Purge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *Store) loadJSON(ctx context.Context, scope, id string, v any) error {
	data, err := s.LoadRecord(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.Invalidate(scope, id)
		s.logger.Warn("storage: undecodable record",
			slog.String("scope", scope), slog.String("id", id), slog.String("error", err.Error()))
		return fmt.Errorf("storage: decode %s/%s: %w: %w", scope, id, apperr.ErrCorruptRecord, err)
	}
	return nil
}

func (s *Store) storeJSON(ctx context.Context, scope, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s/%s: %w", scope, id, err)
	}
	return s.StoreRecord(ctx, scope, id, data)
}

// LoadElement loads an element.
func (s *Store) LoadElement(ctx context.Context, id string) (*models.Element, error) {
	var e models.Element
	if err := s.loadJSON(ctx, models.ScopeElements, id, &e); err != nil {
		return nil, err
	}
	if e.ID != id || e.Versions == nil {
		return nil, fmt.Errorf("storage: element %s: %w", id, apperr.ErrCorruptRecord)
	}
	for vno, v := range e.Versions {
		if v == nil {
			return nil, fmt.Errorf("storage: element %s version %d: %w", id, vno, apperr.ErrCorruptRecord)
		}
	}
	return &e, nil
}

// StoreElement validates and writes an element.
func (s *Store) StoreElement(ctx context.Context, e *models.Element) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return s.storeJSON(ctx, models.ScopeElements, e.ID, e)
}

// DeleteElement removes an element.
func (s *Store) DeleteElement(ctx context.Context, id string) error {
	return s.DeleteRecord(ctx, models.ScopeElements, id)
}

// ElementExists reports whether an element record exists.
func (s *Store) ElementExists(ctx context.Context, id string) (bool, error) {
	_, err := s.LoadRecord(ctx, models.ScopeElements, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// EnumAllElementIDs returns the ids of all stored elements.
func (s *Store) EnumAllElementIDs(ctx context.Context) ([]string, error) {
	return s.backend.List(ctx, models.ScopeElements)
}

// LoadUser loads a user.
func (s *Store) LoadUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.loadJSON(ctx, models.ScopeUsers, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// StoreUser writes a user.
func (s *Store) StoreUser(ctx context.Context, u *models.User) error {
	if !models.IsValidID(u.ID) {
		return fmt.Errorf("storage: invalid user id %q", u.ID)
	}
	return s.storeJSON(ctx, models.ScopeUsers, u.ID, u)
}

// EnumAllUserIDs returns the ids of all stored users.
func (s *Store) EnumAllUserIDs(ctx context.Context) ([]string, error) {
	return s.backend.List(ctx, models.ScopeUsers)
}

// LoadFileMeta loads file metadata.
func (s *Store) LoadFileMeta(ctx context.Context, id string) (*models.FileMeta, error) {
	var f models.FileMeta
	if err := s.loadJSON(ctx, models.ScopeFileMeta, id, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// StoreFileMeta writes file metadata.
func (s *Store) StoreFileMeta(ctx context.Context, f *models.FileMeta) error {
	if !models.IsValidID(f.ID) {
		return fmt.Errorf("storage: invalid file id %q", f.ID)
	}
	return s.storeJSON(ctx, models.ScopeFileMeta, f.ID, f)
}

// DeleteFileMeta removes file metadata.
func (s *Store) DeleteFileMeta(ctx context.Context, id string) error {
	return s.DeleteRecord(ctx, models.ScopeFileMeta, id)
}

// LoadStamp loads the audit stamp of a transaction.
func (s *Store) LoadStamp(ctx context.Context, xid string) (*models.Stamp, error) {
	var st models.Stamp
	if err := s.loadJSON(ctx, models.ScopeStamps, xid, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StoreStamp writes the audit stamp of a transaction.
func (s *Store) StoreStamp(ctx context.Context, st *models.Stamp) error {
	return s.storeJSON(ctx, models.ScopeStamps, st.ID, st)
}

// LoadMeta loads a meta record into v.
func (s *Store) LoadMeta(ctx context.Context, key string, v any) error {
	return s.loadJSON(ctx, models.ScopeMeta, key, v)
}

// StoreMeta writes v as a meta record.
func (s *Store) StoreMeta(ctx context.Context, key string, v any) error {
	return s.storeJSON(ctx, models.ScopeMeta, key, v)
}

// DeleteMeta removes a meta record.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	return s.DeleteRecord(ctx, models.ScopeMeta, key)
}

var _ models.Adapter = (*Store)(nil)
