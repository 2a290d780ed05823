// Package cms is the service facade over the content store used by the
// HTTP, MCP and command line surfaces.
package cms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/checksum"
	"github.com/starford/codex/internal/engine"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/sse"
	"github.com/starford/codex/internal/storage"
	"github.com/starford/codex/internal/urlindex"
)

// Publisher receives transaction events. *sse.Broker implements it.
type Publisher interface {
	PublishTransaction(kind string, data sse.TransactionData, urlsChanged bool)
}

// ElementDetail is the full representation of an element.
type ElementDetail struct {
	Element *models.Element     `json:"element"`
	URLs    []models.URLPointer `json:"urls"`
	ETag    string              `json:"etag"`
}

// TransactionDetail describes a committed or rolled back transaction.
type TransactionDetail struct {
	Stamp   *models.Stamp `json:"stamp"`
	Changes []change.Kind `json:"changes,omitempty"`
}

// Service coordinates the engine, the URL index and the store.
type Service struct {
	store   *storage.Store
	index   *urlindex.Index
	engine  *engine.Engine
	events  Publisher
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the receiver of transaction events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics sets the metrics to update.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new content service.
func NewService(store *storage.Store, index *urlindex.Index, en *engine.Engine, opts ...Option) *Service {
	s := &Service{store: store, index: index, engine: en, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Commit decodes specs into a transaction authored by user and commits it.
// Undecodable specs fail with apperr.ErrInvalidInput. A transaction that
// changes nothing yields a successful result without transaction id.
func (s *Service) Commit(ctx context.Context, user *models.User, specs []change.Spec) (*change.Result, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("cms: commit: no changes: %w", apperr.ErrInvalidInput)
	}
	txn, err := change.FromSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("cms: commit: %w: %w", apperr.ErrInvalidInput, err)
	}
	if err := txn.SetAuthor(user); err != nil {
		return nil, err
	}
	return s.CommitTransaction(ctx, txn)
}

// CommitTransaction commits a transaction that already carries its author.
func (s *Service) CommitTransaction(ctx context.Context, txn *change.Transaction) (*change.Result, error) {
	start := time.Now()
	r, err := s.engine.Commit(ctx, txn, nil)
	s.metrics.observeCommit(time.Since(start).Seconds())

	switch {
	case errors.Is(err, apperr.ErrNothingToDo):
		s.metrics.count(OutcomeNoop)
		return r, nil
	case err != nil:
		s.metrics.count(OutcomeFailed)
		return r, err
	case !r.Success():
		s.metrics.count(OutcomeFailed)
		return r, nil
	}
	s.metrics.count(OutcomeCommitted)
	s.publish(sse.KindApplied, r, "")
	return r, nil
}

// Rollback reverts transaction xid on behalf of user.
func (s *Service) Rollback(ctx context.Context, xid string, user *models.User) (*change.Result, error) {
	r, err := s.engine.RollbackTransaction(ctx, xid, user)
	if err != nil {
		return r, err
	}
	s.metrics.count(OutcomeRolledBack)
	s.publish(sse.KindRolledBack, r, xid)
	return r, nil
}

func (s *Service) publish(kind string, r *change.Result, reverts string) {
	if s.events == nil {
		return
	}
	s.events.PublishTransaction(kind, sse.TransactionData{
		XID:      r.TransactionID(),
		Reverts:  reverts,
		Elements: r.TouchedElements(),
	}, len(r.TouchedURLs()) > 0)
}

// Transaction returns the stamp of xid and, while its undo entry is still
// available, the kinds of its changes.
func (s *Service) Transaction(ctx context.Context, xid string) (*TransactionDetail, error) {
	stamp, err := s.engine.Stamp(ctx, xid)
	if err != nil {
		return nil, err
	}
	d := &TransactionDetail{Stamp: stamp}
	if stamp.Kind != models.StampApply {
		return d, nil
	}
	entry, err := s.engine.UndoEntry(ctx, xid)
	switch {
	case err == nil:
		for _, a := range entry.Actions {
			d.Changes = append(d.Changes, a.Kind)
		}
	case errors.Is(err, apperr.ErrUnknownTransaction), errors.Is(err, apperr.ErrMalformedRollback):
		s.logger.Warn("cms: undo entry unavailable", slog.String("xid", xid), slog.String("error", err.Error()))
	default:
		return nil, err
	}
	return d, nil
}

// User returns the stored user id. An empty id yields the anonymous user.
func (s *Service) User(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return models.Anonymous(), nil
	}
	if !models.IsValidID(id) {
		return nil, fmt.Errorf("cms: user %q: %w", id, apperr.ErrNotFound)
	}
	return s.store.LoadUser(ctx, id)
}

// RegisterUser stores u, assigning an id when it has none.
func (s *Service) RegisterUser(ctx context.Context, u *models.User) error {
	if u.Name == "" {
		return fmt.Errorf("cms: user name is required: %w", apperr.ErrInvalidInput)
	}
	if u.ID == "" {
		u.ID = models.NewID()
	}
	return s.store.StoreUser(ctx, u)
}

// Resolve returns the pointer owning url.
func (s *Service) Resolve(ctx context.Context, url string) (models.URLPointer, error) {
	return s.index.LoadURLPointerByURL(ctx, url)
}

// ElementURLs returns the URLs owned by element id.
func (s *Service) ElementURLs(ctx context.Context, id string) ([]models.URLPointer, error) {
	ok, err := s.store.ElementExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cms: element %s: %w", id, apperr.ErrNotFound)
	}
	ptrs, err := s.index.LoadURLPointersByElement(ctx, id)
	if err != nil {
		return nil, err
	}
	if ptrs == nil {
		ptrs = []models.URLPointer{}
	}
	return ptrs, nil
}

// GetElement returns an element with its URLs and an entity tag of its
// stored record.
func (s *Service) GetElement(ctx context.Context, id string) (*ElementDetail, error) {
	if !models.IsValidID(id) {
		return nil, fmt.Errorf("cms: element %q: %w", id, apperr.ErrNotFound)
	}
	data, err := s.store.LoadRecord(ctx, models.ScopeElements, id)
	if err != nil {
		return nil, err
	}
	var e models.Element
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("cms: element %s: %w: %w", id, apperr.ErrCorruptRecord, err)
	}
	urls, err := s.ElementURLs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ElementDetail{Element: &e, URLs: urls, ETag: checksum.Sum(data)}, nil
}

// CheckSlugs reports slug conflicts below parent, ignoring element existing.
func (s *Service) CheckSlugs(ctx context.Context, parent string, slugs []models.Slug, existing string) ([]urlindex.Conflict, error) {
	conflicts, err := s.index.CheckSlugs(ctx, parent, models.NormalizeSlugs(slugs), existing)
	if err != nil {
		return nil, err
	}
	if conflicts == nil {
		conflicts = []urlindex.Conflict{}
	}
	return conflicts, nil
}

// SuggestSlug returns a free variant of slug below parent.
func (s *Service) SuggestSlug(ctx context.Context, parent string, slug models.Slug, existing string) (string, error) {
	return s.index.SuggestSlug(ctx, parent, slug, existing)
}

// RebuildURLs drops cached records and rebuilds the URL index. It returns
// the number of indexed URLs.
func (s *Service) RebuildURLs(ctx context.Context) (int, error) {
	if err := s.index.RecreateCacheData(ctx); err != nil {
		return 0, err
	}
	s.metrics.rebuilt()
	m, err := s.index.URLMapping(ctx)
	if err != nil {
		return 0, err
	}
	return m.Len(), nil
}

// Prune removes unreachable versions.
func (s *Service) Prune(ctx context.Context) (map[string][]int, error) {
	pruned, err := s.engine.PruneUnreachableVersions(ctx)
	if err != nil {
		return pruned, err
	}
	s.metrics.rebuilt()
	return pruned, nil
}

// HandleStorageChange is the storage watcher callback. It drops the cached
// records and refreshes the URLs of changed elements.
func (s *Service) HandleStorageChange(ctx context.Context, scope string, ids []string) {
	for _, id := range ids {
		s.store.Invalidate(scope, id)
	}
	switch scope {
	case models.ScopeElements:
		if err := s.index.UpdateURLMappingFor(ctx, ids); err != nil {
			s.logger.Error("cms: refresh urls after external change", slog.String("error", err.Error()))
			return
		}
		s.logger.Info("cms: external element change", slog.Int("elements", len(ids)))
	case models.ScopeMeta:
		s.logger.Debug("cms: external meta change", slog.Any("keys", ids))
	}
}
