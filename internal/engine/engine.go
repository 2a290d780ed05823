// Package engine validates, applies and rolls back transactions of
// changes, keeping the undo log, the audit stamps and the URL index in step
// with the stored elements.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/storage"
	"github.com/starford/codex/internal/undolog"
	"github.com/starford/codex/internal/urlindex"
)

// Visitor sees every object before it is persisted. Returning an error
// aborts persistence.
type Visitor func(ctx context.Context, st models.Storable) error

// Engine runs transactions against a Store.
//
// Apply, Commit and Rollback are serialized within the process. Nothing
// guards against another process writing the same backend between a
// validation and the matching apply.
type Engine struct {
	store  *storage.Store
	index  *urlindex.Index
	undo   *undolog.Log
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(en *Engine) { en.logger = l }
}

// WithClock replaces time.Now for stamps and undo entries.
func WithClock(now func() time.Time) Option {
	return func(en *Engine) { en.now = now }
}

// New returns an Engine.
func New(store *storage.Store, index *urlindex.Index, undo *undolog.Log, opts ...Option) *Engine {
	en := &Engine{
		store:  store,
		index:  index,
		undo:   undo,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// ValidateTransaction checks every change in order without persisting
// anything. Each change is validated against the stored state plus the
// effect of the valid changes before it. A missing author fails with
// apperr.ErrMissingAuthor; every other problem is reported in the result.
func (en *Engine) ValidateTransaction(ctx context.Context, txn *change.Transaction) (*change.Result, error) {
	if txn.Author() == nil {
		return nil, apperr.ErrMissingAuthor
	}
	r := change.NewResult()
	if txn.Author().IsAnonymous() {
		r.AddError("anonymous users cannot change content")
	}

	s := change.NewSession(en.store, en.index)
	changes := txn.Changes()
	for i, c := range changes {
		cr := c.Validate(ctx, s, changes[:i])
		if err := r.Merge(cr); err != nil {
			return nil, err
		}
		if !cr.Success() {
			continue
		}
		// Simulate the change so later ones see its effect.
		if _, err := c.Apply(ctx, s); err != nil && !errors.Is(err, apperr.ErrNothingToDo) {
			r.AddError(fmt.Sprintf("change %d (%s): %v", i, c.Kind(), err))
		}
	}
	return r, nil
}

// ApplyTransaction applies a validated transaction. It does not validate
// again.
//
// The undo entry is written before any object, so everything that reaches
// the backend can be rolled back. When every change is a no-op nothing is
// written and apperr.ErrNothingToDo is returned with the result.
func (en *Engine) ApplyTransaction(ctx context.Context, txn *change.Transaction, visit Visitor) (*change.Result, error) {
	if txn.Author() == nil {
		return nil, apperr.ErrMissingAuthor
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.apply(ctx, txn, visit)
}

// Commit validates and applies txn as one serialized step. A failed
// validation is returned as an unsuccessful result without error.
func (en *Engine) Commit(ctx context.Context, txn *change.Transaction, visit Visitor) (*change.Result, error) {
	en.mu.Lock()
	defer en.mu.Unlock()

	r, err := en.ValidateTransaction(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !r.Success() {
		en.logger.Info("engine: transaction rejected",
			slog.String("user", txn.Author().ID), slog.Any("errors", r.Errors()))
		return r, nil
	}
	return en.apply(ctx, txn, visit)
}

func (en *Engine) apply(ctx context.Context, txn *change.Transaction, visit Visitor) (*change.Result, error) {
	author := txn.Author()
	s := change.NewSession(en.store, en.index)
	r := change.NewResult()

	var actions []undolog.Action
	for i, c := range txn.Changes() {
		info, err := c.RollbackInfo(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("engine: change %d (%s): rollback info: %w", i, c.Kind(), err)
		}
		cr, err := c.Apply(ctx, s)
		if errors.Is(err, apperr.ErrNothingToDo) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("engine: change %d (%s): %w", i, c.Kind(), err)
		}
		actions = append(actions, undolog.Action{Kind: c.Kind(), Info: info})
		if err := r.Merge(cr); err != nil {
			return nil, err
		}
	}
	if len(actions) == 0 {
		r.AddInfo("nothing to do")
		return r, apperr.ErrNothingToDo
	}

	for _, st := range r.Storables() {
		if e, ok := st.(*models.Element); ok {
			e.MarkUnreachableVersions()
		}
	}

	xid := models.NewID()
	if err := r.SetTransactionID(xid); err != nil {
		return nil, err
	}
	ts := en.now().UTC()
	if err := en.undo.Append(ctx, xid, &undolog.Entry{User: author.ID, Timestamp: ts, Actions: actions}); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if err := en.persist(ctx, r.Storables(), visit); err != nil {
		return r, fmt.Errorf("engine: transaction %s partially persisted: %w", xid, err)
	}
	if err := en.index.UpdateURLMappingFor(ctx, r.TouchedURLs()); err != nil {
		return r, fmt.Errorf("engine: transaction %s: %w", xid, err)
	}
	stamp := &models.Stamp{
		ID:        xid,
		Kind:      models.StampApply,
		User:      author.ID,
		Timestamp: ts,
		Elements:  r.TouchedElements(),
	}
	if err := en.store.StoreStamp(ctx, stamp); err != nil {
		return r, fmt.Errorf("engine: transaction %s: stamp: %w", xid, err)
	}

	en.logger.Info("engine: transaction applied",
		slog.String("xid", xid),
		slog.String("user", author.ID),
		slog.Int("changes", len(actions)),
		slog.Int("objects", len(r.Storables())),
	)
	return r, nil
}

func (en *Engine) persist(ctx context.Context, objs []models.Storable, visit Visitor) error {
	for _, st := range objs {
		scope, id := st.StorageKey()
		if visit != nil {
			if err := visit(ctx, st); err != nil {
				return fmt.Errorf("visit %s/%s: %w", scope, id, err)
			}
		}
		if err := st.StoreVia(ctx, en.store); err != nil {
			return fmt.Errorf("store %s/%s: %w", scope, id, err)
		}
	}
	return nil
}

// RollbackTransaction reverts the transaction xid. Its actions are reverted
// back to front against one session, so several changes of the same object
// unwind in order; each resulting object is then persisted once. by may be
// nil when the rollback is not attributed to a user. A transaction is
// rolled back at most once; a repeat fails with apperr.ErrAlreadyRolledBack.
func (en *Engine) RollbackTransaction(ctx context.Context, xid string, by *models.User) (*change.Result, error) {
	if !models.IsValidID(xid) {
		return nil, fmt.Errorf("engine: rollback %q: %w", xid, apperr.ErrUnknownTransaction)
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	entry, err := en.undo.Load(ctx, xid)
	if err != nil {
		return nil, fmt.Errorf("engine: rollback: %w", err)
	}
	var marker models.RollbackMarker
	switch err := en.store.LoadMeta(ctx, models.RollbackMarkerKey(xid), &marker); {
	case err == nil:
		return nil, fmt.Errorf("engine: rollback %s: reverted by %s: %w", xid, marker.By, apperr.ErrAlreadyRolledBack)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("engine: rollback %s: %w", xid, err)
	}

	type key struct{ scope, id string }
	s := change.NewSession(en.store, en.index)
	objs := map[key]models.Storable{}
	var order []key
	for i := len(entry.Actions) - 1; i >= 0; i-- {
		a := entry.Actions[i]
		reverted, err := change.Revert(ctx, s, a.Kind, a.Info)
		if err != nil {
			return nil, fmt.Errorf("engine: rollback %s action %d (%s): %w", xid, i, a.Kind, err)
		}
		for _, st := range reverted {
			scope, id := st.StorageKey()
			k := key{scope, id}
			if _, seen := objs[k]; !seen {
				order = append(order, k)
			}
			objs[k] = st
		}
	}

	r := change.NewResult()
	var stored []models.Storable
	for _, k := range order {
		st := objs[k]
		if e, ok := st.(*models.Element); ok {
			e.MarkUnreachableVersions()
		}
		stored = append(stored, st)
		r.Touch(st)
		if k.scope == models.ScopeElements {
			r.TouchURL(k.id)
		}
	}

	rxid := models.NewID()
	if err := r.SetTransactionID(rxid); err != nil {
		return nil, err
	}
	if err := en.persist(ctx, stored, nil); err != nil {
		return r, fmt.Errorf("engine: rollback %s partially persisted: %w", xid, err)
	}
	if err := en.store.StoreMeta(ctx, models.RollbackMarkerKey(xid), models.RollbackMarker{By: rxid}); err != nil {
		return r, fmt.Errorf("engine: rollback %s: marker: %w", xid, err)
	}
	if err := en.index.UpdateURLMappingFor(ctx, r.TouchedURLs()); err != nil {
		return r, fmt.Errorf("engine: rollback %s: %w", xid, err)
	}

	var user string
	if by != nil {
		user = by.ID
	}
	stamp := &models.Stamp{
		ID:        rxid,
		Kind:      models.StampRollback,
		User:      user,
		Timestamp: en.now().UTC(),
		Elements:  r.TouchedElements(),
		Reverts:   xid,
	}
	if err := en.store.StoreStamp(ctx, stamp); err != nil {
		return r, fmt.Errorf("engine: rollback %s: stamp: %w", xid, err)
	}

	en.logger.Info("engine: transaction rolled back",
		slog.String("xid", xid),
		slog.String("rollback_xid", rxid),
		slog.Int("actions", len(entry.Actions)),
		slog.Int("objects", len(stored)),
	)
	return r, nil
}

// Stamp returns the audit stamp of a transaction.
func (en *Engine) Stamp(ctx context.Context, xid string) (*models.Stamp, error) {
	st, err := en.store.LoadStamp(ctx, xid)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("engine: stamp %s: %w", xid, apperr.ErrUnknownTransaction)
	}
	return st, err
}

// UndoEntry returns the undo entry of a transaction.
func (en *Engine) UndoEntry(ctx context.Context, xid string) (*undolog.Entry, error) {
	return en.undo.Load(ctx, xid)
}

// PruneUnreachableVersions deletes every version that is no longer
// reachable and rebuilds the URL index. It returns the removed version
// numbers per element. Rolling back a transaction that touched a pruned
// version fails afterwards.
func (en *Engine) PruneUnreachableVersions(ctx context.Context) (map[string][]int, error) {
	en.mu.Lock()
	defer en.mu.Unlock()

	ids, err := en.store.EnumAllElementIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: prune: %w", err)
	}
	pruned := map[string][]int{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		e, err := en.store.LoadElement(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.ErrCorruptRecord) {
				en.logger.Warn("engine: prune: skipping unreadable element", slog.String("id", id))
				continue
			}
			return pruned, fmt.Errorf("engine: prune %s: %w", id, err)
		}
		unreachable := e.MarkUnreachableVersions()
		if len(unreachable) == 0 {
			continue
		}
		for _, vno := range unreachable {
			delete(e.Versions, vno)
		}
		if err := en.store.StoreElement(ctx, e); err != nil {
			return pruned, fmt.Errorf("engine: prune %s: %w", id, err)
		}
		pruned[id] = unreachable
	}
	if _, err := en.index.CreateURLMapping(ctx); err != nil {
		return pruned, fmt.Errorf("engine: prune: %w", err)
	}
	en.logger.Info("engine: pruned unreachable versions", slog.Int("elements", len(pruned)))
	return pruned, nil
}
