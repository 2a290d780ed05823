package storage

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback receives the ids of records that changed on disk, grouped
// by scope. It is called from the watcher goroutine.
type ChangeCallback func(scope string, ids []string)

// watchDebounce is how long the watcher collects events before flushing a
// batch to the callback.
const watchDebounce = 200 * time.Millisecond

// Watch observes the scope directories of an FS backend and reports record
// files that were created, rewritten, removed or renamed until ctx is
// cancelled. Events are debounced and deduplicated per flush.
//
// Writes made through this process's Store are reported too; consumers must
// tolerate redundant notifications.
func Watch(ctx context.Context, fsb *FS, scopes []string, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, scope := range scopes {
		dir := fsb.ScopeDir(scope)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := w.Add(dir); err != nil {
			return err
		}
	}

	logger.Info("watcher: started", slog.String("root", fsb.Root()), slog.Any("scopes", scopes))

	pending := map[string][]string{}
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(watchDebounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(watchDebounce)
		}
	}

	flush := func() {
		for scope, ids := range pending {
			slices.Sort(ids)
			logger.Debug("watcher: flush", slog.String("scope", scope), slog.Int("records", len(ids)))
			if cb != nil {
				cb(scope, ids)
			}
		}
		pending = map[string][]string{}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			scope, id, ok := fsb.IDFromPath(ev.Name)
			if !ok {
				continue
			}
			if !slices.Contains(pending[scope], id) {
				pending[scope] = append(pending[scope], id)
			}
			scheduleFlush()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
