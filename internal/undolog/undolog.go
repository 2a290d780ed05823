// Package undolog persists the reverse operations of committed
// transactions, keyed by transaction id.
//
// Entries live in the undolog scope until the live set grows past the
// rotation threshold; Rotate then moves them into a zstd-compressed archive
// segment under undolog_archive. Load consults live entries first and then
// the archives, newest segment first.
package undolog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/storage"
)

// Action is one reversible step, encoded as the pair [kind, info].
type Action struct {
	Kind change.Kind
	Info json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (a Action) MarshalJSON() ([]byte, error) {
	info := a.Info
	if len(info) == 0 {
		info = json.RawMessage("null")
	}
	return json.Marshal([]any{a.Kind, info})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Action) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("action has %d elements, want 2", len(pair))
	}
	var kind string
	if err := json.Unmarshal(pair[0], &kind); err != nil {
		return fmt.Errorf("action kind: %w", err)
	}
	a.Kind = change.Kind(kind)
	a.Info = pair[1]
	return nil
}

// Entry is the undo record of one transaction. Actions are kept in the
// order the changes were applied and must be reverted back to front.
type Entry struct {
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Actions   []Action  `json:"actions"`
}

// UnmarshalJSON accepts both the object form and the older bare action
// list.
func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var actions []Action
		if err := json.Unmarshal(data, &actions); err != nil {
			return err
		}
		*e = Entry{Actions: actions}
		return nil
	}
	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// DefaultRotateThreshold is the number of live entries that triggers
// rotation.
const DefaultRotateThreshold = 1000

// archiveTimeFormat sorts lexically in time order and only uses
// characters valid in record ids.
const archiveTimeFormat = "20060102T150405.000000000Z"

// Log reads and writes undo entries through a Store.
type Log struct {
	store     *storage.Store
	logger    *slog.Logger
	threshold int
	now       func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu sync.Mutex
	// live counts the live entries; it is seeded from the store on the
	// first append.
	live    int
	counted bool
}

// Option configures a Log.
type Option func(*Log)

// WithRotateThreshold sets the live entry count that triggers rotation.
// Zero or less disables rotation.
func WithRotateThreshold(n int) Option {
	return func(l *Log) { l.threshold = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New returns a Log over store.
func New(store *storage.Store, opts ...Option) (*Log, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("undolog: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("undolog: zstd decoder: %w", err)
	}
	l := &Log{
		store:     store,
		logger:    slog.Default(),
		threshold: DefaultRotateThreshold,
		now:       time.Now,
		enc:       enc,
		dec:       dec,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close releases the compression state.
func (l *Log) Close() error {
	l.dec.Close()
	return l.enc.Close()
}

// Append stores the entry of xid and rotates the log when it has grown past
// the threshold. A failed rotation is logged and does not fail the append.
func (l *Log) Append(ctx context.Context, xid string, e *Entry) error {
	if !models.IsValidID(xid) {
		return fmt.Errorf("undolog: invalid transaction id %q", xid)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("undolog: encode %s: %w", xid, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.StoreRecord(ctx, models.ScopeUndoLog, xid, data); err != nil {
		return fmt.Errorf("undolog: store %s: %w", xid, err)
	}
	if err := l.count(ctx); err != nil {
		l.logger.Warn("undolog: count live entries", slog.String("error", err.Error()))
		return nil
	}
	if l.threshold > 0 && l.live >= l.threshold {
		if _, err := l.rotate(ctx); err != nil {
			l.logger.Warn("undolog: rotation failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// count accounts for one appended entry, listing the scope only the first
// time.
func (l *Log) count(ctx context.Context) error {
	if l.counted {
		l.live++
		return nil
	}
	ids, err := l.store.ListRecords(ctx, models.ScopeUndoLog)
	if err != nil {
		return err
	}
	l.live, l.counted = len(ids), true
	return nil
}

// Load returns the entry of xid. A missing entry fails with
// apperr.ErrUnknownTransaction, an undecodable one with
// apperr.ErrMalformedRollback.
func (l *Log) Load(ctx context.Context, xid string) (*Entry, error) {
	data, err := l.store.LoadRecord(ctx, models.ScopeUndoLog, xid)
	switch {
	case err == nil:
		return decodeEntry(xid, data)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("undolog: load %s: %w", xid, err)
	}

	segments, err := l.store.ListRecords(ctx, models.ScopeUndoArchive)
	if err != nil {
		return nil, fmt.Errorf("undolog: list archives: %w", err)
	}
	for _, name := range slices.Backward(segments) {
		seg, err := l.loadSegment(ctx, name)
		if err != nil {
			return nil, err
		}
		if raw, ok := seg[xid]; ok {
			return decodeEntry(xid, raw)
		}
	}
	return nil, fmt.Errorf("undolog: %s: %w", xid, apperr.ErrUnknownTransaction)
}

func decodeEntry(xid string, data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("undolog: decode %s: %w: %w", xid, apperr.ErrMalformedRollback, err)
	}
	return &e, nil
}

// TransactionIDs returns the ids of the live entries.
func (l *Log) TransactionIDs(ctx context.Context) ([]string, error) {
	return l.store.ListRecords(ctx, models.ScopeUndoLog)
}

// Segments returns the archive segment names, oldest first.
func (l *Log) Segments(ctx context.Context) ([]string, error) {
	return l.store.ListRecords(ctx, models.ScopeUndoArchive)
}

// Rotate moves all live entries into a new archive segment, regardless of
// the threshold, and returns its name. It returns "" when there is nothing
// to rotate.
func (l *Log) Rotate(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotate(ctx)
}

// rotate archives every live entry and resets the live count.
func (l *Log) rotate(ctx context.Context) (string, error) {
	ids, err := l.store.ListRecords(ctx, models.ScopeUndoLog)
	if err != nil {
		return "", fmt.Errorf("undolog: list: %w", err)
	}
	l.live, l.counted = len(ids), true
	if len(ids) == 0 {
		return "", nil
	}

	seg := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		data, err := l.store.LoadRecord(ctx, models.ScopeUndoLog, id)
		if err != nil {
			return "", fmt.Errorf("undolog: rotate %s: %w", id, err)
		}
		seg[id] = data
	}
	raw, err := json.Marshal(seg)
	if err != nil {
		return "", fmt.Errorf("undolog: encode segment: %w", err)
	}

	name := l.now().UTC().Format(archiveTimeFormat)
	if err := l.store.StoreRecord(ctx, models.ScopeUndoArchive, name, l.enc.EncodeAll(raw, nil)); err != nil {
		return "", fmt.Errorf("undolog: store segment %s: %w", name, err)
	}
	// The segment is durable; dropping the live copies can only lose
	// duplicates.
	for _, id := range ids {
		if err := l.store.DeleteRecord(ctx, models.ScopeUndoLog, id); err != nil {
			l.counted = false
			return name, fmt.Errorf("undolog: drop rotated %s: %w", id, err)
		}
	}
	l.live = 0
	l.logger.Info("undolog: rotated", slog.String("segment", name), slog.Int("entries", len(ids)))
	return name, nil
}

func (l *Log) loadSegment(ctx context.Context, name string) (map[string]json.RawMessage, error) {
	data, err := l.store.LoadRecord(ctx, models.ScopeUndoArchive, name)
	if err != nil {
		return nil, fmt.Errorf("undolog: load segment %s: %w", name, err)
	}
	raw, err := l.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("undolog: decompress segment %s: %w: %w", name, apperr.ErrCorruptRecord, err)
	}
	var seg map[string]json.RawMessage
	if err := json.Unmarshal(raw, &seg); err != nil {
		return nil, fmt.Errorf("undolog: decode segment %s: %w: %w", name, apperr.ErrCorruptRecord, err)
	}
	return seg, nil
}
