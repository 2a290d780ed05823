package undolog

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/storage"
	"github.com/starford/codex/internal/testutil"
)

func testLog(t *testing.T, threshold int) (*Log, *storage.Store) {
	t.Helper()
	st := testutil.TestStore(t)
	l, err := New(st, WithRotateThreshold(threshold), WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, st
}

func sampleEntry() *Entry {
	return &Entry{
		User:      models.NewID(),
		Timestamp: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
		Actions: []Action{
			{Kind: change.KindAddVersion, Info: json.RawMessage(`{"element":"a","version":2}`)},
			{Kind: change.KindSetState, Info: json.RawMessage(`{"element":"a","version":2,"state":"editing"}`)},
		},
	}
}

func TestLog_AppendLoad(t *testing.T) {
	l, _ := testLog(t, 0)
	ctx := context.Background()
	xid := models.NewID()

	if err := l.Append(ctx, xid, sampleEntry()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := l.Load(ctx, xid)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Actions) != 2 || got.Actions[0].Kind != change.KindAddVersion || got.Actions[1].Kind != change.KindSetState {
		t.Errorf("actions = %+v", got.Actions)
	}
	if !got.Timestamp.Equal(sampleEntry().Timestamp) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}
}

func TestLog_UnknownTransaction(t *testing.T) {
	l, _ := testLog(t, 0)
	if _, err := l.Load(context.Background(), models.NewID()); !errors.Is(err, apperr.ErrUnknownTransaction) {
		t.Errorf("err = %v, want ErrUnknownTransaction", err)
	}
}

func TestLog_InvalidID(t *testing.T) {
	l, _ := testLog(t, 0)
	if err := l.Append(context.Background(), "../x", sampleEntry()); err == nil {
		t.Error("invalid transaction id accepted")
	}
}

func TestEntry_LegacyShape(t *testing.T) {
	l, st := testLog(t, 0)
	ctx := context.Background()
	xid := models.NewID()

	legacy := []byte(`[["set_state",{"element":"a","version":1,"state":"editing"}]]`)
	if err := st.StoreRecord(ctx, models.ScopeUndoLog, xid, legacy); err != nil {
		t.Fatal(err)
	}
	got, err := l.Load(ctx, xid)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.User != "" || len(got.Actions) != 1 || got.Actions[0].Kind != change.KindSetState {
		t.Errorf("legacy entry = %+v", got)
	}
}

func TestEntry_Malformed(t *testing.T) {
	l, st := testLog(t, 0)
	ctx := context.Background()
	xid := models.NewID()

	for _, raw := range []string{`{"actions":[["only-kind"]]}`, `{"actions":[[1,{}]]}`, `not json`} {
		if err := st.StoreRecord(ctx, models.ScopeUndoLog, xid, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		if _, err := l.Load(ctx, xid); !errors.Is(err, apperr.ErrMalformedRollback) {
			t.Errorf("Load(%s) err = %v, want ErrMalformedRollback", raw, err)
		}
	}
}

func TestAction_WireFormat(t *testing.T) {
	data, err := json.Marshal(Action{Kind: change.KindSetParent, Info: json.RawMessage(`{"element":"a"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `["set_parent",{"element":"a"}]` {
		t.Errorf("encoded = %s", data)
	}
}

func TestLog_RotationKeepsEntriesLoadable(t *testing.T) {
	l, _ := testLog(t, 3)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var xids []string
	for i := 0; i < 7; i++ {
		xid := models.NewID()
		xids = append(xids, xid)
		if err := l.Append(ctx, xid, sampleEntry()); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	segs, err := l.Segments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Errorf("segments = %v, want 2", segs)
	}
	live, _ := l.TransactionIDs(ctx)
	if len(live) != 1 {
		t.Errorf("live entries = %d, want 1", len(live))
	}
	for _, xid := range xids {
		if _, err := l.Load(ctx, xid); err != nil {
			t.Errorf("Load %s after rotation: %v", xid, err)
		}
	}
}

func TestLog_ForcedRotate(t *testing.T) {
	l, _ := testLog(t, 0)
	ctx := context.Background()

	name, err := l.Rotate(ctx)
	if err != nil || name != "" {
		t.Fatalf("empty rotate = %q, %v", name, err)
	}

	xid := models.NewID()
	_ = l.Append(ctx, xid, sampleEntry())
	name, err = l.Rotate(ctx)
	if err != nil || name == "" {
		t.Fatalf("Rotate = %q, %v", name, err)
	}
	if _, err := l.Load(ctx, xid); err != nil {
		t.Errorf("Load from archive: %v", err)
	}
}

func TestLog_RotationFollowsAppendCount(t *testing.T) {
	l, st := testLog(t, 3)
	ctx := context.Background()

	// An entry left by an earlier process is counted once, on the first
	// append.
	old := models.NewID()
	data, _ := json.Marshal(sampleEntry())
	if err := st.StoreRecord(ctx, models.ScopeUndoLog, old, data); err != nil {
		t.Fatal(err)
	}
	a := models.NewID()
	if err := l.Append(ctx, a, sampleEntry()); err != nil {
		t.Fatal(err)
	}
	if segs, _ := l.Segments(ctx); len(segs) != 0 {
		t.Fatalf("rotated below the threshold: %v", segs)
	}

	// Records dropped behind the log's back are not noticed: the count
	// alone decides, so the scope is not listed on every append.
	if err := st.DeleteRecord(ctx, models.ScopeUndoLog, old); err != nil {
		t.Fatal(err)
	}
	b := models.NewID()
	if err := l.Append(ctx, b, sampleEntry()); err != nil {
		t.Fatal(err)
	}
	segs, err := l.Segments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %v, want 1", segs)
	}
	if live, _ := l.TransactionIDs(ctx); len(live) != 0 {
		t.Errorf("live entries after rotation = %v", live)
	}
	for _, xid := range []string{a, b} {
		if _, err := l.Load(ctx, xid); err != nil {
			t.Errorf("Load %s: %v", xid, err)
		}
	}

	// The count restarts after a rotation.
	if err := l.Append(ctx, models.NewID(), sampleEntry()); err != nil {
		t.Fatal(err)
	}
	if segs, _ := l.Segments(ctx); len(segs) != 1 {
		t.Errorf("segments after one more append = %v", segs)
	}
}
