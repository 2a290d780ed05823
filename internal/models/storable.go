package models

import "context"

// Record scopes of the key/value backend.
const (
	ScopeElements     = "elements"
	ScopeUsers        = "users"
	ScopeFileMeta     = "filemeta"
	ScopeStamps       = "stamps"
	ScopeMeta         = "meta"
	ScopeUndoLog      = "undolog"
	ScopeUndoArchive  = "undolog_archive"
	MetaURLMappingKey = "url_element_mapping"
)

// RollbackMarkerKey is the meta key recording that xid was rolled back.
func RollbackMarkerKey(xid string) string { return "rolled_back_" + xid }

// RollbackMarker points from a rolled back transaction to the rollback
// that reverted it.
type RollbackMarker struct {
	By string `json:"by"`
}

// Adapter is the write side of the storage layer as seen by Storable
// objects. Each object picks the call that persists it.
type Adapter interface {
	StoreElement(ctx context.Context, e *Element) error
	StoreUser(ctx context.Context, u *User) error
	StoreFileMeta(ctx context.Context, f *FileMeta) error
	DeleteRecord(ctx context.Context, scope, id string) error
}

// Storable is an object the transaction engine can persist.
type Storable interface {
	StorageKey() (scope, id string)
	StoreVia(ctx context.Context, a Adapter) error
}

// Tombstone is a Storable that deletes the record it names. Reverting a
// creation yields a tombstone.
type Tombstone struct {
	Scope string
	ID    string
}

// StorageKey implements Storable.
func (t Tombstone) StorageKey() (string, string) { return t.Scope, t.ID }

// StoreVia implements Storable.
func (t Tombstone) StoreVia(ctx context.Context, a Adapter) error {
	return a.DeleteRecord(ctx, t.Scope, t.ID)
}
