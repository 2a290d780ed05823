package models

import (
	"context"
	"time"
)

// FileMeta describes an uploaded blob. The blob itself lives in an external
// blob store; only its metadata is versioned here.
type FileMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum,omitempty"`
	Element   string    `json:"element,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StorageKey implements Storable.
func (f *FileMeta) StorageKey() (string, string) { return ScopeFileMeta, f.ID }

// StoreVia implements Storable.
func (f *FileMeta) StoreVia(ctx context.Context, a Adapter) error {
	return a.StoreFileMeta(ctx, f)
}
