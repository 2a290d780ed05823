package change

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// AddFileMeta stores the metadata of an uploaded file, replacing earlier
// metadata with the same id.
type AddFileMeta struct {
	File *models.FileMeta `json:"file"`
}

// NewAddFileMeta returns an AddFileMeta. A missing id or creation time is
// filled in.
func NewAddFileMeta(f *models.FileMeta) *AddFileMeta {
	c := &AddFileMeta{File: f}
	c.prepare()
	return c
}

func (c *AddFileMeta) prepare() {
	if c.File == nil {
		return
	}
	if c.File.ID == "" {
		c.File.ID = models.NewID()
	}
	if c.File.CreatedAt.IsZero() {
		c.File.CreatedAt = time.Now().UTC()
	}
}

func (c *AddFileMeta) Kind() Kind { return KindAddFileMeta }

func (c *AddFileMeta) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	if c.File == nil {
		return Failure("file metadata is required")
	}
	if !models.IsValidID(c.File.ID) {
		return Failure("invalid file id %q", c.File.ID)
	}
	if c.File.Name == "" {
		return Failure("file name is required")
	}
	if c.File.Element != "" {
		ok, err := s.ElementExists(ctx, c.File.Element)
		if err != nil {
			return failed(nil, err)
		}
		if !ok {
			return Failure("element %s of file %s does not exist", c.File.Element, c.File.ID)
		}
	}
	return NewResult()
}

type fileInfo struct {
	File     string           `json:"file"`
	Previous *models.FileMeta `json:"previous,omitempty"`
}

func (c *AddFileMeta) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	prev, err := s.FileMeta(ctx, c.File.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return marshalInfo(fileInfo{File: c.File.ID, Previous: prev})
}

func (c *AddFileMeta) Apply(ctx context.Context, s *Session) (*Result, error) {
	f := *c.File
	if prev, err := s.FileMeta(ctx, f.ID); err == nil && *prev == f {
		return nil, apperr.ErrNothingToDo
	}
	s.PutFileMeta(&f)
	r := NewResult()
	r.Touch(&f)
	return r, nil
}

func revertAddFileMeta(_ context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info fileInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.File == "" {
		return nil, malformed(KindAddFileMeta, err)
	}
	if info.Previous == nil {
		s.DropFileMeta(info.File)
		return []models.Storable{models.Tombstone{Scope: models.ScopeFileMeta, ID: info.File}}, nil
	}
	s.PutFileMeta(info.Previous)
	return []models.Storable{info.Previous}, nil
}
