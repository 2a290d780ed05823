package change

import (
	"context"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// AttachChild lists Child in the children cache of a version of Element at
// Position; -1 appends. It does not change the child's parent pointer.
type AttachChild struct {
	Element  string `json:"element"`
	Version  int    `json:"version"`
	Child    string `json:"child"`
	Position int    `json:"position"`
}

func NewAttachChild(parent string, vno int, child string, position int) *AttachChild {
	return &AttachChild{Element: parent, Version: vno, Child: child, Position: position}
}

func (c *AttachChild) Kind() Kind { return KindAttachChild }

func (c *AttachChild) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	_, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return failed(versionFailure(err, c.Element, c.Version))
	}
	if c.Child == c.Element {
		return Failure("element %s cannot be its own child", c.Element)
	}
	ok, err := s.ElementExists(ctx, c.Child)
	if err != nil {
		return failed(nil, err)
	}
	if !ok {
		return Failure("child element %s does not exist", c.Child)
	}
	if c.Position < -1 || c.Position > len(v.Children) {
		return Failure("child position %d out of range", c.Position)
	}
	return NewResult()
}

type childrenInfo struct {
	versionRef
	Children []string `json:"children,omitempty"`
	Child    string   `json:"child"`
}

func captureChildren(ctx context.Context, s *Session, element string, vno int, child string) (json.RawMessage, error) {
	_, v, err := s.Version(ctx, element, vno)
	if err != nil {
		return nil, err
	}
	return marshalInfo(childrenInfo{versionRef: versionRef{element, vno}, Children: v.Children, Child: child})
}

func (c *AttachChild) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	return captureChildren(ctx, s, c.Element, c.Version, c.Child)
}

func (c *AttachChild) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	if v.HasChild(c.Child) {
		return nil, apperr.ErrNothingToDo
	}
	pos := c.Position
	if pos < 0 || pos > len(v.Children) {
		pos = len(v.Children)
	}
	v.Children = slices.Insert(v.Children, pos, c.Child)

	r := NewResult()
	r.Touch(e)
	r.TouchURL(c.Child)
	return r, nil
}

// DetachChild removes Child from the children cache of a version of
// Element.
type DetachChild struct {
	Element string `json:"element"`
	Version int    `json:"version"`
	Child   string `json:"child"`
}

func NewDetachChild(parent string, vno int, child string) *DetachChild {
	return &DetachChild{Element: parent, Version: vno, Child: child}
}

func (c *DetachChild) Kind() Kind { return KindDetachChild }

func (c *DetachChild) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	if _, _, err := s.Version(ctx, c.Element, c.Version); err != nil {
		return failed(versionFailure(err, c.Element, c.Version))
	}
	return NewResult()
}

func (c *DetachChild) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	return captureChildren(ctx, s, c.Element, c.Version, c.Child)
}

func (c *DetachChild) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	if !v.HasChild(c.Child) {
		return nil, apperr.ErrNothingToDo
	}
	v.Children = removeString(v.Children, c.Child)

	r := NewResult()
	r.Touch(e)
	r.TouchURL(c.Child)
	return r, nil
}

func revertChildren(kind Kind) RevertFunc {
	return func(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
		var info childrenInfo
		if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" {
			return nil, malformed(kind, err)
		}
		e, v, err := s.Version(ctx, info.Element, info.Version)
		if err != nil {
			return nil, err
		}
		v.Children = info.Children
		return []models.Storable{e}, nil
	}
}
