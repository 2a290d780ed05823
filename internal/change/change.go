// Package change defines the unit of modification of the content store:
// changes, the transactions that group them and the results they produce.
//
// Every change supports the same protocol. Validate checks it against the
// session state without persisting anything. RollbackInfo captures what is
// needed to undo it and must be called before Apply, which mutates the
// session's objects in place. Revert reverses a change from its rollback
// info alone, selected through the Kind tag stored in the undo log.
package change

import (
	"context"
	"fmt"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// Kind tags a change variant in specs and undo log records.
type Kind string

const (
	KindCreateElement   Kind = "create_element"
	KindAddVersion      Kind = "add_version"
	KindElementContents Kind = "element_contents"
	KindCopyContents    Kind = "copy_contents"
	KindSetState        Kind = "set_state"
	KindSetDefinition   Kind = "set_definition"
	KindSetLink         Kind = "set_link"
	KindSetSlugs        Kind = "set_slugs"
	KindAttachChild     Kind = "attach_child"
	KindDetachChild     Kind = "detach_child"
	KindSetParent       Kind = "set_parent"
	KindAddSub          Kind = "add_sub"
	KindRemoveSub       Kind = "remove_sub"
	KindAddFileMeta     Kind = "add_file_meta"
)

// Change is one modification of the content store.
type Change interface {
	Kind() Kind
	// Validate reports whether the change can be applied to the session's
	// current state. preceding holds the changes of the same transaction
	// that come before this one; their effect is already visible in s.
	Validate(ctx context.Context, s *Session, preceding []Change) *Result
	// RollbackInfo captures the state Apply is about to overwrite.
	RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error)
	// Apply mutates the session's objects. It returns apperr.ErrNothingToDo
	// when the change would not alter anything.
	Apply(ctx context.Context, s *Session) (*Result, error)
}

// Transaction is an ordered list of changes and the user that authors them.
type Transaction struct {
	changes []Change
	author  *models.User
}

// NewTransaction returns a transaction of changes in the given order.
func NewTransaction(changes ...Change) *Transaction {
	return &Transaction{changes: slices.Clone(changes)}
}

// Changes returns the changes in order.
func (t *Transaction) Changes() []Change { return slices.Clone(t.changes) }

// Len returns the number of changes.
func (t *Transaction) Len() int { return len(t.changes) }

// SetAuthor assigns the author. It can be called once.
func (t *Transaction) SetAuthor(u *models.User) error {
	if t.author != nil {
		return apperr.ErrAuthorAssigned
	}
	t.author = u
	return nil
}

// Author returns the author, or nil.
func (t *Transaction) Author() *models.User { return t.author }

// Spec is the wire form of a change: its kind and its arguments.
type Spec struct {
	Kind Kind            `json:"kind"`
	Args json.RawMessage `json:"args"`
}

var factories = map[Kind]func() Change{
	KindCreateElement:   func() Change { return &CreateElement{} },
	KindAddVersion:      func() Change { return &AddVersion{} },
	KindElementContents: func() Change { return &SetField{} },
	KindCopyContents:    func() Change { return &CopyContents{} },
	KindSetState:        func() Change { return &SetState{} },
	KindSetDefinition:   func() Change { return &SetDefinition{} },
	KindSetLink:         func() Change { return &SetLink{} },
	KindSetSlugs:        func() Change { return &SetSlugs{} },
	KindAttachChild:     func() Change { return &AttachChild{} },
	KindDetachChild:     func() Change { return &DetachChild{} },
	KindSetParent:       func() Change { return &SetParent{} },
	KindAddSub:          func() Change { return &AddSub{} },
	KindRemoveSub:       func() Change { return &RemoveSub{} },
	KindAddFileMeta:     func() Change { return &AddFileMeta{} },
}

// FromSpec decodes a change from its wire form.
func FromSpec(sp Spec) (Change, error) {
	mk, ok := factories[sp.Kind]
	if !ok {
		return nil, fmt.Errorf("change: unknown kind %q", sp.Kind)
	}
	c := mk()
	if len(sp.Args) > 0 {
		if err := json.Unmarshal(sp.Args, c); err != nil {
			return nil, fmt.Errorf("change: decode %s: %w", sp.Kind, err)
		}
	}
	if p, ok := c.(interface{ prepare() }); ok {
		p.prepare()
	}
	return c, nil
}

// FromSpecs decodes a list of changes into a transaction.
func FromSpecs(specs []Spec) (*Transaction, error) {
	changes := make([]Change, 0, len(specs))
	for i, sp := range specs {
		c, err := FromSpec(sp)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		changes = append(changes, c)
	}
	return NewTransaction(changes...), nil
}

// ToSpec encodes a change into its wire form.
func ToSpec(c Change) (Spec, error) {
	args, err := json.Marshal(c)
	if err != nil {
		return Spec{}, fmt.Errorf("change: encode %s: %w", c.Kind(), err)
	}
	return Spec{Kind: c.Kind(), Args: args}, nil
}

// newerVersionExists reports whether a version newer than vno carries lang.
func newerVersionExists(e *models.Element, vno int, lang string) bool {
	return e.NewestVersionFor(lang) > vno
}

func marshalInfo(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("change: encode rollback info: %w", err)
	}
	return data, nil
}
