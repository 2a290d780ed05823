package change

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// versionRef addresses one element version in rollback info.
type versionRef struct {
	Element string `json:"element"`
	Version int    `json:"version"`
}

// CreateElement creates an element with an editing version 1 and, when
// Attach is set, lists it in the children of the parent's newest version.
type CreateElement struct {
	ID         string `json:"id,omitempty"`
	Type       string `json:"type"`
	Parent     string `json:"parent,omitempty"`
	Definition string `json:"definition,omitempty"`
	Language   string `json:"language,omitempty"`
	Attach     bool   `json:"attach,omitempty"`
}

// NewCreateElement returns a creation with a fresh element id. The element
// is attached to parent when one is given. lang, when set, receives empty
// contents.
func NewCreateElement(typ, parent, definition, lang string) *CreateElement {
	return &CreateElement{
		ID:         models.NewID(),
		Type:       typ,
		Parent:     parent,
		Definition: definition,
		Language:   lang,
		Attach:     parent != "",
	}
}

func (c *CreateElement) prepare() {
	if c.ID == "" {
		c.ID = models.NewID()
	}
}

func (c *CreateElement) Kind() Kind { return KindCreateElement }

func (c *CreateElement) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	if !models.IsValidID(c.ID) {
		return Failure("invalid element id %q", c.ID)
	}
	if c.Type == "" {
		return Failure("element type is required")
	}
	exists, err := s.ElementExists(ctx, c.ID)
	if err != nil {
		return failed(nil, err)
	}
	if exists {
		return Failure("element %s already exists", c.ID)
	}
	if c.Parent != "" {
		ok, err := s.ElementExists(ctx, c.Parent)
		if err != nil {
			return failed(nil, err)
		}
		if !ok {
			return Failure("parent element %s does not exist", c.Parent)
		}
	}
	return NewResult()
}

type createInfo struct {
	Element       string `json:"element"`
	Parent        string `json:"parent,omitempty"`
	ParentVersion int    `json:"parent_version,omitempty"`
	Attached      bool   `json:"attached,omitempty"`
}

func (c *CreateElement) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	info := createInfo{Element: c.ID, Parent: c.Parent}
	if c.Attach && c.Parent != "" {
		p, err := s.Element(ctx, c.Parent)
		if err != nil {
			return nil, err
		}
		info.ParentVersion = p.NewestVersionNumber()
		info.Attached = !p.Versions[info.ParentVersion].HasChild(c.ID)
	}
	return marshalInfo(info)
}

func (c *CreateElement) Apply(ctx context.Context, s *Session) (*Result, error) {
	e := &models.Element{
		ID:       c.ID,
		Type:     c.Type,
		Parent:   c.Parent,
		Versions: map[int]*models.ElementVersion{1: models.NewElementVersion(models.StateEditing)},
	}
	e.Versions[1].Definition = c.Definition
	if c.Language != "" {
		e.Versions[1].SetContents(c.Language, models.NewElementContents())
	}

	r := NewResult()
	if c.Attach && c.Parent != "" {
		p, err := s.Element(ctx, c.Parent)
		if err != nil {
			return nil, err
		}
		pv := p.Versions[p.NewestVersionNumber()]
		if !pv.HasChild(c.ID) {
			pv.Children = append(pv.Children, c.ID)
		}
		r.Touch(p)
	}
	s.PutElement(e)
	r.Touch(e)
	r.TouchURL(e.ID)
	r.SetClientInfo(e.ID, "created", true)
	return r, nil
}

func revertCreateElement(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info createInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" {
		return nil, malformed(KindCreateElement, err)
	}
	out := []models.Storable{models.Tombstone{Scope: models.ScopeElements, ID: info.Element}}
	if info.Attached {
		p, v, err := s.Version(ctx, info.Parent, info.ParentVersion)
		switch {
		case err == nil:
			v.Children = removeString(v.Children, info.Element)
			out = append(out, p)
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, models.ErrNoVersion):
		default:
			return nil, err
		}
	}
	s.DropElement(info.Element)
	return out, nil
}

// AddVersion adds a copy of version Base as the next version of an element.
// When Expected is set, validation fails unless it is the number the new
// version receives, so two editors proposing the same version cannot both
// succeed.
type AddVersion struct {
	Element  string `json:"element"`
	Base     int    `json:"base,omitempty"`
	Expected int    `json:"expected,omitempty"`
}

// NewAddVersion returns an AddVersion. base 0 copies the newest version;
// expected 0 skips the version number check.
func NewAddVersion(element string, base, expected int) *AddVersion {
	return &AddVersion{Element: element, Base: base, Expected: expected}
}

func (c *AddVersion) Kind() Kind { return KindAddVersion }

func (c *AddVersion) base(e *models.Element) int {
	if c.Base == 0 {
		return e.NewestVersionNumber()
	}
	return c.Base
}

func (c *AddVersion) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	e, err := s.Element(ctx, c.Element)
	if err != nil {
		return failed(versionFailure(err, c.Element, c.Base))
	}
	base := c.base(e)
	if _, ok := e.Version(base); !ok {
		return Failure("version %d of element %s does not exist", base, c.Element)
	}
	if next := e.NextVersionNumber(); c.Expected != 0 && c.Expected != next {
		return Failure("version %d of element %s already exists, next version is %d", c.Expected, c.Element, next)
	}
	return NewResult()
}

func (c *AddVersion) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	e, err := s.Element(ctx, c.Element)
	if err != nil {
		return nil, err
	}
	return marshalInfo(versionRef{Element: c.Element, Version: e.NextVersionNumber()})
}

func (c *AddVersion) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, err := s.Element(ctx, c.Element)
	if err != nil {
		return nil, err
	}
	base, ok := e.Version(c.base(e))
	if !ok {
		return nil, fmt.Errorf("element %s version %d: %w", c.Element, c.base(e), models.ErrNoVersion)
	}
	next := e.NextVersionNumber()
	nv := base.Clone()
	nv.State = models.StateEditing
	nv.Reachable = true
	e.Versions[next] = nv

	r := NewResult()
	r.Touch(e)
	r.TouchURL(e.ID)
	r.SetClientInfo(e.ID, "version", next)
	return r, nil
}

func revertAddVersion(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info versionRef
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" {
		return nil, malformed(KindAddVersion, err)
	}
	e, err := s.Element(ctx, info.Element)
	if err != nil {
		return nil, err
	}
	delete(e.Versions, info.Version)
	if len(e.Versions) == 0 {
		s.DropElement(e.ID)
		return []models.Storable{models.Tombstone{Scope: models.ScopeElements, ID: e.ID}}, nil
	}
	return []models.Storable{e}, nil
}

// SetState moves a version to another workflow state.
type SetState struct {
	Element string `json:"element"`
	Version int    `json:"version"`
	State   string `json:"state"`
}

func NewSetState(element string, vno int, state string) *SetState {
	return &SetState{Element: element, Version: vno, State: state}
}

func (c *SetState) Kind() Kind { return KindSetState }

func (c *SetState) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	if c.State == "" {
		return Failure("state is required")
	}
	if _, _, err := s.Version(ctx, c.Element, c.Version); err != nil {
		return failed(versionFailure(err, c.Element, c.Version))
	}
	return NewResult()
}

type stateInfo struct {
	versionRef
	State string `json:"state"`
}

func (c *SetState) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	_, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	return marshalInfo(stateInfo{versionRef: versionRef{c.Element, c.Version}, State: v.State})
}

func (c *SetState) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	if v.State == c.State {
		return nil, apperr.ErrNothingToDo
	}
	v.State = c.State
	r := NewResult()
	r.Touch(e)
	// Publishing or deleting changes which versions are reachable.
	r.TouchURL(e.ID)
	return r, nil
}

func revertSetState(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info stateInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" {
		return nil, malformed(KindSetState, err)
	}
	e, v, err := s.Version(ctx, info.Element, info.Version)
	if err != nil {
		return nil, err
	}
	v.State = info.State
	return []models.Storable{e}, nil
}

// SetDefinition sets the template descriptor of a version.
type SetDefinition struct {
	Element    string `json:"element"`
	Version    int    `json:"version"`
	Definition string `json:"definition"`
}

func NewSetDefinition(element string, vno int, definition string) *SetDefinition {
	return &SetDefinition{Element: element, Version: vno, Definition: definition}
}

func (c *SetDefinition) Kind() Kind { return KindSetDefinition }

func (c *SetDefinition) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	if _, _, err := s.Version(ctx, c.Element, c.Version); err != nil {
		return failed(versionFailure(err, c.Element, c.Version))
	}
	return NewResult()
}

type definitionInfo struct {
	versionRef
	Definition string `json:"definition"`
}

func (c *SetDefinition) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	_, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	return marshalInfo(definitionInfo{versionRef: versionRef{c.Element, c.Version}, Definition: v.Definition})
}

func (c *SetDefinition) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	if v.Definition == c.Definition {
		return nil, apperr.ErrNothingToDo
	}
	v.Definition = c.Definition
	r := NewResult()
	r.Touch(e)
	return r, nil
}

func revertSetDefinition(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info definitionInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" {
		return nil, malformed(KindSetDefinition, err)
	}
	e, v, err := s.Version(ctx, info.Element, info.Version)
	if err != nil {
		return nil, err
	}
	v.Definition = info.Definition
	return []models.Storable{e}, nil
}

// SetLink sets a named reference of a version to another element. An empty
// Target removes the reference.
type SetLink struct {
	Element string `json:"element"`
	Version int    `json:"version"`
	Name    string `json:"name"`
	Target  string `json:"target,omitempty"`
}

func NewSetLink(element string, vno int, name, target string) *SetLink {
	return &SetLink{Element: element, Version: vno, Name: name, Target: target}
}

func (c *SetLink) Kind() Kind { return KindSetLink }

func (c *SetLink) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	if c.Name == "" {
		return Failure("link name is required")
	}
	if _, _, err := s.Version(ctx, c.Element, c.Version); err != nil {
		return failed(versionFailure(err, c.Element, c.Version))
	}
	if c.Target != "" {
		ok, err := s.ElementExists(ctx, c.Target)
		if err != nil {
			return failed(nil, err)
		}
		if !ok {
			return Failure("link target %s does not exist", c.Target)
		}
	}
	return NewResult()
}

type linkInfo struct {
	versionRef
	Name    string `json:"name"`
	Target  string `json:"target,omitempty"`
	Present bool   `json:"present"`
}

func (c *SetLink) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	_, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	target, present := v.Links[c.Name]
	return marshalInfo(linkInfo{versionRef: versionRef{c.Element, c.Version}, Name: c.Name, Target: target, Present: present})
}

func (c *SetLink) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, v, err := s.Version(ctx, c.Element, c.Version)
	if err != nil {
		return nil, err
	}
	old, present := v.Links[c.Name]
	if (c.Target == "" && !present) || (present && old == c.Target) {
		return nil, apperr.ErrNothingToDo
	}
	setLink(v, c.Name, c.Target, c.Target != "")
	r := NewResult()
	r.Touch(e)
	return r, nil
}

func setLink(v *models.ElementVersion, name, target string, present bool) {
	if !present {
		delete(v.Links, name)
		if len(v.Links) == 0 {
			v.Links = nil
		}
		return
	}
	if v.Links == nil {
		v.Links = map[string]string{}
	}
	v.Links[name] = target
}

func revertSetLink(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info linkInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" || info.Name == "" {
		return nil, malformed(KindSetLink, err)
	}
	e, v, err := s.Version(ctx, info.Element, info.Version)
	if err != nil {
		return nil, err
	}
	setLink(v, info.Name, info.Target, info.Present)
	return []models.Storable{e}, nil
}

// SetParent moves an element below another one. An empty Parent makes it a
// root element. The children caches are not touched; use AttachChild and
// DetachChild for those.
type SetParent struct {
	Element string `json:"element"`
	Parent  string `json:"parent"`
}

func NewSetParent(element, parent string) *SetParent {
	return &SetParent{Element: element, Parent: parent}
}

func (c *SetParent) Kind() Kind { return KindSetParent }

// maxDepth bounds parent chain walks so corrupt data cannot loop forever.
const maxDepth = 1024

func (c *SetParent) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	if _, err := s.Element(ctx, c.Element); err != nil {
		return failed(versionFailure(err, c.Element, 0))
	}
	if c.Parent == c.Element {
		return Failure("element %s cannot be its own parent", c.Element)
	}
	for p, depth := c.Parent, 0; p != ""; depth++ {
		if p == c.Element || depth > maxDepth {
			return Failure("moving %s below %s would create a cycle", c.Element, c.Parent)
		}
		pe, err := s.Element(ctx, p)
		if errors.Is(err, apperr.ErrNotFound) {
			return Failure("parent element %s does not exist", p)
		}
		if err != nil {
			return failed(nil, err)
		}
		p = pe.Parent
	}
	return NewResult()
}

type parentInfo struct {
	Element string `json:"element"`
	Parent  string `json:"parent"`
}

func (c *SetParent) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	e, err := s.Element(ctx, c.Element)
	if err != nil {
		return nil, err
	}
	return marshalInfo(parentInfo{Element: c.Element, Parent: e.Parent})
}

func (c *SetParent) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, err := s.Element(ctx, c.Element)
	if err != nil {
		return nil, err
	}
	if e.Parent == c.Parent {
		return nil, apperr.ErrNothingToDo
	}
	e.Parent = c.Parent
	if v, ok := e.Version(e.NewestVersionNumber()); ok {
		s.Claim(e, v.Slugs)
	}
	r := NewResult()
	r.Touch(e)
	r.TouchURL(e.ID)
	return r, nil
}

func revertSetParent(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info parentInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" {
		return nil, malformed(KindSetParent, err)
	}
	e, err := s.Element(ctx, info.Element)
	if err != nil {
		return nil, err
	}
	e.Parent = info.Parent
	return []models.Storable{e}, nil
}
