package change

import (
	"context"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/models"
)

// checkContentsTarget validates that lang exists in version vno of element
// and that no newer version carries lang. Content is only ever edited in
// the newest version of its language.
func checkContentsTarget(ctx context.Context, s *Session, element string, vno int, lang string) (*models.ElementVersion, *Result) {
	e, v, err := s.Version(ctx, element, vno)
	if err != nil {
		return nil, failed(versionFailure(err, element, vno))
	}
	if !v.HasLanguage(lang) {
		return nil, Failure("language %s does not exist in version %d of element %s", lang, vno, element)
	}
	if newerVersionExists(e, vno, lang) {
		return nil, Failure("newer version exists for language %s of element %s", lang, element)
	}
	return v, nil
}

func contentsOf(ctx context.Context, s *Session, element string, vno int, lang string) (*models.Element, *models.ElementContents, error) {
	e, v, err := s.Version(ctx, element, vno)
	if err != nil {
		return nil, nil, err
	}
	c := v.ContentsFor(lang)
	if c == nil {
		return nil, nil, fmt.Errorf("element %s version %d language %s: %w", element, vno, lang, apperr.ErrNotFound)
	}
	return e, c, nil
}

// SetField sets one field of the contents of a (version, language) pair.
// Path is a sequence of (sub name, index) pairs followed by the field name.
type SetField struct {
	Element  string   `json:"element"`
	Version  int      `json:"version"`
	Language string   `json:"language"`
	Path     []string `json:"path"`
	Value    any      `json:"value"`
}

func NewSetField(element string, vno int, lang string, path []string, value any) *SetField {
	return &SetField{Element: element, Version: vno, Language: lang, Path: path, Value: value}
}

func (c *SetField) Kind() Kind { return KindElementContents }

func (c *SetField) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	v, fail := checkContentsTarget(ctx, s, c.Element, c.Version, c.Language)
	if fail != nil {
		return fail
	}
	if err := v.ContentsFor(c.Language).Clone().Set(c.Path, c.Value); err != nil {
		return Failure("cannot set %v in element %s: %v", c.Path, c.Element, err)
	}
	return NewResult()
}

type fieldInfo struct {
	versionRef
	Language string   `json:"language"`
	Path     []string `json:"path"`
	Value    any      `json:"value,omitempty"`
	Present  bool     `json:"present"`
}

func (c *SetField) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	_, contents, err := contentsOf(ctx, s, c.Element, c.Version, c.Language)
	if err != nil {
		return nil, err
	}
	old, present, err := contents.Get(c.Path)
	if err != nil {
		return nil, err
	}
	return marshalInfo(fieldInfo{
		versionRef: versionRef{c.Element, c.Version},
		Language:   c.Language,
		Path:       c.Path,
		Value:      old,
		Present:    present,
	})
}

func (c *SetField) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, contents, err := contentsOf(ctx, s, c.Element, c.Version, c.Language)
	if err != nil {
		return nil, err
	}
	old, present, err := contents.Get(c.Path)
	if err != nil {
		return nil, err
	}
	if present && reflect.DeepEqual(old, c.Value) {
		return nil, apperr.ErrNothingToDo
	}
	if err := contents.Set(c.Path, c.Value); err != nil {
		return nil, err
	}
	r := NewResult()
	r.Touch(e)
	return r, nil
}

func revertSetField(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
	var info fieldInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" || len(info.Path) == 0 {
		return nil, malformed(KindElementContents, err)
	}
	e, contents, err := contentsOf(ctx, s, info.Element, info.Version, info.Language)
	if err != nil {
		return nil, err
	}
	if info.Present {
		err = contents.Set(info.Path, info.Value)
	} else {
		err = contents.Unset(info.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrMalformedRollback, err)
	}
	return []models.Storable{e}, nil
}

// languageInfo restores the whole contents of one language. A nil Contents
// means the language did not exist.
type languageInfo struct {
	versionRef
	Language string                  `json:"language"`
	Contents *models.ElementContents `json:"contents,omitempty"`
}

func captureLanguage(ctx context.Context, s *Session, element string, vno int, lang string) (json.RawMessage, error) {
	_, v, err := s.Version(ctx, element, vno)
	if err != nil {
		return nil, err
	}
	return marshalInfo(languageInfo{
		versionRef: versionRef{element, vno},
		Language:   lang,
		Contents:   v.ContentsFor(lang).Clone(),
	})
}

func revertLanguage(kind Kind) RevertFunc {
	return func(ctx context.Context, s *Session, raw json.RawMessage) ([]models.Storable, error) {
		var info languageInfo
		if err := json.Unmarshal(raw, &info); err != nil || info.Element == "" || info.Language == "" {
			return nil, malformed(kind, err)
		}
		e, v, err := s.Version(ctx, info.Element, info.Version)
		if err != nil {
			return nil, err
		}
		if info.Contents == nil {
			delete(v.Languages, info.Language)
		} else {
			v.SetContents(info.Language, info.Contents)
		}
		return []models.Storable{e}, nil
	}
}

// CopyContents copies the contents of one (version, language) pair onto
// another. Copying onto a language the target version lacks adds a
// translation.
type CopyContents struct {
	Element      string `json:"element"`
	FromVersion  int    `json:"from_version"`
	FromLanguage string `json:"from_language"`
	ToVersion    int    `json:"to_version"`
	ToLanguage   string `json:"to_language"`
}

func NewCopyContents(element string, fromVersion int, fromLang string, toVersion int, toLang string) *CopyContents {
	return &CopyContents{
		Element:      element,
		FromVersion:  fromVersion,
		FromLanguage: fromLang,
		ToVersion:    toVersion,
		ToLanguage:   toLang,
	}
}

func (c *CopyContents) Kind() Kind { return KindCopyContents }

func (c *CopyContents) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	_, from, err := s.Version(ctx, c.Element, c.FromVersion)
	if err != nil {
		return failed(versionFailure(err, c.Element, c.FromVersion))
	}
	if !from.HasLanguage(c.FromLanguage) {
		return Failure("language %s does not exist in version %d of element %s", c.FromLanguage, c.FromVersion, c.Element)
	}
	e, _, err := s.Version(ctx, c.Element, c.ToVersion)
	if err != nil {
		return failed(versionFailure(err, c.Element, c.ToVersion))
	}
	if newerVersionExists(e, c.ToVersion, c.ToLanguage) {
		return Failure("newer version exists for language %s of element %s", c.ToLanguage, c.Element)
	}
	return NewResult()
}

func (c *CopyContents) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	return captureLanguage(ctx, s, c.Element, c.ToVersion, c.ToLanguage)
}

func (c *CopyContents) Apply(ctx context.Context, s *Session) (*Result, error) {
	_, src, err := contentsOf(ctx, s, c.Element, c.FromVersion, c.FromLanguage)
	if err != nil {
		return nil, err
	}
	e, to, err := s.Version(ctx, c.Element, c.ToVersion)
	if err != nil {
		return nil, err
	}
	if cur := to.ContentsFor(c.ToLanguage); cur != nil && cur.Equal(src) {
		return nil, apperr.ErrNothingToDo
	}
	added := !to.HasLanguage(c.ToLanguage)
	to.SetContents(c.ToLanguage, src.Clone())

	r := NewResult()
	r.Touch(e)
	if added {
		// A new language can make an older version reachable again.
		r.TouchURL(e.ID)
		r.AddInfo(fmt.Sprintf("added language %s to version %d of element %s", c.ToLanguage, c.ToVersion, c.Element))
	}
	return r, nil
}

// AddSub inserts nested contents into a sub collection. Index -1 appends.
type AddSub struct {
	Element  string                  `json:"element"`
	Version  int                     `json:"version"`
	Language string                  `json:"language"`
	Path     []string                `json:"path"`
	Index    int                     `json:"index"`
	Contents *models.ElementContents `json:"contents,omitempty"`
}

func NewAddSub(element string, vno int, lang string, path []string, index int, contents *models.ElementContents) *AddSub {
	return &AddSub{Element: element, Version: vno, Language: lang, Path: path, Index: index, Contents: contents}
}

func (c *AddSub) Kind() Kind { return KindAddSub }

func (c *AddSub) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	v, fail := checkContentsTarget(ctx, s, c.Element, c.Version, c.Language)
	if fail != nil {
		return fail
	}
	if err := v.ContentsFor(c.Language).Clone().InsertSub(c.Path, c.Index, c.Contents.Clone()); err != nil {
		return Failure("cannot add sub at %v in element %s: %v", c.Path, c.Element, err)
	}
	return NewResult()
}

func (c *AddSub) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	return captureLanguage(ctx, s, c.Element, c.Version, c.Language)
}

func (c *AddSub) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, contents, err := contentsOf(ctx, s, c.Element, c.Version, c.Language)
	if err != nil {
		return nil, err
	}
	if err := contents.InsertSub(c.Path, c.Index, c.Contents.Clone()); err != nil {
		return nil, err
	}
	r := NewResult()
	r.Touch(e)
	return r, nil
}

// RemoveSub removes one entry of a sub collection. A collection left empty
// is removed as a whole.
type RemoveSub struct {
	Element  string   `json:"element"`
	Version  int      `json:"version"`
	Language string   `json:"language"`
	Path     []string `json:"path"`
	Index    int      `json:"index"`
}

func NewRemoveSub(element string, vno int, lang string, path []string, index int) *RemoveSub {
	return &RemoveSub{Element: element, Version: vno, Language: lang, Path: path, Index: index}
}

func (c *RemoveSub) Kind() Kind { return KindRemoveSub }

func (c *RemoveSub) Validate(ctx context.Context, s *Session, _ []Change) *Result {
	v, fail := checkContentsTarget(ctx, s, c.Element, c.Version, c.Language)
	if fail != nil {
		return fail
	}
	if err := v.ContentsFor(c.Language).Clone().RemoveSub(c.Path, c.Index); err != nil {
		return Failure("cannot remove sub at %v in element %s: %v", c.Path, c.Element, err)
	}
	return NewResult()
}

func (c *RemoveSub) RollbackInfo(ctx context.Context, s *Session) (json.RawMessage, error) {
	return captureLanguage(ctx, s, c.Element, c.Version, c.Language)
}

func (c *RemoveSub) Apply(ctx context.Context, s *Session) (*Result, error) {
	e, contents, err := contentsOf(ctx, s, c.Element, c.Version, c.Language)
	if err != nil {
		return nil, err
	}
	if err := contents.RemoveSub(c.Path, c.Index); err != nil {
		return nil, err
	}
	r := NewResult()
	r.Touch(e)
	return r, nil
}
