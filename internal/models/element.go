// Package models defines the content model of the store: versioned
// elements, their per-language contents, slugs and the derived URL pointers.
// Nothing in this package performs I/O.
package models

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Workflow states of an element version.
const (
	StateEditing   = "editing"
	StatePublished = "published"
	StateDeleted   = "deleted"
)

// Element is a versioned content node in the site tree.
type Element struct {
	ID          string                  `json:"id"`
	Type        string                  `json:"type"`
	Parent      string                  `json:"parent,omitempty"`
	Permissions map[string]any          `json:"permissions,omitempty"`
	Versions    map[int]*ElementVersion `json:"versions"`
}

// ElementVersion is one snapshot of an element's structure.
//
// Children is a cache of possible children: an entry may point to an element
// that has since been moved elsewhere, so readers must confirm the child's
// Parent before trusting it. Reachable is recomputed by
// MarkUnreachableVersions and is not authoritative.
type ElementVersion struct {
	State      string                      `json:"state"`
	Languages  map[string]*ElementContents `json:"languages,omitempty"`
	Children   []string                    `json:"children,omitempty"`
	Links      map[string]string           `json:"links,omitempty"`
	Definition string                      `json:"definition,omitempty"`
	Slugs      []Slug                      `json:"slugs,omitempty"`
	Reachable  bool                        `json:"reachable"`
}

// NewElement returns an element with a fresh id and an empty editing
// version 1.
func NewElement(typ, parent string) *Element {
	return &Element{
		ID:     NewID(),
		Type:   typ,
		Parent: parent,
		Versions: map[int]*ElementVersion{
			1: NewElementVersion(StateEditing),
		},
	}
}

// NewElementVersion returns an empty, reachable version in state.
func NewElementVersion(state string) *ElementVersion {
	return &ElementVersion{
		State:     state,
		Languages: map[string]*ElementContents{},
		Reachable: true,
	}
}

// Validate checks the structural invariants that must hold before an
// element is persisted.
func (e *Element) Validate() error {
	if !IsValidID(e.ID) {
		return fmt.Errorf("element: invalid id %q", e.ID)
	}
	if len(e.Versions) == 0 {
		return fmt.Errorf("element %s: no versions", e.ID)
	}
	for vno, v := range e.Versions {
		if vno <= 0 {
			return fmt.Errorf("element %s: version number %d must be positive", e.ID, vno)
		}
		if v == nil {
			return fmt.Errorf("element %s: version %d is empty", e.ID, vno)
		}
	}
	if e.Parent == e.ID {
		return fmt.Errorf("element %s: parent of itself", e.ID)
	}
	return nil
}

// Version returns version vno.
func (e *Element) Version(vno int) (*ElementVersion, bool) {
	v, ok := e.Versions[vno]
	return v, ok && v != nil
}

// VersionNumbers returns all version numbers in ascending order.
func (e *Element) VersionNumbers() []int {
	nums := slices.Collect(maps.Keys(e.Versions))
	slices.Sort(nums)
	return nums
}

// NewestVersionNumber returns the highest version number, or 0.
func (e *Element) NewestVersionNumber() int {
	newest := 0
	for vno := range e.Versions {
		if vno > newest {
			newest = vno
		}
	}
	return newest
}

// NextVersionNumber returns the number the next added version receives.
func (e *Element) NextVersionNumber() int {
	return e.NewestVersionNumber() + 1
}

// NewestVersionFor returns the highest version number carrying lang, or 0.
func (e *Element) NewestVersionFor(lang string) int {
	newest := 0
	for vno, v := range e.Versions {
		if v.HasLanguage(lang) && vno > newest {
			newest = vno
		}
	}
	return newest
}

// Languages returns the sorted union of languages across all versions.
func (e *Element) Languages() []string {
	var langs []string
	for _, v := range e.Versions {
		for lang := range v.Languages {
			if !slices.Contains(langs, lang) {
				langs = append(langs, lang)
			}
		}
	}
	slices.Sort(langs)
	return langs
}

// MarkUnreachableVersions recomputes the Reachable flag of every version
// and returns the numbers of the unreachable ones in ascending order.
//
// Per language, versions older than the newest published version carrying
// that language are unreachable for it; without a published version every
// version of the language stays reachable. A version is reachable when it
// is reachable for at least one of its languages. A version without any
// language is reachable only when it is the newest version.
func (e *Element) MarkUnreachableVersions() []int {
	nums := e.VersionNumbers()
	if len(nums) == 0 {
		return nil
	}
	reach := make(map[int]bool, len(nums))
	reach[nums[len(nums)-1]] = true

	for _, lang := range e.Languages() {
		cutoff := 0
		for i := len(nums) - 1; i >= 0; i-- {
			v := e.Versions[nums[i]]
			if v.HasLanguage(lang) && v.State == StatePublished {
				cutoff = nums[i]
				break
			}
		}
		for _, vno := range nums {
			if vno >= cutoff && e.Versions[vno].HasLanguage(lang) {
				reach[vno] = true
			}
		}
	}

	var unreachable []int
	for _, vno := range nums {
		e.Versions[vno].Reachable = reach[vno]
		if !reach[vno] {
			unreachable = append(unreachable, vno)
		}
	}
	return unreachable
}

// ReachableVersions recomputes reachability and returns the reachable
// version numbers in ascending order.
func (e *Element) ReachableVersions() []int {
	e.MarkUnreachableVersions()
	var out []int
	for _, vno := range e.VersionNumbers() {
		if e.Versions[vno].Reachable {
			out = append(out, vno)
		}
	}
	return out
}

// ChildIDs returns the distinct child ids cached by any version, in version
// then list order. The result still has to be filtered by the children's
// live Parent pointer.
func (e *Element) ChildIDs() []string {
	var out []string
	for _, vno := range e.VersionNumbers() {
		for _, c := range e.Versions[vno].Children {
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	out := &Element{
		ID:       e.ID,
		Type:     e.Type,
		Parent:   e.Parent,
		Versions: make(map[int]*ElementVersion, len(e.Versions)),
	}
	if e.Permissions != nil {
		out.Permissions = make(map[string]any, len(e.Permissions))
		for k, v := range e.Permissions {
			out.Permissions[k] = cloneValue(v)
		}
	}
	for vno, v := range e.Versions {
		out.Versions[vno] = v.Clone()
	}
	return out
}

// StorageKey implements Storable.
func (e *Element) StorageKey() (string, string) { return ScopeElements, e.ID }

// StoreVia implements Storable.
func (e *Element) StoreVia(ctx context.Context, a Adapter) error {
	return a.StoreElement(ctx, e)
}

// HasLanguage reports whether the version has contents for lang.
func (v *ElementVersion) HasLanguage(lang string) bool {
	_, ok := v.Languages[lang]
	return ok
}

// ContentsFor returns the contents of lang, or nil.
func (v *ElementVersion) ContentsFor(lang string) *ElementContents {
	return v.Languages[lang]
}

// LanguageCodes returns the sorted language codes of the version.
func (v *ElementVersion) LanguageCodes() []string {
	langs := slices.Collect(maps.Keys(v.Languages))
	slices.Sort(langs)
	return langs
}

// HasChild reports whether id is in the children cache.
func (v *ElementVersion) HasChild(id string) bool {
	return slices.Contains(v.Children, id)
}

// Clone returns a deep copy of the version.
func (v *ElementVersion) Clone() *ElementVersion {
	out := &ElementVersion{
		State:      v.State,
		Languages:  make(map[string]*ElementContents, len(v.Languages)),
		Children:   slices.Clone(v.Children),
		Definition: v.Definition,
		Slugs:      CloneSlugs(v.Slugs),
		Reachable:  v.Reachable,
	}
	for lang, c := range v.Languages {
		out.Languages[lang] = c.Clone()
	}
	if v.Links != nil {
		out.Links = maps.Clone(v.Links)
	}
	return out
}

// ErrNoVersion reports a missing element version.
var ErrNoVersion = errors.New("version does not exist")

// SetContents stores c as the contents of lang.
func (v *ElementVersion) SetContents(lang string, c *ElementContents) {
	if v.Languages == nil {
		v.Languages = map[string]*ElementContents{}
	}
	v.Languages[lang] = c
}
