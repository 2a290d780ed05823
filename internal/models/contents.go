package models

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	json "github.com/goccy/go-json"
)

// ErrInvalidPath is returned when a content path does not address an
// existing field or sub-element collection.
var ErrInvalidPath = errors.New("invalid content path")

// ElementContents holds the field values of one (version, language) pair.
//
// Fields are arbitrary scalar or JSON-shaped values. Subs are named, ordered
// collections of nested contents addressed by (name, index). A collection
// that becomes empty is removed, so Subs never stores an empty slice.
//
// Paths address values through the sub tree: a path is a sequence of
// (subName, index) pairs followed by a final name, for example
// ["sections", "1", "heading"].
type ElementContents struct {
	Fields map[string]any                `json:"fields,omitempty"`
	Subs   map[string][]*ElementContents `json:"subs,omitempty"`
}

// NewElementContents returns empty contents.
func NewElementContents() *ElementContents {
	return &ElementContents{Fields: map[string]any{}}
}

// UnmarshalJSON decodes contents and drops empty sub collections.
func (c *ElementContents) UnmarshalJSON(data []byte) error {
	type plain ElementContents
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ElementContents(p)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	c.prune()
	return nil
}

func (c *ElementContents) prune() {
	for name, subs := range c.Subs {
		kept := subs[:0]
		for _, s := range subs {
			if s != nil {
				s.prune()
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(c.Subs, name)
			continue
		}
		c.Subs[name] = kept
	}
	if len(c.Subs) == 0 {
		c.Subs = nil
	}
}

// descend follows the (name, index) pairs of path and returns the addressed
// contents node.
func (c *ElementContents) descend(pairs []string) (*ElementContents, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("%w: dangling segment in %v", ErrInvalidPath, pairs)
	}
	cur := c
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i]
		idx, err := strconv.Atoi(pairs[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: index %q is not a number", ErrInvalidPath, pairs[i+1])
		}
		subs := cur.Subs[name]
		if idx < 0 || idx >= len(subs) {
			return nil, fmt.Errorf("%w: %s[%d] does not exist", ErrInvalidPath, name, idx)
		}
		cur = subs[idx]
	}
	return cur, nil
}

func splitPath(path []string) ([]string, string, error) {
	if len(path) == 0 || len(path)%2 == 0 {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidPath, path)
	}
	return path[:len(path)-1], path[len(path)-1], nil
}

// Get returns the field value addressed by path.
func (c *ElementContents) Get(path []string) (any, bool, error) {
	pairs, name, err := splitPath(path)
	if err != nil {
		return nil, false, err
	}
	node, err := c.descend(pairs)
	if err != nil {
		return nil, false, err
	}
	v, ok := node.Fields[name]
	return v, ok, nil
}

// Set stores value at path. The sub-elements along the path must exist.
func (c *ElementContents) Set(path []string, value any) error {
	pairs, name, err := splitPath(path)
	if err != nil {
		return err
	}
	node, err := c.descend(pairs)
	if err != nil {
		return err
	}
	if node.Fields == nil {
		node.Fields = map[string]any{}
	}
	node.Fields[name] = value
	return nil
}

// Unset removes the field addressed by path.
func (c *ElementContents) Unset(path []string) error {
	pairs, name, err := splitPath(path)
	if err != nil {
		return err
	}
	node, err := c.descend(pairs)
	if err != nil {
		return err
	}
	delete(node.Fields, name)
	return nil
}

// SubCount returns the length of the collection addressed by path, where
// the last path segment names the collection.
func (c *ElementContents) SubCount(path []string) (int, error) {
	pairs, name, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	node, err := c.descend(pairs)
	if err != nil {
		return 0, err
	}
	return len(node.Subs[name]), nil
}

// InsertSub inserts sub at index into the collection addressed by path.
// An index of -1 appends.
func (c *ElementContents) InsertSub(path []string, index int, sub *ElementContents) error {
	pairs, name, err := splitPath(path)
	if err != nil {
		return err
	}
	node, err := c.descend(pairs)
	if err != nil {
		return err
	}
	if sub == nil {
		sub = NewElementContents()
	}
	subs := node.Subs[name]
	if index == -1 {
		index = len(subs)
	}
	if index < 0 || index > len(subs) {
		return fmt.Errorf("%w: %s[%d] out of range", ErrInvalidPath, name, index)
	}
	subs = append(subs, nil)
	copy(subs[index+1:], subs[index:])
	subs[index] = sub
	if node.Subs == nil {
		node.Subs = map[string][]*ElementContents{}
	}
	node.Subs[name] = subs
	return nil
}

// RemoveSub removes the entry at index from the collection addressed by
// path. The collection itself is dropped once it is empty.
func (c *ElementContents) RemoveSub(path []string, index int) error {
	pairs, name, err := splitPath(path)
	if err != nil {
		return err
	}
	node, err := c.descend(pairs)
	if err != nil {
		return err
	}
	subs := node.Subs[name]
	if index < 0 || index >= len(subs) {
		return fmt.Errorf("%w: %s[%d] does not exist", ErrInvalidPath, name, index)
	}
	subs = append(subs[:index], subs[index+1:]...)
	if len(subs) == 0 {
		delete(node.Subs, name)
		if len(node.Subs) == 0 {
			node.Subs = nil
		}
		return nil
	}
	node.Subs[name] = subs
	return nil
}

// Clone returns a deep copy.
func (c *ElementContents) Clone() *ElementContents {
	if c == nil {
		return nil
	}
	out := &ElementContents{Fields: make(map[string]any, len(c.Fields))}
	for k, v := range c.Fields {
		out.Fields[k] = cloneValue(v)
	}
	if len(c.Subs) > 0 {
		out.Subs = make(map[string][]*ElementContents, len(c.Subs))
		for name, subs := range c.Subs {
			cp := make([]*ElementContents, len(subs))
			for i, s := range subs {
				cp[i] = s.Clone()
			}
			out.Subs[name] = cp
		}
	}
	return out
}

// Equal reports whether both contents hold the same fields and subs.
// A nil receiver equals empty contents.
func (c *ElementContents) Equal(o *ElementContents) bool {
	if c == nil {
		c = &ElementContents{}
	}
	if o == nil {
		o = &ElementContents{}
	}
	if len(c.Fields) != len(o.Fields) || len(c.Subs) != len(o.Subs) {
		return false
	}
	for k, v := range c.Fields {
		ov, ok := o.Fields[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	for name, subs := range c.Subs {
		osubs := o.Subs[name]
		if len(subs) != len(osubs) {
			return false
		}
		for i := range subs {
			if !subs[i].Equal(osubs[i]) {
				return false
			}
		}
	}
	return true
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
