package models

import (
	"slices"
	"strings"
)

// URLPointer is one entry of the URL index. It is derived from the slugs of
// reachable element versions and is never authoritative.
type URLPointer struct {
	URL        string   `json:"url"`
	Element    string   `json:"element"`
	Languages  []string `json:"languages"`
	Default    bool     `json:"default,omitempty"`
	Deprecated bool     `json:"deprecated,omitempty"`
}

// HasLanguage reports whether the pointer serves lang.
func (p URLPointer) HasLanguage(lang string) bool {
	return slices.Contains(p.Languages, lang)
}

// Clone returns a copy that shares no slices with p.
func (p URLPointer) Clone() URLPointer {
	p.Languages = append([]string(nil), p.Languages...)
	return p
}

// NormalizeURL returns the canonical form of a relative site URL: a single
// leading slash, no empty segments and no trailing slash except for "/".
func NormalizeURL(u string) string {
	parts := strings.Split(u, "/")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return "/" + strings.Join(kept, "/")
}

// JoinURL appends a slug segment to a parent URL. An empty segment yields
// the parent URL itself.
func JoinURL(parent, segment string) string {
	segment = NormalizeSegment(segment)
	if segment == "" {
		return NormalizeURL(parent)
	}
	return NormalizeURL(parent + "/" + segment)
}
