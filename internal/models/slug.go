package models

import (
	"slices"
	"strings"
)

// Slug is a language-specific URL path segment of an element version.
//
// At most one slug per language is the default. Deprecated slugs are kept
// so old URLs keep redirecting, but they never become the default.
type Slug struct {
	URL        string `json:"url"`
	Language   string `json:"language"`
	Default    bool   `json:"default,omitempty"`
	Deprecated bool   `json:"deprecated,omitempty"`
}

// NormalizeSegment trims whitespace and surrounding slashes from a raw
// slug segment. The empty segment means "same path as the parent".
func NormalizeSegment(s string) string {
	return strings.Trim(strings.TrimSpace(s), "/")
}

// SlugsFor returns the slugs of lang in their original order.
func SlugsFor(slugs []Slug, lang string) []Slug {
	var out []Slug
	for _, s := range slugs {
		if s.Language == lang {
			out = append(out, s)
		}
	}
	return out
}

// HasDefault reports whether lang has a non-deprecated default slug.
func HasDefault(slugs []Slug, lang string) bool {
	for _, s := range slugs {
		if s.Language == lang && s.Default && !s.Deprecated {
			return true
		}
	}
	return false
}

// HasLive reports whether lang has at least one non-deprecated slug.
func HasLive(slugs []Slug, lang string) bool {
	for _, s := range slugs {
		if s.Language == lang && !s.Deprecated {
			return true
		}
	}
	return false
}

// SlugLanguages returns the sorted distinct languages used by slugs.
func SlugLanguages(slugs []Slug) []string {
	var langs []string
	for _, s := range slugs {
		if !slices.Contains(langs, s.Language) {
			langs = append(langs, s.Language)
		}
	}
	slices.Sort(langs)
	return langs
}

// NormalizeSlugs cleans segments, drops exact duplicates and enforces the
// default rule: per language the first non-deprecated default wins, and a
// language without one promotes its first non-deprecated slug.
func NormalizeSlugs(slugs []Slug) []Slug {
	out := make([]Slug, 0, len(slugs))
	seen := make(map[[2]string]int, len(slugs))
	for _, s := range slugs {
		s.URL = NormalizeSegment(s.URL)
		key := [2]string{s.Language, s.URL}
		if i, ok := seen[key]; ok {
			// Keep the stronger flags of the duplicate.
			out[i].Default = out[i].Default || s.Default
			out[i].Deprecated = out[i].Deprecated && s.Deprecated
			continue
		}
		seen[key] = len(out)
		out = append(out, s)
	}

	hasDefault := map[string]bool{}
	for i := range out {
		s := &out[i]
		if s.Deprecated {
			s.Default = false
			continue
		}
		if s.Default {
			if hasDefault[s.Language] {
				s.Default = false
			}
			hasDefault[s.Language] = true
		}
	}
	for i := range out {
		s := &out[i]
		if !s.Deprecated && !hasDefault[s.Language] {
			s.Default = true
			hasDefault[s.Language] = true
		}
	}
	return out
}

// CloneSlugs returns a copy of slugs.
func CloneSlugs(slugs []Slug) []Slug {
	if slugs == nil {
		return nil
	}
	return append([]Slug(nil), slugs...)
}
