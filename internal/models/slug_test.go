package models

import (
	"reflect"
	"testing"
)

func TestNormalizeSlugs(t *testing.T) {
	tests := []struct {
		name string
		in   []Slug
		want []Slug
	}{
		{
			name: "promotes first live slug",
			in:   []Slug{{URL: "/a/", Language: "en"}, {URL: "b", Language: "en"}},
			want: []Slug{{URL: "a", Language: "en", Default: true}, {URL: "b", Language: "en"}},
		},
		{
			name: "first default wins",
			in:   []Slug{{URL: "a", Language: "en", Default: true}, {URL: "b", Language: "en", Default: true}},
			want: []Slug{{URL: "a", Language: "en", Default: true}, {URL: "b", Language: "en"}},
		},
		{
			name: "deprecated never default",
			in:   []Slug{{URL: "old", Language: "en", Default: true, Deprecated: true}, {URL: "new", Language: "en"}},
			want: []Slug{{URL: "old", Language: "en", Deprecated: true}, {URL: "new", Language: "en", Default: true}},
		},
		{
			name: "duplicates merged",
			in:   []Slug{{URL: "a", Language: "en", Deprecated: true}, {URL: "a", Language: "en"}},
			want: []Slug{{URL: "a", Language: "en", Default: true}},
		},
		{
			name: "languages independent",
			in:   []Slug{{URL: "a", Language: "en", Default: true}, {URL: "a", Language: "de"}},
			want: []Slug{{URL: "a", Language: "en", Default: true}, {URL: "a", Language: "de", Default: true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSlugs(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeSlugs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSlugHelpers(t *testing.T) {
	slugs := []Slug{
		{URL: "old", Language: "en", Deprecated: true},
		{URL: "a", Language: "en", Default: true},
		{URL: "b", Language: "de", Deprecated: true},
	}
	if !HasDefault(slugs, "en") || HasDefault(slugs, "de") {
		t.Error("HasDefault")
	}
	if !HasLive(slugs, "en") || HasLive(slugs, "de") {
		t.Error("HasLive")
	}
	if got := SlugLanguages(slugs); !reflect.DeepEqual(got, []string{"de", "en"}) {
		t.Errorf("SlugLanguages = %v", got)
	}
	if got := SlugsFor(slugs, "en"); len(got) != 2 {
		t.Errorf("SlugsFor = %v", got)
	}
}

func TestURLHelpers(t *testing.T) {
	cases := map[string]string{
		"":          "/",
		"/":         "/",
		"a//b/":     "/a/b",
		" /a/ b /c": "/a/b/c",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
	if got := JoinURL("/", "about"); got != "/about" {
		t.Errorf("JoinURL root = %q", got)
	}
	if got := JoinURL("/about", "/team/"); got != "/about/team" {
		t.Errorf("JoinURL = %q", got)
	}
	if got := JoinURL("/about", ""); got != "/about" {
		t.Errorf("JoinURL empty segment = %q", got)
	}
}
