package models

import (
	"reflect"
	"testing"
)

func version(state string, langs ...string) *ElementVersion {
	v := NewElementVersion(state)
	for _, l := range langs {
		v.SetContents(l, NewElementContents())
	}
	return v
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if !IsValidID(a) || !IsValidID(b) {
		t.Fatalf("invalid ids %q %q", a, b)
	}
	if a == b {
		t.Error("ids collide")
	}
	for _, bad := range []string{"", "abc", a[:39] + "G", a + "0"} {
		if IsValidID(bad) {
			t.Errorf("IsValidID(%q) = true", bad)
		}
	}
}

func TestElement_Validate(t *testing.T) {
	e := NewElement("page", "")
	if err := e.Validate(); err != nil {
		t.Fatalf("fresh element: %v", err)
	}

	self := e.Clone()
	self.Parent = self.ID
	if self.Validate() == nil {
		t.Error("own parent accepted")
	}

	noVersions := e.Clone()
	noVersions.Versions = map[int]*ElementVersion{}
	if noVersions.Validate() == nil {
		t.Error("element without versions accepted")
	}

	zero := e.Clone()
	zero.Versions[0] = NewElementVersion(StateEditing)
	if zero.Validate() == nil {
		t.Error("version 0 accepted")
	}
}

func TestElement_VersionNumbers(t *testing.T) {
	e := NewElement("page", "")
	e.Versions[3] = version(StateEditing, "en")
	e.Versions[2] = version(StateEditing, "de")

	if got := e.VersionNumbers(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("VersionNumbers = %v", got)
	}
	if e.NextVersionNumber() != 4 {
		t.Errorf("NextVersionNumber = %d", e.NextVersionNumber())
	}
	if e.NewestVersionFor("de") != 2 || e.NewestVersionFor("fr") != 0 {
		t.Error("NewestVersionFor")
	}
	if got := e.Languages(); !reflect.DeepEqual(got, []string{"de", "en"}) {
		t.Errorf("Languages = %v", got)
	}
}

func TestElement_MarkUnreachableVersions(t *testing.T) {
	tests := []struct {
		name     string
		versions map[int]*ElementVersion
		want     []int
	}{
		{
			name: "no published version keeps everything",
			versions: map[int]*ElementVersion{
				1: version(StateEditing, "en"),
				2: version(StateEditing, "en"),
			},
		},
		{
			name: "published hides older versions of its language",
			versions: map[int]*ElementVersion{
				1: version(StatePublished, "en"),
				2: version(StatePublished, "en"),
				3: version(StateEditing, "en"),
			},
			want: []int{1},
		},
		{
			name: "other language keeps an old version alive",
			versions: map[int]*ElementVersion{
				1: version(StatePublished, "en", "de"),
				2: version(StatePublished, "en"),
			},
		},
		{
			name: "languageless version only when newest",
			versions: map[int]*ElementVersion{
				1: version(StateEditing),
				2: version(StateEditing, "en"),
			},
			want: []int{1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewElement("page", "")
			e.Versions = tt.versions
			got := e.MarkUnreachableVersions()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("unreachable = %v, want %v", got, tt.want)
			}
			for vno, v := range e.Versions {
				unreachable := false
				for _, u := range tt.want {
					unreachable = unreachable || u == vno
				}
				if v.Reachable == unreachable {
					t.Errorf("version %d Reachable = %v", vno, v.Reachable)
				}
			}
		})
	}
}

func TestElement_CloneIsDeep(t *testing.T) {
	e := NewElement("page", "")
	e.Versions[1].SetContents("en", NewElementContents())
	e.Versions[1].Children = []string{NewID()}
	e.Versions[1].Slugs = []Slug{{URL: "a", Language: "en", Default: true}}
	e.Versions[1].Links = map[string]string{"ref": NewID()}

	cp := e.Clone()
	cp.Versions[1].ContentsFor("en").Fields["x"] = 1
	cp.Versions[1].Children[0] = "changed"
	cp.Versions[1].Slugs[0].URL = "changed"
	cp.Versions[1].Links["ref"] = "changed"

	v := e.Versions[1]
	if len(v.ContentsFor("en").Fields) != 0 || v.Children[0] == "changed" ||
		v.Slugs[0].URL == "changed" || v.Links["ref"] == "changed" {
		t.Error("clone shares state with the original")
	}
}
