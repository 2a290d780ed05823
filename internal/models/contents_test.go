package models

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
)

func TestElementContents_Paths(t *testing.T) {
	c := NewElementContents()
	if err := c.Set([]string{"title"}, "Home"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.InsertSub([]string{"sections"}, -1, nil); err != nil {
		t.Fatalf("InsertSub: %v", err)
	}
	if err := c.Set([]string{"sections", "0", "heading"}, "Intro"); err != nil {
		t.Fatalf("Set nested: %v", err)
	}

	v, ok, err := c.Get([]string{"sections", "0", "heading"})
	if err != nil || !ok || v != "Intro" {
		t.Errorf("Get nested = %v, %v, %v", v, ok, err)
	}
	if _, _, err := c.Get([]string{"sections", "3", "heading"}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("out of range error = %v", err)
	}
	if _, _, err := c.Get([]string{"sections", "0"}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("even-length path error = %v", err)
	}
	if _, _, err := c.Get([]string{"sections", "x", "heading"}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("non-numeric index error = %v", err)
	}
}

func TestElementContents_InsertAndRemoveSub(t *testing.T) {
	c := NewElementContents()
	a, b := NewElementContents(), NewElementContents()
	a.Fields["n"] = "a"
	b.Fields["n"] = "b"
	_ = c.InsertSub([]string{"items"}, -1, a)
	_ = c.InsertSub([]string{"items"}, 0, b)

	if n, _ := c.SubCount([]string{"items"}); n != 2 {
		t.Fatalf("SubCount = %d", n)
	}
	if v, _, _ := c.Get([]string{"items", "0", "n"}); v != "b" {
		t.Errorf("items[0] = %v, want b", v)
	}
	if err := c.InsertSub([]string{"items"}, 5, nil); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("insert out of range = %v", err)
	}

	_ = c.RemoveSub([]string{"items"}, 0)
	_ = c.RemoveSub([]string{"items"}, 0)
	if c.Subs != nil {
		t.Errorf("empty collection kept: %v", c.Subs)
	}
	if err := c.RemoveSub([]string{"items"}, 0); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("remove from missing collection = %v", err)
	}
}

func TestElementContents_UnmarshalDropsEmptySubs(t *testing.T) {
	var c ElementContents
	data := []byte(`{"fields":{"a":1},"subs":{"empty":[],"nulls":[null],"kept":[{"fields":{"b":2}}]}}`)
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(c.Subs) != 1 || len(c.Subs["kept"]) != 1 {
		t.Errorf("subs = %v", c.Subs)
	}

	var empty ElementContents
	if err := json.Unmarshal([]byte(`{}`), &empty); err != nil {
		t.Fatal(err)
	}
	if empty.Fields == nil {
		t.Error("Fields must be initialized")
	}
}

func TestElementContents_CloneAndEqual(t *testing.T) {
	c := NewElementContents()
	c.Fields["tags"] = []any{"a", "b"}
	c.Fields["meta"] = map[string]any{"k": "v"}
	_ = c.InsertSub([]string{"items"}, -1, nil)

	cp := c.Clone()
	if !c.Equal(cp) {
		t.Fatal("clone differs")
	}
	cp.Fields["tags"].([]any)[0] = "changed"
	cp.Fields["meta"].(map[string]any)["k"] = "changed"
	if c.Fields["tags"].([]any)[0] != "a" || c.Fields["meta"].(map[string]any)["k"] != "v" {
		t.Error("clone shares nested values")
	}
	if c.Equal(cp) {
		t.Error("Equal ignores nested differences")
	}

	var nilContents *ElementContents
	if !nilContents.Equal(&ElementContents{}) {
		t.Error("nil must equal empty")
	}
}
