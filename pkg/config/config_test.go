package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CODEX_TEST_NAME", "site")
	path := writeFile(t, "name: ${CODEX_TEST_NAME}\nport: ${CODEX_TEST_PORT:-8081}\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "site" || s.Port != 8081 {
		t.Errorf("loaded %+v", s)
	}
}

func TestLoad_KeepsDefaults(t *testing.T) {
	path := writeFile(t, "name: site\n")
	s := sample{Port: 9000}
	if err := Load(path, &s); err != nil {
		t.Fatal(err)
	}
	if s.Port != 9000 {
		t.Errorf("port = %d, want 9000", s.Port)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	s := sample{Port: 1}
	if err := Load(writeFile(t, ""), &s); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	s := sample{Port: 1}
	if err := Load(writeFile(t, "nmae: typo\n"), &s); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_Validates(t *testing.T) {
	var s sample
	err := Load(writeFile(t, "name: site\n"), &s)
	if err == nil || !strings.Contains(err.Error(), "port must be positive") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadOptional_MissingFile(t *testing.T) {
	s := sample{Port: 1}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatal(err)
	}
	var bad sample
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &bad); err == nil {
		t.Fatal("defaults should still be validated")
	}
}

func TestLoadWithDefaults_Fallback(t *testing.T) {
	def := writeFile(t, "port: 7000\n")
	var s sample
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "nope.yaml"), def, &s); err != nil {
		t.Fatal(err)
	}
	if s.Port != 7000 {
		t.Errorf("port = %d", s.Port)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CODEX_TEST_SET", "x")
	t.Setenv("CODEX_TEST_EMPTY", "")
	tests := []struct{ in, want string }{
		{"${CODEX_TEST_SET}", "x"},
		{"$CODEX_TEST_SET/y", "x/y"},
		{"${CODEX_TEST_SET:-d}", "x"},
		{"${CODEX_TEST_EMPTY:-d}", "d"},
		{"${CODEX_TEST_UNSET_VAR}", ""},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
