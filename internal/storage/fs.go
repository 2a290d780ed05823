package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/checksum"
)

const (
	recordExt    = ".json"
	tmpPrefix    = ".codex-tmp-"
	sumPrefix    = "xxh3:"
	sumHeaderLen = len(sumPrefix) + checksum.Size + 1 // prefix, digest, newline
)

// FS implements Backend with one file per record: <root>/<scope>/<id>.json.
//
// Each file starts with a checksum line ("xxh3:<hex>\n") followed by the
// record bytes, so a torn or hand-edited file is reported as corrupt
// instead of being decoded.
type FS struct {
	root string // absolute path to the data directory
}

// NewFS creates a new FS backend rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string { return f.root }

// ScopeDir returns the directory holding the records of scope.
func (f *FS) ScopeDir(scope string) string {
	return filepath.Join(f.root, scope)
}

// safePath resolves (scope, id) against the root and rejects any result
// that escapes it.
func (f *FS) safePath(scope, id string) (string, error) {
	if err := checkKey(scope, id); err != nil {
		return "", err
	}
	abs := filepath.Join(f.root, scope, id+recordExt)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes root: %s/%s", scope, id)
	}
	return abs, nil
}

// Load implements Backend.
func (f *FS) Load(_ context.Context, scope, id string) ([]byte, error) {
	abs, err := f.safePath(scope, id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s/%s: %w", scope, id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read %s/%s: %w", scope, id, err)
	}
	data, err := unframe(raw)
	if err != nil {
		return nil, fmt.Errorf("storage: %s/%s: %w", scope, id, err)
	}
	return data, nil
}

// Store implements Backend. The write is atomic: tmp file, fsync, rename.
func (f *FS) Store(_ context.Context, scope, id string, data []byte) error {
	abs, err := f.safePath(scope, id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(frame(data)); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete implements Backend.
func (f *FS) Delete(_ context.Context, scope, id string) error {
	abs, err := f.safePath(scope, id)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete %s/%s: %w", scope, id, err)
	}
	return nil
}

// List implements Backend.
func (f *FS) List(_ context.Context, scope string) ([]string, error) {
	if !keyRe.MatchString(scope) {
		return nil, fmt.Errorf("storage: invalid scope %q", scope)
	}
	entries, err := os.ReadDir(f.ScopeDir(scope))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", scope, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	slices.Sort(ids)
	return ids, nil
}

// Close implements Backend.
func (f *FS) Close() error { return nil }

// IDFromPath maps a record file path below the root back to (scope, id).
func (f *FS) IDFromPath(path string) (scope, id string, ok bool) {
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		return "", "", false
	}
	dir, file := filepath.Split(rel)
	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	if dir == "" || strings.Contains(dir, string(os.PathSeparator)) ||
		strings.HasPrefix(file, tmpPrefix) || !strings.HasSuffix(file, recordExt) {
		return "", "", false
	}
	id = strings.TrimSuffix(file, recordExt)
	if checkKey(dir, id) != nil {
		return "", "", false
	}
	return dir, id, true
}

func frame(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(sumHeaderLen + len(data))
	buf.WriteString(sumPrefix)
	buf.WriteString(checksum.Sum(data))
	buf.WriteByte('\n')
	buf.Write(data)
	return buf.Bytes()
}

func unframe(raw []byte) ([]byte, error) {
	if len(raw) < sumHeaderLen || !bytes.HasPrefix(raw, []byte(sumPrefix)) || raw[sumHeaderLen-1] != '\n' {
		return nil, fmt.Errorf("%w: missing checksum header", apperr.ErrCorruptRecord)
	}
	data := raw[sumHeaderLen:]
	if !checksum.Verify(data, string(raw[len(sumPrefix):sumHeaderLen-1])) {
		return nil, fmt.Errorf("%w: checksum mismatch", apperr.ErrCorruptRecord)
	}
	return data, nil
}
