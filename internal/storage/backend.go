// Package storage provides the pluggable key/value persistence used by the
// storage core, plus the typed Store adapter and its object cache.
//
// Records are opaque byte slices addressed by (scope, id). Drivers exist for
// flat files, SQLite, Postgres, Badger and memory.
package storage

import (
	"context"
	"fmt"
	"regexp"
)

// Backend is the key/value contract every driver implements.
type Backend interface {
	// Load returns the record, or an error wrapping apperr.ErrNotFound.
	Load(ctx context.Context, scope, id string) ([]byte, error)
	// Store creates or replaces the record.
	Store(ctx context.Context, scope, id string, data []byte) error
	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, scope, id string) error
	// List returns the ids stored under scope in ascending order.
	List(ctx context.Context, scope string) ([]string, error)
	// Close releases the driver's resources.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverFS       = "fs"
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// checkKey rejects scopes and ids that could escape a directory or collide
// with the key separator of the KV drivers.
func checkKey(scope, id string) error {
	if !keyRe.MatchString(scope) {
		return fmt.Errorf("storage: invalid scope %q", scope)
	}
	if !keyRe.MatchString(id) {
		return fmt.Errorf("storage: invalid id %q", id)
	}
	return nil
}
