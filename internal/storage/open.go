package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Options selects and configures a driver.
type Options struct {
	Driver string
	Path   string // data directory (fs, badger) or database file (sqlite)
	DSN    string // postgres connection string
	// BadgerLog receives badger's internal logging. Nil silences it.
	BadgerLog *logrus.Logger
}

// Open returns the backend described by opts.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case DriverFS:
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		return NewFS(opts.Path)
	case DriverSQLite:
		return OpenSQLite(opts.Path)
	case DriverBadger:
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		return OpenBadger(opts.Path, opts.BadgerLog)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
}
