package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/starford/codex/internal/apperr"
)

// Badger implements Backend on an embedded badger database. Keys are
// "<scope>/<id>".
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database in dir. badger logs
// through a printf-style logger; log may be nil to silence it.
func OpenBadger(dir string, log *logrus.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if log != nil {
		opts = opts.WithLogger(log)
	} else {
		opts = opts.WithLogger(nil)
	}
	opts.ValueLogFileSize = 1024 * 1024 * 64
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func badgerKey(scope, id string) []byte {
	return []byte(scope + "/" + id)
}

// Load implements Backend.
func (b *Badger) Load(_ context.Context, scope, id string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(scope, id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("storage: %s/%s: %w", scope, id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: load %s/%s: %w", scope, id, err)
	}
	return data, nil
}

// Store implements Backend.
func (b *Badger) Store(_ context.Context, scope, id string, data []byte) error {
	if err := checkKey(scope, id); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(scope, id), data)
	})
	if err != nil {
		return fmt.Errorf("storage: store %s/%s: %w", scope, id, err)
	}
	return nil
}

// Delete implements Backend.
func (b *Badger) Delete(_ context.Context, scope, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(scope, id))
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", scope, id, err)
	}
	return nil
}

// List implements Backend. Keys iterate in byte order, so ids come back
// sorted.
func (b *Badger) List(_ context.Context, scope string) ([]string, error) {
	prefix := []byte(scope + "/")
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", scope, err)
	}
	return ids, nil
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}
