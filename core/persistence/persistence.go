// Package persistence is the key/value boundary chat state is saved through.
// Writes are last-write-wins and may be refused with ErrQuotaExceeded.
package persistence

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuotaExceeded is returned when a value does not fit the storage quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

type Store interface {
	Save(ctx context.Context, key string, value []byte) error
	// Load reports false when nothing was saved under key.
	Load(ctx context.Context, key string) ([]byte, bool, error)
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// Deleter is implemented by stores that can drop a key.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Backend selects a store implementation.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// Options configure Open.
type Options struct {
	// Path is the JSON file or SQLite database location
	Path string
	// DSN is the postgres connection string
	DSN string
	// QuotaBytes limits a single value (SQL, memory) or the whole file; 0 disables it
	QuotaBytes int
}

// Open builds the store for a backend.
func Open(backend Backend, o Options) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(o.QuotaBytes), nil
	case BackendFile, "":
		return NewFileStore(o.Path, o.QuotaBytes)
	case BackendSQLite:
		return OpenSQLite(o.Path, o.QuotaBytes)
	case BackendPostgres:
		return OpenPostgres(o.DSN, o.QuotaBytes)
	}
	return nil, fmt.Errorf("unknown persistence backend %q", backend)
}

func quotaError(key string, size, quota int) error {
	return fmt.Errorf("%w: %q needs %d bytes, quota is %d", ErrQuotaExceeded, key, size, quota)
}
