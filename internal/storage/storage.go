// Package storage persists rules and learned corrections.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerline/internal/rules"
)

// Supported backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Storage is a rule store persister with schema management.
type Storage interface {
	rules.Persister
	Migrate(ctx context.Context) error
	Close() error
}

// Open opens the named backend at path. The schema is not migrated.
func Open(backend, path string) (Storage, error) {
	switch strings.ToLower(backend) {
	case BackendSQLite, "":
		return NewSQLiteStorage(path)
	case BackendBolt:
		return NewBoltStorage(path)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
