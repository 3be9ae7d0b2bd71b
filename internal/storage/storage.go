// Package storage keeps the single document a task module may persist
// between requests.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrConflict is returned by Set when the caller's version is stale and the
// write was not forced.
var ErrConflict = errors.New("storage: version conflict")

// Document is the persisted task data together with its version. Version 0
// means nothing has been written yet.
type Document struct {
	Data      string
	Version   int64
	UpdatedAt time.Time
}

// Store is implemented by every storage backend.
type Store interface {
	// Get returns the current document, or an empty one at version 0.
	Get(ctx context.Context) (Document, error)
	// Set writes data if version matches the stored version or force is
	// set, and returns the new document.
	Set(ctx context.Context, data string, version int64, force bool) (Document, error)
	// Kind names the backend ("memory", "sqlite" or "postgres").
	Kind() string
	Close() error
}

// Open selects a backend from location: empty means in-memory, a
// postgres:// or postgresql:// URL means PostgreSQL, anything else is taken
// as a SQLite file path.
func Open(ctx context.Context, location string) (Store, error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return NewMemory(), nil
	}

	var d dialect = sqliteDialect{}
	if isPostgresURL(loc) {
		d = postgresDialect{}
	}
	st, err := openSQL(ctx, d, loc)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func isPostgresURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "postgres://") || strings.HasPrefix(l, "postgresql://")
}
