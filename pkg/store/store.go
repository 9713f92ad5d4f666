// Package store persists normalized datasets and derived results behind a
// small key/value interface with predicate queries.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRecord is returned for records without a key or kind
	ErrInvalidRecord = errors.New("invalid record")
	// ErrInvalidDriver is returned for an unknown store driver
	ErrInvalidDriver = errors.New("invalid store driver")
	// ErrDSNRequired is returned when the postgres driver has no DSN
	ErrDSNRequired = errors.New("store dsn is required for the postgres driver")
)

// Record is one stored entry. Payload is JSON.
type Record struct {
	Key       string    `db:"key"`
	Kind      string    `db:"kind"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Validate checks the record can be stored.
func (r *Record) Validate() error {
	if r.Key == "" {
		return errors.Join(ErrInvalidRecord, errors.New("key is required"))
	}

	if r.Kind == "" {
		return errors.Join(ErrInvalidRecord, errors.New("kind is required"))
	}

	return nil
}

// Predicate selects records. Zero fields match everything.
type Predicate struct {
	Kinds        []string
	KeyPrefix    string
	UpdatedAfter time.Time
}

// Match reports whether r satisfies the predicate.
func (p Predicate) Match(r *Record) bool {
	if len(p.Kinds) > 0 {
		found := false

		for _, k := range p.Kinds {
			if k == r.Kind {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	if p.KeyPrefix != "" && !strings.HasPrefix(r.Key, p.KeyPrefix) {
		return false
	}

	if !p.UpdatedAfter.IsZero() && !r.UpdatedAt.After(p.UpdatedAfter) {
		return false
	}

	return true
}

// Store is the persistence boundary of the engine.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	// Put inserts or replaces the record, stamping UpdatedAt.
	Put(ctx context.Context, rec Record) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Query returns matching records ordered by key.
	Query(ctx context.Context, p Predicate) ([]Record, error)
	Close() error
}
