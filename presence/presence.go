// Package presence keeps a directory of confirmed sessions so that admin
// tooling, or other servers sharing a backend, can see who is connected.
package presence

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get when no record exists for an id.
var ErrNotFound = errors.New("presence record not found")

// Record describes one confirmed session.
type Record struct {
	ID          uint32    `json:"id"`
	ConnID      uint32    `json:"conn_id"`
	Server      string    `json:"server"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Store is a directory of Records keyed by session id. Implementations must
// be safe for concurrent use.
type Store interface {
	// Put inserts or replaces the record for r.ID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - r: The record to store
	//   - ttl: Lifetime of the record; 0 means it never expires
	Put(ctx context.Context, r Record, ttl time.Duration) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id uint32) (Record, error)

	// Delete removes the record for id. Deleting a missing record is not an
	// error.
	Delete(ctx context.Context, id uint32) error

	// DeleteIf removes the record for id only if it still belongs to connID.
	// It reports whether a record was removed.
	DeleteIf(ctx context.Context, id uint32, connID uint32) (bool, error)

	// List returns all live records ordered by session id.
	List(ctx context.Context) ([]Record, error)

	// Count returns the number of live records.
	Count(ctx context.Context) (int, error)
}

func key(prefix string, id uint32) string {
	return prefix + strconv.FormatUint(uint64(id), 10)
}
