package keys

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoCurrentKey is returned when no active signing key exists.
	ErrNoCurrentKey = errors.New("no current signing key")
	// ErrKeyNotFound is returned when the referenced key record does not exist.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrKeyStoreUnavailable wraps backing-store failures. Operations never
	// fall back to a default outcome when the store cannot be reached.
	ErrKeyStoreUnavailable = errors.New("key store unavailable")
)

// Store abstracts persistence for signing key records and the singleton
// "current key" pointer.
//
// The pointer is store-owned state: Insert with makeCurrent and MarkRevoked
// must update it atomically with the record write, so readers can never
// observe a pointer to a missing or demoted record.
type Store interface {
	// Insert persists a new record. With makeCurrent set, the previous active
	// key (if any) is demoted to retired and the pointer moves to the new
	// record in the same atomic step. A failed Insert leaves the pointer
	// untouched.
	Insert(ctx context.Context, rec Record, makeCurrent bool) error

	// GetCurrent returns the active key, or ErrNoCurrentKey.
	GetCurrent(ctx context.Context) (Record, error)

	// Get returns the record for an exact key ID, or ErrKeyNotFound.
	Get(ctx context.Context, keyID string) (Record, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]Record, error)

	// MarkRevoked flips a key to revoked regardless of its current status and
	// reports whether it was the active key (in which case the current
	// pointer is cleared and the caller must establish a new active key).
	MarkRevoked(ctx context.Context, keyID, reason string, at time.Time) (wasCurrent bool, err error)

	// DeleteRetiredBefore removes retired keys created before the cutoff.
	// Revoked keys are retained for forensics.
	DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Ping reports backing-store reachability for health checks.
	Ping(ctx context.Context) error
}
