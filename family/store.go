package family

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFamilyNotFound is returned when the family does not exist or is
	// revoked. Dead and missing families are deliberately indistinguishable
	// to callers; both force re-authentication.
	ErrFamilyNotFound = errors.New("session family not found")
	// ErrStaleRotation is the storage-layer CAS failure: the expected
	// current jti no longer matched at write time. The manager treats it as
	// replay.
	ErrStaleRotation = errors.New("rotation presented a stale token")
	// ErrJTIReused is returned when a proposed jti already exists in the
	// global used-jti ledger, in any family.
	ErrJTIReused = errors.New("token reuse detected")
	// ErrStoreUnavailable wraps durable-store failures. The store is the
	// single source of truth; no operation assumes a default outcome when
	// it is unreachable.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store abstracts durable persistence for session families and the global
// used-jti ledger.
//
// Rotate is the critical contract: the reuse-ledger insert and the
// conditional current-jti swap must commit atomically, and the swap must be
// conditional on the expected prior jti (compare-and-swap) so a writer whose
// rotation lease silently expired still fails at the storage layer.
type Store interface {
	// Create persists a new family row. A non-empty CurrentJTI is registered
	// in the used-jti ledger in the same atomic step.
	Create(ctx context.Context, fam Family) error

	// Get returns the family row regardless of revocation state, or
	// ErrFamilyNotFound when no row exists.
	Get(ctx context.Context, familyID string) (Family, error)

	// Rotate atomically registers newJTI in the ledger and swaps the
	// family's current jti, conditional on expectedJTI still being current
	// and the family being alive. Fails with ErrJTIReused (ledger conflict,
	// no state mutated), ErrStaleRotation (CAS miss), or ErrFamilyNotFound
	// (missing or revoked).
	Rotate(ctx context.Context, familyID, expectedJTI, newJTI, newTokenHash string, now time.Time) error

	// Revoke marks the family permanently dead. Idempotent: the first
	// revocation's timestamp and reason win. reusedJTIOf, when non-empty,
	// records the replayed jti for forensics.
	Revoke(ctx context.Context, familyID, reason, reusedJTIOf string, at time.Time) error

	// RevokeAllForUser revokes every live family of a user except the given
	// one (empty means no exception) and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID, exceptFamilyID, reason string, at time.Time) (int, error)

	// ListByUser returns all family rows for a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]Family, error)

	// LookupJTI resolves a ledger entry to its family ID. Returns
	// ("", nil) for jtis the ledger has never seen.
	LookupJTI(ctx context.Context, jti string) (string, error)

	// DeleteExpired removes family rows (and their ledger entries) past
	// expires_at. Storage reclamation, not a security boundary.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Ping reports durable-store reachability for health checks.
	Ping(ctx context.Context) error
}
