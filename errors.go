package authcore

import (
	"errors"

	"github.com/levipshemish/jewgo-app-sub004/family"
	"github.com/levipshemish/jewgo-app-sub004/keys"
)

// Engine-level sentinels. Domain errors from the keys and family subpackages
// are re-exported here so callers holding only an Engine can match them with
// errors.Is without importing the subpackages.
var (
	// ErrEngineNotReady is returned by Engine methods called before Build
	// completed or after Close.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrTokenInvalid covers signature, expiry, issuer, and audience
	// failures during access token verification.
	ErrTokenInvalid = keys.ErrTokenInvalid

	// ErrKeyRevoked is returned when a token's signing key has been
	// revoked, regardless of the token's own validity window.
	ErrKeyRevoked = keys.ErrKeyRevoked

	// ErrAlgorithmMismatch is returned when a token header names an
	// algorithm other than the one its key was provisioned with.
	ErrAlgorithmMismatch = keys.ErrAlgorithmMismatch

	// ErrNoCurrentKey is returned when signing is attempted before any
	// key exists. InitializeKeys resolves it.
	ErrNoCurrentKey = keys.ErrNoCurrentKey

	// ErrKeyNotFound is returned for operations on an unknown key ID.
	ErrKeyNotFound = keys.ErrKeyNotFound

	// ErrReplayDetected is returned when a rotation presents a refresh
	// token jti that is not the family's current one. The family is
	// revoked before this error is returned.
	ErrReplayDetected = family.ErrReplayDetected

	// ErrRefreshReuse is returned when a new jti collides with one already
	// recorded anywhere in the used-token ledger.
	ErrRefreshReuse = family.ErrJTIReused

	// ErrConcurrentRefresh is returned when another rotation holds the
	// per-family mutex. Retryable after re-fetching token state.
	ErrConcurrentRefresh = family.ErrConcurrentRefresh

	// ErrSessionNotFound is returned for operations on a missing, expired,
	// or revoked session family.
	ErrSessionNotFound = family.ErrFamilyNotFound

	// ErrCoordinationUnavailable is returned when the Redis coordination
	// layer is unreachable and the operation fails closed.
	ErrCoordinationUnavailable = family.ErrCacheUnavailable

	// ErrStoreUnavailable is returned when a durable store cannot be
	// reached.
	ErrStoreUnavailable = family.ErrStoreUnavailable
)
