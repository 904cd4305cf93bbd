package family

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrConcurrentRefresh is returned when another rotation holds the
	// per-family mutex. Expected and retryable; not a security incident.
	ErrConcurrentRefresh = errors.New("concurrent refresh detected, retry")
	// ErrCacheUnavailable wraps Redis failures. The cache layer must never
	// be the sole record of a security decision, so its unavailability
	// fails rotation closed rather than assuming "not held"/"not revoked".
	ErrCacheUnavailable = errors.New("session cache unavailable")
)

// releaseLockScript deletes the mutex key only when the stored token matches,
// so a slow holder whose lease expired cannot release a successor's lock.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// Coordinator is the Redis-backed coordination layer for the family manager:
// the per-family rotation mutex and the hot-path reuse/revocation caches.
//
// The mutex is a lease (SET NX PX), not a true lock: a crashed holder
// auto-expires after LockTTL and the durable store's compare-and-swap is the
// backstop against a holder that outlives its lease.
type Coordinator struct {
	redis   redis.UniversalClient
	prefix  string
	lockTTL time.Duration
}

// NewCoordinator creates a Coordinator. prefix namespaces all keys; lockTTL
// bounds how long a crashed rotation can wedge a family (default 10s).
func NewCoordinator(client redis.UniversalClient, prefix string, lockTTL time.Duration) *Coordinator {
	if prefix == "" {
		prefix = "sf"
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Coordinator{redis: client, prefix: prefix, lockTTL: lockTTL}
}

func (c *Coordinator) lockKey(familyID string) string {
	return c.prefix + ":lock:" + familyID
}

func (c *Coordinator) jtiKey(jti string) string {
	return c.prefix + ":jti:" + jti
}

func (c *Coordinator) revokedFamilyKey(familyID string) string {
	return c.prefix + ":rvk:" + familyID
}

func (c *Coordinator) revokedJTIKey(jti string) string {
	return c.prefix + ":jrv:" + jti
}

// AcquireRotationLock takes the per-family mutex. Contention is an immediate
// ErrConcurrentRefresh, never a queued wait: exactly one racing caller
// proceeds and the rest back off.
func (c *Coordinator) AcquireRotationLock(ctx context.Context, familyID string) (token string, err error) {
	token = uuid.NewString()
	ok, err := c.redis.SetNX(ctx, c.lockKey(familyID), token, c.lockTTL).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if !ok {
		return "", ErrConcurrentRefresh
	}
	return token, nil
}

// ReleaseRotationLock releases the mutex if this caller still holds it.
// Releasing an already-expired lease is a no-op.
func (c *Coordinator) ReleaseRotationLock(ctx context.Context, familyID, token string) error {
	if err := releaseLockLua.Run(ctx, c.redis, []string{c.lockKey(familyID)}, token).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// MarkJTIUsed caches a newly accepted jti for fast reuse rejection.
func (c *Coordinator) MarkJTIUsed(ctx context.Context, jti string, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// JTISeen reports whether the jti is in the reuse cache. A miss is not
// authoritative; the durable ledger decides.
func (c *Coordinator) JTISeen(ctx context.Context, jti string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return n > 0, nil
}

// MarkFamilyRevoked caches a family revocation so revocation checks stay off
// the durable store's hot path.
func (c *Coordinator) MarkFamilyRevoked(ctx context.Context, familyID string, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.revokedFamilyKey(familyID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// FamilyRevoked reports a cached revocation. Misses fall back to the store.
func (c *Coordinator) FamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.revokedFamilyKey(familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return n > 0, nil
}

// MarkJTIRevoked caches a superseded/dead jti verdict.
func (c *Coordinator) MarkJTIRevoked(ctx context.Context, jti string, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.revokedJTIKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// JTIRevoked reports a cached jti revocation verdict.
func (c *Coordinator) JTIRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.revokedJTIKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return n > 0, nil
}

// Ping returns point-in-time Redis availability for health checks.
func (c *Coordinator) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
