package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrReplayDetected is returned when a rotation presents a jti that is not
// the family's current one. The family is revoked before this is returned;
// there is no path back to active.
var ErrReplayDetected = errors.New("token replay detected")

// Config controls the session family manager.
type Config struct {
	// FamilyTTL is the absolute lifetime of a family from creation.
	// Default 30 days.
	FamilyTTL time.Duration

	// RevocationCacheTTL bounds how long revocation verdicts stay cached.
	// Default 24h.
	RevocationCacheTTL time.Duration

	// JTICacheTTL bounds the fast-path reuse cache. Defaults to FamilyTTL.
	JTICacheTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.FamilyTTL <= 0 {
		c.FamilyTTL = 30 * 24 * time.Hour
	}
	if c.RevocationCacheTTL <= 0 {
		c.RevocationCacheTTL = 24 * time.Hour
	}
	if c.JTICacheTTL <= 0 {
		c.JTICacheTTL = c.FamilyTTL
	}
}

// Manager enforces the single-valid-refresh-token-per-family invariant under
// concurrent and adversarial access.
//
// The durable store is the single source of truth; the Redis coordinator is
// a coordination/optimization layer. When the coordinator is unreachable,
// rotation fails closed instead of assuming "not locked"/"not reused".
type Manager struct {
	cfg    Config
	store  Store
	cache  *Coordinator
	logger *slog.Logger
}

// NewManager validates dependencies and constructs a Manager.
func NewManager(cfg Config, store Store, cache *Coordinator, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("family: nil store")
	}
	if cache == nil {
		return nil, errors.New("family: nil cache coordinator")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, store: store, cache: cache, logger: logger}, nil
}

// CreateFamily persists a new session family and returns its ID.
//
// initialJTI and tokenHash seed the first refresh token when the caller's
// login flow issues one at creation; both may be empty, in which case the
// first rotation binds whatever jti it is presented. A non-empty initialJTI
// enters the global used-jti ledger immediately.
func (m *Manager) CreateFamily(ctx context.Context, userID string, dev DeviceInfo, initialJTI, tokenHash string) (string, error) {
	if userID == "" {
		return "", errors.New("family: empty user id")
	}

	now := time.Now().UTC()
	fam := Family{
		FamilyID:         uuid.NewString(),
		UserID:           userID,
		DeviceHash:       deviceHash(dev),
		UserAgent:        dev.UserAgent,
		IPAddress:        dev.IPAddress,
		CurrentJTI:       initialJTI,
		RefreshTokenHash: tokenHash,
		CreatedAt:        now,
		LastUsed:         now,
		ExpiresAt:        now.Add(m.cfg.FamilyTTL),
	}
	if err := m.store.Create(ctx, fam); err != nil {
		return "", err
	}

	if initialJTI != "" {
		if err := m.cache.MarkJTIUsed(ctx, initialJTI, m.cfg.JTICacheTTL); err != nil {
			// Cache is an optimization here; the ledger row is authoritative.
			m.logger.Warn("jti cache write failed", "family_id", fam.FamilyID, "error", err)
		}
	}

	m.logger.Info("session family created", "family_id", fam.FamilyID, "user_id", userID)
	return fam.FamilyID, nil
}

// Rotate atomically replaces the family's current refresh token.
//
// Exactly one concurrent caller can succeed for a family: contenders fail
// fast on the mutex with ErrConcurrentRefresh and must re-fetch state before
// retrying — retrying with the original (now stale) token is
// indistinguishable from an attack and revokes the family.
func (m *Manager) Rotate(ctx context.Context, familyID, presentedJTI, newJTI, newTokenHash string) error {
	if familyID == "" || newJTI == "" {
		return errors.New("family: family id and new jti required")
	}

	lockToken, err := m.cache.AcquireRotationLock(ctx, familyID)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.cache.ReleaseRotationLock(ctx, familyID, lockToken); relErr != nil {
			m.logger.Warn("rotation lock release failed", "family_id", familyID, "error", relErr)
		}
	}()

	fam, err := m.store.Get(ctx, familyID)
	if err != nil {
		return err
	}
	if fam.Revoked() {
		return ErrFamilyNotFound
	}

	// A presented jti that is not the current one is treated as replay
	// whether it is a captured old token or a never-issued one: the family
	// dies either way. An empty stored jti means the family was created
	// without a seed token and the first rotation binds the presented one.
	if fam.CurrentJTI != "" && fam.CurrentJTI != presentedJTI {
		return m.revokeForReplay(ctx, fam, presentedJTI)
	}

	// Fast-path global reuse check. Cache errors fail closed: refusing the
	// rotation beats guessing "not reused".
	seen, err := m.cache.JTISeen(ctx, newJTI)
	if err != nil {
		return err
	}
	if seen {
		m.logger.Warn("token reuse detected", "family_id", familyID, "jti", newJTI)
		return ErrJTIReused
	}

	err = m.store.Rotate(ctx, familyID, fam.CurrentJTI, newJTI, newTokenHash, time.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, ErrJTIReused):
		m.logger.Warn("token reuse detected", "family_id", familyID, "jti", newJTI)
		return err
	case errors.Is(err, ErrStaleRotation):
		// The CAS backstop caught a writer whose lease expired mid-flight.
		return m.revokeForReplay(ctx, fam, presentedJTI)
	default:
		return err
	}

	if err := m.cache.MarkJTIUsed(ctx, newJTI, m.cfg.JTICacheTTL); err != nil {
		m.logger.Warn("jti cache write failed", "family_id", familyID, "error", err)
	}
	return nil
}

func (m *Manager) revokeForReplay(ctx context.Context, fam Family, presentedJTI string) error {
	now := time.Now().UTC()
	if err := m.store.Revoke(ctx, fam.FamilyID, ReasonReplayDetected, presentedJTI, now); err != nil {
		// The replay verdict stands even if recording it failed; the caller
		// must still treat the token as burned.
		m.logger.Error("replay revocation write failed", "family_id", fam.FamilyID, "error", err)
		return ErrReplayDetected
	}
	if err := m.cache.MarkFamilyRevoked(ctx, fam.FamilyID, m.cfg.RevocationCacheTTL); err != nil {
		m.logger.Warn("revocation cache write failed", "family_id", fam.FamilyID, "error", err)
	}
	m.logger.Warn("token replay detected, family revoked",
		"family_id", fam.FamilyID, "user_id", fam.UserID, "reused_jti", presentedJTI)
	return ErrReplayDetected
}

// RevokeFamily marks a family permanently dead. Idempotent. Revocation does
// not wait on the rotation mutex: an in-flight rotation simply finds the
// family dead on its next step.
func (m *Manager) RevokeFamily(ctx context.Context, familyID, reason string) error {
	if err := m.store.Revoke(ctx, familyID, reason, "", time.Now().UTC()); err != nil {
		return err
	}
	if err := m.cache.MarkFamilyRevoked(ctx, familyID, m.cfg.RevocationCacheTTL); err != nil {
		m.logger.Warn("revocation cache write failed", "family_id", familyID, "error", err)
	}
	m.logger.Info("session family revoked", "family_id", familyID, "reason", reason)
	return nil
}

// IsFamilyRevoked reports whether the family is dead (revoked or missing),
// cache first, durable store on miss.
func (m *Manager) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	cached, err := m.cache.FamilyRevoked(ctx, familyID)
	if err == nil && cached {
		return true, nil
	}
	if err != nil {
		m.logger.Warn("revocation cache read failed", "family_id", familyID, "error", err)
	}

	fam, err := m.store.Get(ctx, familyID)
	if errors.Is(err, ErrFamilyNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if fam.Revoked() {
		if cacheErr := m.cache.MarkFamilyRevoked(ctx, familyID, m.cfg.RevocationCacheTTL); cacheErr != nil {
			m.logger.Warn("revocation cache write failed", "family_id", familyID, "error", cacheErr)
		}
		return true, nil
	}
	return false, nil
}

// IsJTIRevoked reports whether a jti can no longer be honored: it was
// superseded by a later rotation, or its family is dead. A jti the ledger
// has never seen returns false — there is nothing to revoke, and upstream
// signature/expiry checks own that case.
func (m *Manager) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	cached, err := m.cache.JTIRevoked(ctx, jti)
	if err == nil && cached {
		return true, nil
	}
	if err != nil {
		m.logger.Warn("jti revocation cache read failed", "jti", jti, "error", err)
	}

	familyID, err := m.store.LookupJTI(ctx, jti)
	if err != nil {
		return false, err
	}
	if familyID == "" {
		return false, nil
	}

	fam, err := m.store.Get(ctx, familyID)
	if errors.Is(err, ErrFamilyNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	revoked := fam.Revoked() || fam.CurrentJTI != jti
	if revoked {
		if cacheErr := m.cache.MarkJTIRevoked(ctx, jti, m.cfg.RevocationCacheTTL); cacheErr != nil {
			m.logger.Warn("jti revocation cache write failed", "jti", jti, "error", cacheErr)
		}
	}
	return revoked, nil
}

// ListUserSessions returns session summaries for the user's families,
// newest first.
func (m *Manager) ListUserSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	families, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(families))
	for _, fam := range families {
		summaries = append(summaries, SessionSummary{
			FamilyID:   fam.FamilyID,
			DeviceType: parseDeviceType(fam.UserAgent),
			Location:   parseLocation(fam.IPAddress),
			CreatedAt:  fam.CreatedAt,
			LastUsed:   fam.LastUsed,
			ExpiresAt:  fam.ExpiresAt,
			Revoked:    fam.Revoked(),
		})
	}
	return summaries, nil
}

// RevokeUserSession revokes one of the user's own families. A family owned
// by a different user is reported as not found rather than leaking its
// existence; revoking another user's family through this path is impossible.
func (m *Manager) RevokeUserSession(ctx context.Context, userID, familyID string) error {
	fam, err := m.store.Get(ctx, familyID)
	if err != nil {
		return err
	}
	if fam.UserID != userID {
		return ErrFamilyNotFound
	}
	return m.RevokeFamily(ctx, familyID, ReasonLogout)
}

// RevokeAllUserSessions revokes every live family of the user except the
// given one (empty means all) and returns the count revoked.
func (m *Manager) RevokeAllUserSessions(ctx context.Context, userID, exceptFamilyID string) (int, error) {
	count, err := m.store.RevokeAllForUser(ctx, userID, exceptFamilyID, ReasonLogoutAll, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.logger.Info("user sessions revoked", "user_id", userID, "count", count)
	}
	return count, nil
}

// CleanupExpired removes family rows past their expiry. Reclamation only:
// expired sessions are already unusable upstream.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	count, err := m.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.logger.Info("expired session families removed", "count", count)
	}
	return count, nil
}

// HealthCheck verifies both the durable store and the cache layer are
// reachable. Either failure marks the component unhealthy: rotation cannot
// proceed safely without both.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.store.Ping(ctx); err != nil {
		return err
	}
	if err := m.cache.Ping(ctx); err != nil {
		return fmt.Errorf("coordination layer: %w", err)
	}
	return nil
}
