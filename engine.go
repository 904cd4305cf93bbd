package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/levipshemish/jewgo-app-sub004/family"
	"github.com/levipshemish/jewgo-app-sub004/keys"
)

// Revocation reasons accepted by RevokeFamily. Replay revocations are
// recorded internally and cannot be requested through the public surface.
const (
	ReasonLogout       = family.ReasonLogout
	ReasonLogoutAll    = family.ReasonLogoutAll
	ReasonAdminRevoked = family.ReasonAdminRevoked
)

// SessionSummary is re-exported for callers that only import authcore.
type SessionSummary = family.SessionSummary

// Engine is the composed token core: signing key lifecycle plus refresh
// token session families. Construct through [Builder.Build]; the zero Engine
// returns ErrEngineNotReady from every method.
type Engine struct {
	config   Config
	keys     *keys.Manager
	families *family.Manager
	audit    *auditDispatcher
	metrics  *Metrics
	logger   *slog.Logger
}

func (e *Engine) ready() bool {
	return e != nil && e.keys != nil && e.families != nil
}

// Close flushes and stops the audit dispatcher. Idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// backpressure since the Engine was built.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the Engine's counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
SIGNING KEYS
====================================
*/

// InitializeKeys ensures a current signing key exists, generating one if the
// store is empty. Idempotent; call once at startup before signing.
func (e *Engine) InitializeKeys(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.keys.Initialize(ctx)
}

// SignAccessToken signs the claims with the current key. Standard claims
// (iss, iat, exp) are filled in when absent; the key id travels in the token
// header.
func (e *Engine) SignAccessToken(ctx context.Context, claims jwt.MapClaims) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	token, err := e.keys.Sign(ctx, claims)
	if err != nil {
		e.metricInc(MetricTokenSignFailure)
		return "", err
	}
	e.metricInc(MetricTokenSigned)
	return token, nil
}

// VerifyAccessToken verifies signature, expiry, issued-at, issuer, and, when
// configured, audience, and returns the claims. Tokens signed by retired
// keys still verify; tokens signed by revoked keys never do.
func (e *Engine) VerifyAccessToken(ctx context.Context, tokenStr string) (jwt.MapClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.keys.Verify(ctx, tokenStr, e.config.Keys.Audience)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return nil, err
	}
	e.metricInc(MetricTokenVerified)
	return claims, nil
}

// PublicJWKS returns the published key set: active and retired keys, never
// revoked ones, never private material. Served from a TTL cache that key
// mutations invalidate.
func (e *Engine) PublicJWKS(ctx context.Context) (keys.JWKS, error) {
	if !e.ready() {
		return keys.JWKS{}, ErrEngineNotReady
	}

	set, err := e.keys.PublicJWKS(ctx)
	if err != nil {
		return keys.JWKS{}, err
	}
	e.metricInc(MetricJWKSServed)
	return set, nil
}

// CurrentKey returns the active signing key with private material stripped.
func (e *Engine) CurrentKey(ctx context.Context) (keys.Record, error) {
	if !e.ready() {
		return keys.Record{}, ErrEngineNotReady
	}

	rec, err := e.keys.CurrentKey(ctx)
	if err != nil {
		return keys.Record{}, err
	}
	return rec.Public(), nil
}

// RotateKeys generates a fresh key pair, makes it current, retires the
// previous key, and sweeps retired keys past the retention window.
func (e *Engine) RotateKeys(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	err := e.keys.Rotate(ctx)
	e.emitAudit(ctx, auditEventKeyRotation, err == nil, "", "", "", err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricKeyRotation)
	e.logger.Info("signing keys rotated")
	return nil
}

// ImportKeyPair stores externally generated PEM key material, optionally
// making it the current signing key.
func (e *Engine) ImportKeyPair(ctx context.Context, keyID string, privatePEM, publicPEM []byte, makeCurrent bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.keys.StoreKeyPair(ctx, keyID, privatePEM, publicPEM, makeCurrent)
}

// EmergencyRevokeKey marks the key revoked effective immediately: tokens it
// signed stop verifying and it leaves the JWKS. Revoking the current key
// triggers an immediate replacement rotation.
func (e *Engine) EmergencyRevokeKey(ctx context.Context, keyID, reason string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	err := e.keys.EmergencyRevoke(ctx, keyID, reason)
	e.emitAudit(ctx, auditEventKeyEmergencyRevoked, err == nil, "", "", keyID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	if err != nil {
		return err
	}
	e.metricInc(MetricKeyEmergencyRevoked)
	return nil
}

/*
====================================
SESSION FAMILIES
====================================
*/

// CreateSessionFamily starts a session family for the user at login. Device
// attribution comes from [WithUserAgent] and [WithClientIP] on ctx.
// initialJTI and tokenHash seed the first refresh token and may be empty, in
// which case the first rotation binds whatever jti it is presented.
func (e *Engine) CreateSessionFamily(ctx context.Context, userID, initialJTI, tokenHash string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	dev := family.DeviceInfo{
		UserAgent: userAgentFromContext(ctx),
		IPAddress: clientIPFromContext(ctx),
	}
	familyID, err := e.families.CreateFamily(ctx, userID, dev, initialJTI, tokenHash)
	e.emitAudit(ctx, auditEventFamilyCreated, err == nil, userID, familyID, "", err, nil)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricFamilyCreated)
	return familyID, nil
}

// RotateSession exchanges the family's current refresh token for a new one.
// Exactly one concurrent caller per family succeeds; a presented jti that is
// not current revokes the whole family and returns ErrReplayDetected.
func (e *Engine) RotateSession(ctx context.Context, familyID, presentedJTI, newJTI, newTokenHash string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	err := e.families.Rotate(ctx, familyID, presentedJTI, newJTI, newTokenHash)
	switch {
	case err == nil:
		e.metricInc(MetricRotationSuccess)
		e.emitAudit(ctx, auditEventSessionRotated, true, "", familyID, "", nil, nil)
	case errors.Is(err, ErrReplayDetected):
		e.metricInc(MetricReplayDetected)
		e.emitAudit(ctx, auditEventReplayDetected, false, "", familyID, "", err, func() map[string]string {
			return map[string]string{"presented_jti": presentedJTI}
		})
	case errors.Is(err, ErrRefreshReuse):
		e.metricInc(MetricReuseDetected)
		e.emitAudit(ctx, auditEventReuseDetected, false, "", familyID, "", err, nil)
	case errors.Is(err, ErrConcurrentRefresh):
		e.metricInc(MetricRotationContention)
	default:
		e.metricInc(MetricRotationFailure)
	}
	return err
}

// RevokeFamily marks the family permanently dead. Idempotent.
func (e *Engine) RevokeFamily(ctx context.Context, familyID, reason string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	err := e.families.RevokeFamily(ctx, familyID, reason)
	e.emitAudit(ctx, auditEventFamilyRevoked, err == nil, "", familyID, "", err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	if err != nil {
		return err
	}
	e.metricInc(MetricFamilyRevoked)
	return nil
}

// IsFamilyRevoked reports whether the family is dead: revoked or missing.
func (e *Engine) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	return e.families.IsFamilyRevoked(ctx, familyID)
}

// IsJTIRevoked reports whether a refresh token jti can no longer be honored:
// superseded by a later rotation or belonging to a dead family.
func (e *Engine) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	return e.families.IsJTIRevoked(ctx, jti)
}

// ListUserSessions returns the user's session families as display summaries,
// newest first.
func (e *Engine) ListUserSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.families.ListUserSessions(ctx, userID)
}

// RevokeUserSession revokes one of the user's own sessions. A family owned
// by another user reads as not found.
func (e *Engine) RevokeUserSession(ctx context.Context, userID, familyID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	err := e.families.RevokeUserSession(ctx, userID, familyID)
	e.emitAudit(ctx, auditEventFamilyRevoked, err == nil, userID, familyID, "", err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricFamilyRevoked)
	return nil
}

// RevokeAllUserSessions revokes every live session of the user except the
// given one (empty means all) and returns the number revoked.
func (e *Engine) RevokeAllUserSessions(ctx context.Context, userID, exceptFamilyID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	count, err := e.families.RevokeAllUserSessions(ctx, userID, exceptFamilyID)
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, userID, "", "", err, nil)
	if err != nil {
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	return count, nil
}

// CleanupExpiredSessions removes expired family rows and returns the count.
// Intended for a periodic job.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	count, err := e.families.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		e.emitAudit(ctx, auditEventSessionCleanup, true, "", "", "", nil, nil)
		for i := 0; i < count; i++ {
			e.metricInc(MetricSessionsCleaned)
		}
	}
	return count, nil
}

/*
====================================
HEALTH
====================================
*/

// HealthCheck verifies both subsystems end to end: key store reachability
// plus a sign/verify probe, and family store plus coordination layer
// reachability.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	if err := e.keys.HealthCheck(ctx); err != nil {
		return err
	}
	return e.families.HealthCheck(ctx)
}
