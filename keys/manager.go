package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrKeyRevoked is returned when a token references a revoked key, even
	// if the signature would otherwise verify.
	ErrKeyRevoked = errors.New("signing key revoked")
	// ErrAlgorithmMismatch is returned when a token header's algorithm does
	// not match the referenced key record (algorithm-confusion defense).
	ErrAlgorithmMismatch = errors.New("token algorithm mismatch")
	// ErrTokenInvalid is returned for any verification failure: bad
	// signature, expiry, issued-at, issuer, or audience. There is no
	// lenient partial-verification path.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrMissingKeyID is returned for tokens without a kid header.
	ErrMissingKeyID = errors.New("token missing key id")
)

// Config controls the key lifecycle manager.
type Config struct {
	// Algorithm is fixed per deployment. Tokens signed under any other
	// algorithm are rejected at verification.
	Algorithm Algorithm

	// Issuer is stamped into signed tokens when the payload carries no iss
	// claim, and enforced on verification.
	Issuer string

	// RotationInterval drives the retired-key sweep: retired keys older than
	// twice this interval are deleted. Default 24h.
	RotationInterval time.Duration

	// JWKSCacheTTL bounds staleness of the published key set between
	// mutations. Default 300s.
	JWKSCacheTTL time.Duration

	// TokenTTL is applied when a signed payload carries no exp claim.
	// Default 15m.
	TokenTTL time.Duration

	// Leeway is the clock-skew allowance for time-based claims.
	Leeway time.Duration
}

func (c *Config) applyDefaults() {
	if c.RotationInterval <= 0 {
		c.RotationInterval = 24 * time.Hour
	}
	if c.JWKSCacheTTL <= 0 {
		c.JWKSCacheTTL = 300 * time.Second
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
}

// Manager owns the signing key lifecycle: exactly one active key, a
// published JWKS, scheduled and emergency rotation, and kid-addressed
// sign/verify.
//
// Rotate and EmergencyRevoke assume external serialization (one rotation
// scheduler); every other method is safe for arbitrary concurrent use.
type Manager struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	jwksMu      sync.Mutex
	jwksCached  *JWKS
	jwksExpires time.Time
}

// NewManager validates the configuration and constructs a Manager. An
// algorithm outside the supported enumeration is fatal here, never defaulted.
func NewManager(cfg Config, store Store, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("keys: nil store")
	}
	if _, err := ParseAlgorithm(string(cfg.Algorithm)); err != nil {
		return nil, err
	}
	if cfg.Issuer == "" {
		return nil, errors.New("keys: issuer required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("keys: invalid leeway configuration")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, store: store, logger: logger}, nil
}

// Initialize ensures a current signing key exists, rotating one in if the
// store is empty. Idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	_, err := m.store.GetCurrent(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNoCurrentKey) {
		return err
	}
	return m.Rotate(ctx)
}

// CurrentKey returns the active key record, or ErrNoCurrentKey.
func (m *Manager) CurrentKey(ctx context.Context) (Record, error) {
	return m.store.GetCurrent(ctx)
}

// Rotate generates a new key pair, promotes it to active (demoting the
// previous active key to retired), then sweeps retired keys past the grace
// period of twice the rotation interval. A storage failure aborts the
// rotation and leaves the previous current key in place.
func (m *Manager) Rotate(ctx context.Context) error {
	keyID, privPEM, pubPEM, err := GenerateKeyPair(m.cfg.Algorithm)
	if err != nil {
		return err
	}

	rec := Record{
		KeyID:           keyID,
		Algorithm:       m.cfg.Algorithm,
		PrivateMaterial: privPEM,
		PublicMaterial:  pubPEM,
		Status:          StatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, rec, true); err != nil {
		return err
	}
	m.invalidateJWKS()
	m.logger.Info("signing key rotated", "kid", keyID, "alg", string(m.cfg.Algorithm))

	// Sweep is storage reclamation, not a rotation precondition.
	cutoff := time.Now().UTC().Add(-2 * m.cfg.RotationInterval)
	if removed, err := m.store.DeleteRetiredBefore(ctx, cutoff); err != nil {
		m.logger.Warn("retired key sweep failed", "error", err)
	} else if removed > 0 {
		m.logger.Info("retired keys swept", "count", removed)
	}
	return nil
}

// StoreKeyPair persists externally generated material. With isCurrent set,
// the current pointer moves atomically with the insert; on failure the
// pointer is untouched.
func (m *Manager) StoreKeyPair(ctx context.Context, keyID string, privatePEM, publicPEM []byte, isCurrent bool) error {
	if _, err := ParsePrivateKey(m.cfg.Algorithm, privatePEM); err != nil {
		return err
	}
	if _, err := ParsePublicKey(m.cfg.Algorithm, publicPEM); err != nil {
		return err
	}

	status := StatusRetired
	if isCurrent {
		status = StatusActive
	}
	rec := Record{
		KeyID:           keyID,
		Algorithm:       m.cfg.Algorithm,
		PrivateMaterial: privatePEM,
		PublicMaterial:  publicPEM,
		Status:          status,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, rec, isCurrent); err != nil {
		return err
	}
	m.invalidateJWKS()
	return nil
}

// EmergencyRevoke marks a key revoked regardless of status. Revoking the
// current key triggers exactly one automatic rotation so a valid current key
// exists on return; if that rotation fails the error is surfaced and the
// system is left with no current key — fail-loud, not fail-open.
func (m *Manager) EmergencyRevoke(ctx context.Context, keyID, reason string) error {
	wasCurrent, err := m.store.MarkRevoked(ctx, keyID, reason, time.Now().UTC())
	if err != nil {
		return err
	}
	m.invalidateJWKS()
	m.logger.Warn("signing key revoked", "kid", keyID, "reason", reason, "was_current", wasCurrent)

	if !wasCurrent {
		return nil
	}
	if err := m.Rotate(ctx); err != nil {
		return fmt.Errorf("revoked current key but replacement rotation failed: %w", err)
	}
	return nil
}

// Sign signs the payload with the current key, embedding kid and algorithm in
// the header. Missing iss and exp claims are filled from configuration.
// Fails when no current key exists; there is no fallback signing key.
func (m *Manager) Sign(ctx context.Context, claims jwt.MapClaims) (string, error) {
	rec, err := m.store.GetCurrent(ctx)
	if err != nil {
		return "", err
	}
	signer, err := ParsePrivateKey(rec.Algorithm, rec.PrivateMaterial)
	if err != nil {
		return "", err
	}
	method, err := rec.Algorithm.SigningMethod()
	if err != nil {
		return "", err
	}

	now := time.Now()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = m.cfg.Issuer
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = jwt.NewNumericDate(now)
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = jwt.NewNumericDate(now.Add(m.cfg.TokenTTL))
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = rec.KeyID
	return token.SignedString(signer)
}

// Verify resolves the exact key record named by the token's kid header,
// rejects revoked keys and algorithm mismatches before any signature check,
// then verifies signature, expiry, issued-at, issuer, and (when given)
// audience. Any failure yields an error wrapping ErrTokenInvalid or one of
// the more specific sentinels; there is no partial result.
func (m *Manager) Verify(ctx context.Context, tokenStr, audience string) (jwt.MapClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods(validMethodNames(m.cfg.Algorithm)),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.cfg.Leeway))
	}
	if audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}

	parser := jwt.NewParser(options...)
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKeyID
		}

		rec, err := m.store.Get(ctx, kid)
		if err != nil {
			return nil, err
		}
		if rec.Status == StatusRevoked {
			return nil, fmt.Errorf("%w: %s", ErrKeyRevoked, kid)
		}
		if t.Method.Alg() != string(rec.Algorithm) {
			return nil, fmt.Errorf("%w: header %s, key %s",
				ErrAlgorithmMismatch, t.Method.Alg(), rec.Algorithm)
		}
		return ParsePublicKey(rec.Algorithm, rec.PublicMaterial)
	})
	if err != nil {
		// Keep the specific sentinels visible through errors.Is while every
		// failure still reads as a verification failure.
		switch {
		case errors.Is(err, ErrKeyRevoked),
			errors.Is(err, ErrAlgorithmMismatch),
			errors.Is(err, ErrMissingKeyID),
			errors.Is(err, ErrKeyNotFound),
			errors.Is(err, ErrKeyStoreUnavailable):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// PublicJWKS returns the published verification key set: active and retired
// keys only, in standard JWKS form. The set is cached for JWKSCacheTTL and
// invalidated on every mutation.
func (m *Manager) PublicJWKS(ctx context.Context) (JWKS, error) {
	m.jwksMu.Lock()
	defer m.jwksMu.Unlock()

	now := time.Now()
	if m.jwksCached != nil && now.Before(m.jwksExpires) {
		return *m.jwksCached, nil
	}

	records, err := m.store.List(ctx)
	if err != nil {
		return JWKS{}, err
	}

	set := JWKS{Keys: make([]JWK, 0, len(records))}
	for _, rec := range records {
		if rec.Status == StatusRevoked {
			continue
		}
		jwk, err := buildJWK(rec)
		if err != nil {
			return JWKS{}, err
		}
		set.Keys = append(set.Keys, jwk)
	}

	m.jwksCached = &set
	m.jwksExpires = now.Add(m.cfg.JWKSCacheTTL)
	return set, nil
}

func (m *Manager) invalidateJWKS() {
	m.jwksMu.Lock()
	m.jwksCached = nil
	m.jwksExpires = time.Time{}
	m.jwksMu.Unlock()
}

// HealthCheck verifies that a current key exists, the public set is
// non-empty, a synthetic token round-trips sign+verify, and the backing
// store is reachable. Any single failure is reported.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.store.Ping(ctx); err != nil {
		return err
	}
	if _, err := m.store.GetCurrent(ctx); err != nil {
		return err
	}
	set, err := m.PublicJWKS(ctx)
	if err != nil {
		return err
	}
	if len(set.Keys) == 0 {
		return errors.New("public key set is empty")
	}

	probe, err := m.Sign(ctx, jwt.MapClaims{
		"sub": "health-check",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	if err != nil {
		return fmt.Errorf("health sign: %w", err)
	}
	if _, err := m.Verify(ctx, probe, ""); err != nil {
		return fmt.Errorf("health verify: %w", err)
	}
	return nil
}

func validMethodNames(alg Algorithm) []string {
	return []string{string(alg)}
}
