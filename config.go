package authcore

import (
	"errors"
	"time"
)

// Config carries every tunable of the Engine. Zero values are filled in from
// defaultConfig by [New]; a Config passed to [Builder.WithConfig] is used as
// given and validated at Build time.
type Config struct {
	Keys    KeysConfig
	Family  FamilyConfig
	Cache   CacheConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
SIGNING KEY CONFIG
====================================
*/

// KeysConfig controls the signing key lifecycle and token parameters.
type KeysConfig struct {
	// Algorithm is "RS256" or "ES256". Every key the Engine generates and
	// every token it accepts uses this single algorithm.
	Algorithm string

	// Issuer is stamped into the iss claim of signed tokens and required
	// on verification.
	Issuer string

	// Audience, when non-empty, is required in the aud claim on
	// verification.
	Audience string

	// AccessTTL is the validity window of signed access tokens.
	AccessTTL time.Duration

	// RotationInterval is the cadence key rotation is expected to run at.
	// Retired keys older than twice this interval are swept after a
	// rotation.
	RotationInterval time.Duration

	// JWKSCacheTTL bounds how long a published JWKS document is served
	// from cache before rebuilding from the store.
	JWKSCacheTTL time.Duration

	// Leeway is the clock skew tolerance applied to time-based claims.
	// Capped at 2 minutes.
	Leeway time.Duration
}

/*
====================================
SESSION FAMILY CONFIG
====================================
*/

// FamilyConfig controls refresh-token session families.
type FamilyConfig struct {
	// FamilyTTL is the absolute lifetime of a session family from
	// creation; no rotation extends it.
	FamilyTTL time.Duration

	// RevocationCacheTTL bounds cached revocation verdicts.
	RevocationCacheTTL time.Duration

	// JTICacheTTL bounds the fast-path used-token cache. Defaults to
	// FamilyTTL.
	JTICacheTTL time.Duration
}

/*
====================================
COORDINATION CACHE CONFIG
====================================
*/

// CacheConfig controls the Redis coordination layer.
type CacheConfig struct {
	// RedisPrefix namespaces every key the Engine writes.
	RedisPrefix string

	// LockTTL is the lease length of the per-family rotation mutex. It
	// bounds how long a crashed rotation can wedge a family.
	LockTTL time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process atomic counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration [New] starts from. Callers tweak
// the returned value and pass it to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Keys: KeysConfig{
			Algorithm:        "RS256",
			AccessTTL:        15 * time.Minute,
			RotationInterval: 24 * time.Hour,
			JWKSCacheTTL:     5 * time.Minute,
			Leeway:           30 * time.Second,
		},
		Family: FamilyConfig{
			FamilyTTL:          30 * 24 * time.Hour,
			RevocationCacheTTL: 24 * time.Hour,
		},
		Cache: CacheConfig{
			RedisPrefix: "ac",
			LockTTL:     10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the Engine cannot run safely with.
func (c *Config) Validate() error {
	// Keys
	if c.Keys.Algorithm != "RS256" && c.Keys.Algorithm != "ES256" {
		return errors.New("Keys Algorithm must be RS256 or ES256")
	}
	if c.Keys.Issuer == "" {
		return errors.New("Keys Issuer must be set")
	}
	if c.Keys.AccessTTL <= 0 {
		return errors.New("Keys AccessTTL must be > 0")
	}
	if c.Keys.RotationInterval <= 0 {
		return errors.New("Keys RotationInterval must be > 0")
	}
	if c.Keys.JWKSCacheTTL <= 0 {
		return errors.New("Keys JWKSCacheTTL must be > 0")
	}
	if c.Keys.Leeway < 0 {
		return errors.New("Keys Leeway must be >= 0")
	}
	if c.Keys.Leeway > 2*time.Minute {
		return errors.New("Keys Leeway must be <= 2 minutes")
	}

	// Family
	if c.Family.FamilyTTL <= 0 {
		return errors.New("Family FamilyTTL must be > 0")
	}
	if c.Family.RevocationCacheTTL <= 0 {
		return errors.New("Family RevocationCacheTTL must be > 0")
	}
	if c.Family.JTICacheTTL < 0 {
		return errors.New("Family JTICacheTTL must be >= 0")
	}

	// Cache
	if c.Cache.RedisPrefix == "" {
		return errors.New("Cache RedisPrefix must be set")
	}
	if c.Cache.LockTTL <= 0 {
		return errors.New("Cache LockTTL must be > 0")
	}
	if c.Cache.LockTTL > time.Minute {
		return errors.New("Cache LockTTL must be <= 1 minute")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	return nil
}
