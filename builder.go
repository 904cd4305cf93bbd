package authcore

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/levipshemish/jewgo-app-sub004/family"
	"github.com/levipshemish/jewgo-app-sub004/keys"
)

// Builder assembles an Engine. A Builder is single-use: Build may be called
// once, and the zero Builder is not usable (start from [New]).
type Builder struct {
	config Config

	redis redis.UniversalClient
	pool  *pgxpool.Pool

	keyStore    keys.Store
	familyStore family.Store

	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client used for the rotation mutex and the
// revocation/reuse caches. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres sets the connection pool backing the durable key and family
// stores. Ignored for a store that was set explicitly.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.pool = pool
	return b
}

// WithKeyStore overrides the signing key store.
func (b *Builder) WithKeyStore(store keys.Store) *Builder {
	b.keyStore = store
	return b
}

// WithFamilyStore overrides the session family store.
func (b *Builder) WithFamilyStore(store family.Store) *Builder {
	b.familyStore = store
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the destination for audit events. Only consulted when
// Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles metric collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the verification latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the stores and coordination
// layer, and returns a ready Engine. The Engine does not touch the network
// until its methods are called.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	keyStore := b.keyStore
	familyStore := b.familyStore
	if b.pool != nil {
		if keyStore == nil {
			keyStore = keys.NewPostgresStore(b.pool)
		}
		if familyStore == nil {
			familyStore = family.NewPostgresStore(b.pool)
		}
	}
	if keyStore == nil {
		return nil, errors.New("key store required (WithPostgres or WithKeyStore)")
	}
	if familyStore == nil {
		return nil, errors.New("family store required (WithPostgres or WithFamilyStore)")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	keyManager, err := keys.NewManager(keys.Config{
		Algorithm:        keys.Algorithm(cfg.Keys.Algorithm),
		Issuer:           cfg.Keys.Issuer,
		RotationInterval: cfg.Keys.RotationInterval,
		JWKSCacheTTL:     cfg.Keys.JWKSCacheTTL,
		TokenTTL:         cfg.Keys.AccessTTL,
		Leeway:           cfg.Keys.Leeway,
	}, keyStore, logger.With("component", "keys"))
	if err != nil {
		return nil, err
	}

	coordinator := family.NewCoordinator(b.redis, cfg.Cache.RedisPrefix, cfg.Cache.LockTTL)
	familyManager, err := family.NewManager(family.Config{
		FamilyTTL:          cfg.Family.FamilyTTL,
		RevocationCacheTTL: cfg.Family.RevocationCacheTTL,
		JTICacheTTL:        cfg.Family.JTICacheTTL,
	}, familyStore, coordinator, logger.With("component", "family"))
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		keys:     keyManager,
		families: familyManager,
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		logger:   logger,
	}

	b.built = true

	return engine, nil
}
