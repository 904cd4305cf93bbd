package authcore

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := defaultConfig()
		cfg.Keys.Issuer = "https://auth.example.test"
		return cfg
	}

	if cfg := valid(); cfg.Validate() != nil {
		t.Fatalf("default config with issuer must validate: %v", cfg.Validate())
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown algorithm", func(c *Config) { c.Keys.Algorithm = "HS256" }},
		{"empty algorithm", func(c *Config) { c.Keys.Algorithm = "" }},
		{"missing issuer", func(c *Config) { c.Keys.Issuer = "" }},
		{"zero access ttl", func(c *Config) { c.Keys.AccessTTL = 0 }},
		{"zero rotation interval", func(c *Config) { c.Keys.RotationInterval = 0 }},
		{"zero jwks cache ttl", func(c *Config) { c.Keys.JWKSCacheTTL = 0 }},
		{"negative leeway", func(c *Config) { c.Keys.Leeway = -time.Second }},
		{"excessive leeway", func(c *Config) { c.Keys.Leeway = 5 * time.Minute }},
		{"zero family ttl", func(c *Config) { c.Family.FamilyTTL = 0 }},
		{"zero revocation cache ttl", func(c *Config) { c.Family.RevocationCacheTTL = 0 }},
		{"empty redis prefix", func(c *Config) { c.Cache.RedisPrefix = "" }},
		{"zero lock ttl", func(c *Config) { c.Cache.LockTTL = 0 }},
		{"excessive lock ttl", func(c *Config) { c.Cache.LockTTL = 5 * time.Minute }},
		{"audit enabled zero buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Keys.Algorithm != "RS256" {
		t.Fatalf("expected RS256 default, got %q", cfg.Keys.Algorithm)
	}
	if cfg.Keys.JWKSCacheTTL != 5*time.Minute {
		t.Fatalf("expected 300s JWKS cache, got %v", cfg.Keys.JWKSCacheTTL)
	}
	if cfg.Keys.RotationInterval != 24*time.Hour {
		t.Fatalf("expected 24h rotation interval, got %v", cfg.Keys.RotationInterval)
	}
	if cfg.Family.FamilyTTL != 30*24*time.Hour {
		t.Fatalf("expected 30d family TTL, got %v", cfg.Family.FamilyTTL)
	}
	if cfg.Cache.LockTTL != 10*time.Second {
		t.Fatalf("expected 10s lock lease, got %v", cfg.Cache.LockTTL)
	}
}
