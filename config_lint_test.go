package authcore

import (
	"testing"
	"time"
)

func TestLintDefaultConfigNoHighFindings(t *testing.T) {
	// The default config is deliberately conservative; it may carry INFO
	// and WARN findings (audit and metrics default off) but never HIGH.
	cfg := defaultConfig()
	ws := cfg.Lint()

	if high := ws.BySeverity(LintHigh); len(high) != 0 {
		t.Errorf("default config produced HIGH findings: %v", high.Codes())
	}
	if !containsCode(ws.Codes(), "audit_disabled") {
		t.Error("default config disables audit; expected audit_disabled finding")
	}
}

func TestLintLargeLeeway(t *testing.T) {
	cfg := defaultConfig()
	cfg.Keys.Leeway = 90 * time.Second
	if !containsCode(cfg.Lint().Codes(), "leeway_large") {
		t.Error("expected leeway_large finding")
	}
}

func TestLintLongAccessTTL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Keys.AccessTTL = time.Hour
	if !containsCode(cfg.Lint().Codes(), "access_ttl_long") {
		t.Error("expected access_ttl_long finding")
	}
}

func TestLintJWKSCacheExceedsRotation(t *testing.T) {
	cfg := defaultConfig()
	cfg.Keys.RotationInterval = time.Hour
	cfg.Keys.JWKSCacheTTL = 2 * time.Hour
	ws := cfg.Lint()
	if !containsCode(ws.Codes(), "jwks_cache_exceeds_rotation") {
		t.Fatal("expected jwks_cache_exceeds_rotation finding")
	}
	for _, w := range ws {
		if w.Code == "jwks_cache_exceeds_rotation" && w.Severity != LintHigh {
			t.Errorf("jwks_cache_exceeds_rotation should be HIGH, got %s", w.Severity)
		}
	}
}

func TestLintLongFamilyTTL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Family.FamilyTTL = 365 * 24 * time.Hour
	if !containsCode(cfg.Lint().Codes(), "family_ttl_long") {
		t.Error("expected family_ttl_long finding")
	}
}

func TestLintShortJTICache(t *testing.T) {
	cfg := defaultConfig()
	cfg.Family.JTICacheTTL = time.Minute
	cfg.Keys.AccessTTL = 15 * time.Minute
	if !containsCode(cfg.Lint().Codes(), "jti_cache_shorter_than_access") {
		t.Error("expected jti_cache_shorter_than_access finding")
	}
}

func TestLintZeroJTICacheUsesFamilyTTL(t *testing.T) {
	// JTICacheTTL defaults to FamilyTTL at build time; lint must apply the
	// same default instead of flagging the zero value.
	cfg := defaultConfig()
	cfg.Family.JTICacheTTL = 0
	if containsCode(cfg.Lint().Codes(), "jti_cache_shorter_than_access") {
		t.Error("zero JTICacheTTL should inherit FamilyTTL, not be flagged")
	}
}

func TestLintLongLockTTL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cache.LockTTL = 45 * time.Second
	if !containsCode(cfg.Lint().Codes(), "lock_ttl_long") {
		t.Error("expected lock_ttl_long finding")
	}
}

func TestLintBlockingAuditIsInfo(t *testing.T) {
	cfg := defaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	ws := cfg.Lint()
	if !containsCode(ws.Codes(), "audit_blocking") {
		t.Fatal("expected audit_blocking finding")
	}
	for _, w := range ws {
		if w.Code == "audit_blocking" && w.Severity != LintInfo {
			t.Errorf("audit_blocking should be INFO, got %s", w.Severity)
		}
	}
}

func TestLintAsError(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Errorf("default config should pass AsError(LintHigh): %v", err)
	}

	cfg.Keys.RotationInterval = time.Hour
	cfg.Keys.JWKSCacheTTL = 2 * time.Hour
	if err := cfg.Lint().AsError(LintHigh); err == nil {
		t.Error("expected AsError(LintHigh) to fail for a stale-JWKS config")
	}
}

func TestLintBySeverity(t *testing.T) {
	cfg := defaultConfig()
	cfg.Keys.RotationInterval = time.Hour
	cfg.Keys.JWKSCacheTTL = 2 * time.Hour
	ws := cfg.Lint()

	high := ws.BySeverity(LintHigh)
	if len(high) == 0 {
		t.Fatal("expected at least one HIGH finding")
	}
	for _, w := range high {
		if w.Severity < LintHigh {
			t.Errorf("BySeverity(LintHigh) returned severity %s", w.Severity)
		}
	}
}

// helpers

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
