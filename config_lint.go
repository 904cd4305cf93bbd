package authcore

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity grades a lint finding. Validate rejects configs that cannot
// work; Lint flags configs that work but weaken the security posture.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a single finding. Code is stable and machine-matchable;
// Message is for humans.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

type LintWarnings []LintWarning

// Codes returns the stable codes of all findings, in order.
func (ws LintWarnings) Codes() []string {
	codes := make([]string, len(ws))
	for i, w := range ws {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity returns the findings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns nil when no finding reaches min, otherwise an error listing
// the offending codes. Intended for startup gates in hardened deployments.
func (ws LintWarnings) AsError(min LintSeverity) error {
	offending := ws.BySeverity(min)
	if len(offending) == 0 {
		return nil
	}
	return fmt.Errorf("config lint: %s", strings.Join(offending.Codes(), ", "))
}

// Lint inspects a validated config for settings that are legal but weaken
// the deployment. Callers decide what to do with the findings; AsError turns
// a severity threshold into a startup failure.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings

	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{
			Code:     code,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if c.Keys.Leeway > time.Minute {
		add("leeway_large", LintWarn,
			"clock-skew leeway %s widens the post-expiry acceptance window", c.Keys.Leeway)
	}
	if c.Keys.AccessTTL > 30*time.Minute {
		add("access_ttl_long", LintWarn,
			"access tokens live %s; revocation only takes effect at expiry", c.Keys.AccessTTL)
	}
	if c.Keys.RotationInterval > 90*24*time.Hour {
		add("rotation_interval_long", LintWarn,
			"signing keys rotate every %s; a leaked key stays trusted that long", c.Keys.RotationInterval)
	}
	if c.Keys.JWKSCacheTTL > c.Keys.RotationInterval {
		add("jwks_cache_exceeds_rotation", LintHigh,
			"JWKS cache TTL %s exceeds the rotation interval %s, so verifiers can miss a new key", c.Keys.JWKSCacheTTL, c.Keys.RotationInterval)
	}
	if c.Family.FamilyTTL > 90*24*time.Hour {
		add("family_ttl_long", LintWarn,
			"session families live %s without re-authentication", c.Family.FamilyTTL)
	}
	jtiTTL := c.Family.JTICacheTTL
	if jtiTTL == 0 {
		jtiTTL = c.Family.FamilyTTL
	}
	if jtiTTL < c.Keys.AccessTTL {
		add("jti_cache_shorter_than_access", LintHigh,
			"used-token cache TTL %s is shorter than the access TTL %s; replay detection falls to the durable ledger alone", jtiTTL, c.Keys.AccessTTL)
	}
	if c.Cache.LockTTL > 30*time.Second {
		add("lock_ttl_long", LintWarn,
			"rotation lock TTL %s blocks a family that long if a holder dies", c.Cache.LockTTL)
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintWarn,
			"audit events are disabled; replay and revocation incidents leave no trail")
	}
	if c.Audit.Enabled && !c.Audit.DropIfFull {
		add("audit_blocking", LintInfo,
			"audit dispatch blocks when the buffer fills; rotation latency absorbs sink stalls")
	}
	if !c.Metrics.Enabled {
		add("metrics_disabled", LintInfo,
			"metrics are disabled; contention and replay rates will not be observable")
	}

	return ws
}
