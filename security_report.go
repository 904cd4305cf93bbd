package authcore

import "time"

// SecurityReport is a point-in-time summary of the posture the Engine was
// built with. It exposes configuration, never key material or session state,
// so it is safe to log or ship to an ops dashboard.
type SecurityReport struct {
	SigningAlgorithm string
	Issuer           string
	AudienceRequired bool

	AccessTTL        time.Duration
	Leeway           time.Duration
	RotationInterval time.Duration
	JWKSCacheTTL     time.Duration

	FamilyTTL       time.Duration
	RotationLockTTL time.Duration

	AuditEnabled   bool
	MetricsEnabled bool

	LintFindings LintWarnings
}

// SecurityReport summarizes the built configuration, including its lint
// findings. Safe on a nil Engine.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm: e.config.Keys.Algorithm,
		Issuer:           e.config.Keys.Issuer,
		AudienceRequired: e.config.Keys.Audience != "",

		AccessTTL:        e.config.Keys.AccessTTL,
		Leeway:           e.config.Keys.Leeway,
		RotationInterval: e.config.Keys.RotationInterval,
		JWKSCacheTTL:     e.config.Keys.JWKSCacheTTL,

		FamilyTTL:       e.config.Family.FamilyTTL,
		RotationLockTTL: e.config.Cache.LockTTL,

		AuditEnabled:   e.config.Audit.Enabled,
		MetricsEnabled: e.config.Metrics.Enabled,

		LintFindings: e.config.Lint(),
	}
}
