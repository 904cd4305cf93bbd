package internaldefs

import (
	authcore "github.com/levipshemish/jewgo-app-sub004"
)

// CounterDef binds a core MetricID to its exported name and help text.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds a core histogram MetricID to its exported name and help
// text.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs is the single source of truth for exported counter names; the
// OTel and Prometheus exporters both render from it.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricTokenSigned, Name: "authcore_token_signed_total", Help: "Access tokens signed."},
	{ID: authcore.MetricTokenSignFailure, Name: "authcore_token_sign_failure_total", Help: "Failed signing attempts."},
	{ID: authcore.MetricTokenVerified, Name: "authcore_token_verified_total", Help: "Access tokens verified successfully."},
	{ID: authcore.MetricTokenRejected, Name: "authcore_token_rejected_total", Help: "Access tokens rejected during verification."},
	{ID: authcore.MetricKeyRotation, Name: "authcore_key_rotation_total", Help: "Completed signing key rotations."},
	{ID: authcore.MetricKeyEmergencyRevoked, Name: "authcore_key_emergency_revoked_total", Help: "Emergency key revocations."},
	{ID: authcore.MetricJWKSServed, Name: "authcore_jwks_served_total", Help: "JWKS documents served."},
	{ID: authcore.MetricFamilyCreated, Name: "authcore_family_created_total", Help: "Session families created."},
	{ID: authcore.MetricRotationSuccess, Name: "authcore_rotation_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRotationContention, Name: "authcore_rotation_contention_total", Help: "Rotations rejected on the per-family mutex."},
	{ID: authcore.MetricReplayDetected, Name: "authcore_replay_detected_total", Help: "Replays that revoked a session family."},
	{ID: authcore.MetricReuseDetected, Name: "authcore_reuse_detected_total", Help: "New token ids colliding with the used-token ledger."},
	{ID: authcore.MetricRotationFailure, Name: "authcore_rotation_failure_total", Help: "Rotations that failed for other reasons."},
	{ID: authcore.MetricFamilyRevoked, Name: "authcore_family_revoked_total", Help: "Explicit session family revocations."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Revoke-all-sessions operations."},
	{ID: authcore.MetricSessionsCleaned, Name: "authcore_sessions_cleaned_total", Help: "Expired session families removed by cleanup."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricVerifyLatency, Name: "authcore_verify_latency_seconds", Help: "Token verification latency histogram."},
}

// HistogramBounds are the bucket upper bounds in seconds, Prometheus le
// label form.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with characters that are
// legal in OTel instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
