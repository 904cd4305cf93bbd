package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one of the Engine's internal counters.
type MetricID uint16

const (
	// MetricTokenSigned counts access tokens signed.
	MetricTokenSigned MetricID = iota
	// MetricTokenSignFailure counts signing attempts that failed.
	MetricTokenSignFailure
	// MetricTokenVerified counts access tokens that verified successfully.
	MetricTokenVerified
	// MetricTokenRejected counts access tokens rejected during verification.
	MetricTokenRejected
	// MetricKeyRotation counts completed signing key rotations.
	MetricKeyRotation
	// MetricKeyEmergencyRevoked counts emergency key revocations.
	MetricKeyEmergencyRevoked
	// MetricJWKSServed counts JWKS documents served.
	MetricJWKSServed
	// MetricFamilyCreated counts session families created.
	MetricFamilyCreated
	// MetricRotationSuccess counts successful refresh token rotations.
	MetricRotationSuccess
	// MetricRotationContention counts rotations rejected on the per-family mutex.
	MetricRotationContention
	// MetricReplayDetected counts replays that revoked a family.
	MetricReplayDetected
	// MetricReuseDetected counts new-jti collisions with the used-token ledger.
	MetricReuseDetected
	// MetricRotationFailure counts rotations that failed for other reasons.
	MetricRotationFailure
	// MetricFamilyRevoked counts explicit family revocations.
	MetricFamilyRevoked
	// MetricLogoutAll counts revoke-all-sessions operations.
	MetricLogoutAll
	// MetricSessionsCleaned counts expired families removed by cleanup.
	MetricSessionsCleaned
	// MetricVerifyLatency is the verification latency histogram.
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of different metrics do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of atomic counters plus an optional latency
// histogram. All methods are safe for concurrent use and are no-ops on a nil
// or disabled receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics set per the given config.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is being recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a verification latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricVerifyLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and histogram. Disabled metrics snapshot to
// empty maps, never nil.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
