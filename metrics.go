package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one Engine counter.
type MetricID uint16

const (
	// MetricSignupCodeRequested counts codes stored and delivered.
	MetricSignupCodeRequested MetricID = iota
	// MetricSignupCodeRequestFailure counts RequestCode calls that returned an error.
	MetricSignupCodeRequestFailure
	// MetricSignupCodeVerified counts identities created from a verified code.
	MetricSignupCodeVerified
	// MetricSignupCodeVerifyFailure counts VerifyCode calls that returned an error.
	MetricSignupCodeVerifyFailure
	// MetricPasswordResetRequest counts reset links delivered.
	MetricPasswordResetRequest
	// MetricPasswordResetRequestFailure counts RequestReset calls that returned an error.
	MetricPasswordResetRequestFailure
	// MetricPasswordResetConfirmSuccess counts completed resets.
	MetricPasswordResetConfirmSuccess
	// MetricPasswordResetConfirmFailure counts CompleteReset calls that returned an error.
	MetricPasswordResetConfirmFailure
	// MetricSignInSuccess counts local sign-ins.
	MetricSignInSuccess
	// MetricSignInFailure counts rejected local sign-ins.
	MetricSignInFailure
	// MetricSignInExternalSuccess counts external sign-ins.
	MetricSignInExternalSuccess
	// MetricSignInExternalFailure counts rejected external sign-ins.
	MetricSignInExternalFailure
	// MetricIdentityProvisioned counts identities created on first external sight.
	MetricIdentityProvisioned
	// MetricPasswordRehashed counts hashes upgraded on sign-in.
	MetricPasswordRehashed
	// MetricRefreshSuccess counts reissued session tokens.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refreshes.
	MetricRefreshFailure
	// MetricSessionIssued counts tokens issued through IssueToken.
	MetricSessionIssued
	// MetricProfileUpdated counts profile and follow edits.
	MetricProfileUpdated
	// MetricHashLatency is the histogram of password hash durations.
	MetricHashLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricSignupCodeRequested:         "signup_code_requested",
	MetricSignupCodeRequestFailure:    "signup_code_request_failure",
	MetricSignupCodeVerified:          "signup_code_verified",
	MetricSignupCodeVerifyFailure:     "signup_code_verify_failure",
	MetricPasswordResetRequest:        "password_reset_request",
	MetricPasswordResetRequestFailure: "password_reset_request_failure",
	MetricPasswordResetConfirmSuccess: "password_reset_confirm_success",
	MetricPasswordResetConfirmFailure: "password_reset_confirm_failure",
	MetricSignInSuccess:               "sign_in_success",
	MetricSignInFailure:               "sign_in_failure",
	MetricSignInExternalSuccess:       "sign_in_external_success",
	MetricSignInExternalFailure:       "sign_in_external_failure",
	MetricIdentityProvisioned:         "identity_provisioned",
	MetricPasswordRehashed:            "password_rehashed",
	MetricRefreshSuccess:              "refresh_success",
	MetricRefreshFailure:              "refresh_failure",
	MetricSessionIssued:               "session_issued",
	MetricProfileUpdated:              "profile_updated",
	MetricHashLatency:                 "hash_latency",
}

// String returns the snake_case name used by the exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds, in milliseconds, of all
// histogram buckets but the last, which is unbounded.
var HistogramBounds = [histBucketCount - 1]float64{5, 10, 25, 50, 100, 250, 500}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free Engine counters.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// HistogramSums is the total observed duration per histogram.
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics returns a Metrics set. A disabled set ignores every update.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the hash latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram of id. Only MetricHashLatency has
// a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricHashLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
	// The histogram's counter slot is otherwise unused; it holds the sum.
	atomic.AddUint64(&m.counters[id].value, uint64(max(d, 0)))
}

// Value returns the current count of id. For MetricHashLatency it is the
// observed sum in nanoseconds.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters. A disabled set yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricHashLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricHashLatency].buckets[i])
		}
		s.Histograms[MetricHashLatency] = buckets
		s.HistogramSums[MetricHashLatency] = time.Duration(atomic.LoadUint64(&m.counters[MetricHashLatency].value))
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := float64(d.Milliseconds())
	for i, bound := range HistogramBounds {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
