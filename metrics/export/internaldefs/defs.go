package internaldefs

import (
	"strconv"
	"strings"

	"github.com/codicle/authcore"
)

// Namespace prefixes every exported metric name.
const Namespace = "authcore"

// CounterDef binds an Engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds an Engine histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var counterHelp = map[authcore.MetricID]string{
	authcore.MetricSignupCodeRequested:         "Signup codes stored and delivered.",
	authcore.MetricSignupCodeRequestFailure:    "Signup code requests that failed.",
	authcore.MetricSignupCodeVerified:          "Identities created from a verified signup code.",
	authcore.MetricSignupCodeVerifyFailure:     "Signup code verifications that failed.",
	authcore.MetricPasswordResetRequest:        "Password reset links delivered.",
	authcore.MetricPasswordResetRequestFailure: "Password reset requests that failed.",
	authcore.MetricPasswordResetConfirmSuccess: "Completed password resets.",
	authcore.MetricPasswordResetConfirmFailure: "Password reset completions that failed.",
	authcore.MetricSignInSuccess:               "Successful local sign-ins.",
	authcore.MetricSignInFailure:               "Rejected local sign-ins.",
	authcore.MetricSignInExternalSuccess:       "Successful external sign-ins.",
	authcore.MetricSignInExternalFailure:       "Rejected external sign-ins.",
	authcore.MetricIdentityProvisioned:         "Identities created on first external sign-in.",
	authcore.MetricPasswordRehashed:            "Password hashes upgraded during sign-in.",
	authcore.MetricRefreshSuccess:              "Session tokens reissued.",
	authcore.MetricRefreshFailure:              "Session refreshes rejected.",
	authcore.MetricSessionIssued:               "Session tokens issued.",
	authcore.MetricProfileUpdated:              "Profile and follow edits.",
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricHashLatency, Name: Namespace + "_hash_latency_seconds", Help: "Password hash latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = Namespace + "_audit_dropped_total"

// BucketCount is the number of histogram buckets, +Inf included.
const BucketCount = len(authcore.HistogramBounds) + 1

// HistogramBounds are the finite upper bounds in seconds.
var HistogramBounds = buildBounds()

// HistogramBoundSuffix names each bucket for exporters that flatten
// buckets into separate instruments.
var HistogramBoundSuffix = buildSuffixes()

func buildCounterDefs() []CounterDef {
	defs := make([]CounterDef, 0, len(counterHelp))
	for id := authcore.MetricID(0); id < authcore.MetricHashLatency; id++ {
		defs = append(defs, CounterDef{
			ID:   id,
			Name: Namespace + "_" + id.String() + "_total",
			Help: counterHelp[id],
		})
	}
	return defs
}

func buildBounds() []float64 {
	out := make([]float64, len(authcore.HistogramBounds))
	for i, ms := range authcore.HistogramBounds {
		out[i] = ms / 1000
	}
	return out
}

func buildSuffixes() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range buildBounds() {
		s := strconv.FormatFloat(b, 'f', -1, 64)
		out = append(out, strings.ReplaceAll(s, ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
