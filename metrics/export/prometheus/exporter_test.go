package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/codicle/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func newSource() fakeSource {
	return fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricSignInSuccess: 7,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricHashLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			HistogramSums: map[authcore.MetricID]time.Duration{
				authcore.MetricHashLatency: 1500 * time.Millisecond,
			},
		},
		dropped: 2,
	}
}

func TestNilSource(t *testing.T) {
	if _, err := NewExporterFromSource(nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestCollectCounters(t *testing.T) {
	exp, err := NewExporterFromSource(newSource())
	if err != nil {
		t.Fatal(err)
	}

	expected := `
# HELP authcore_sign_in_success_total Successful local sign-ins.
# TYPE authcore_sign_in_success_total counter
authcore_sign_in_success_total 7
# HELP authcore_audit_dropped_total Audit events dropped because the dispatcher queue was full.
# TYPE authcore_audit_dropped_total counter
authcore_audit_dropped_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"authcore_sign_in_success_total", "authcore_audit_dropped_total"); err != nil {
		t.Fatal(err)
	}
}

func TestCollectHistogram(t *testing.T) {
	exp, err := NewExporterFromSource(newSource())
	if err != nil {
		t.Fatal(err)
	}

	expected := `
# HELP authcore_hash_latency_seconds Password hash latency.
# TYPE authcore_hash_latency_seconds histogram
authcore_hash_latency_seconds_bucket{le="0.005"} 1
authcore_hash_latency_seconds_bucket{le="0.01"} 3
authcore_hash_latency_seconds_bucket{le="0.025"} 6
authcore_hash_latency_seconds_bucket{le="0.05"} 10
authcore_hash_latency_seconds_bucket{le="0.1"} 15
authcore_hash_latency_seconds_bucket{le="0.25"} 21
authcore_hash_latency_seconds_bucket{le="0.5"} 28
authcore_hash_latency_seconds_bucket{le="+Inf"} 36
authcore_hash_latency_seconds_sum 1.5
authcore_hash_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected), "authcore_hash_latency_seconds"); err != nil {
		t.Fatal(err)
	}
}

func TestCollectSkipsDisabledHistogram(t *testing.T) {
	exp, err := NewExporterFromSource(fakeSource{snapshot: authcore.MetricsSnapshot{}})
	if err != nil {
		t.Fatal(err)
	}
	if n := testutil.CollectAndCount(exp, "authcore_hash_latency_seconds"); n != 0 {
		t.Fatalf("expected no histogram series, got %d", n)
	}
}

func TestRegisterWithCustomRegistry(t *testing.T) {
	exp, err := NewExporterFromSource(newSource())
	if err != nil {
		t.Fatal(err)
	}
	reg := promclient.NewRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(exp); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exp, err := NewExporterFromSource(newSource())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "authcore_sign_in_success_total 7") {
		t.Fatalf("expected counter in body, got:\n%s", body)
	}
}
