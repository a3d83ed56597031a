package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func emptySnapshot() authcore.MetricsSnapshot {
	return authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{},
		Histograms: map[authcore.MetricID][]uint64{},
	}
}

func TestCollectorCountersAndDropped(t *testing.T) {
	snap := emptySnapshot()
	snap.Counters[authcore.MetricLoginSuccess] = 7
	snap.Counters[authcore.MetricTokenMiss] = 3
	c := NewCollectorFromSource(fakeSource{snapshot: snap, dropped: 2})

	expected := `
# HELP authcore_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE authcore_audit_dropped_total counter
authcore_audit_dropped_total 2
# HELP authcore_login_success_total Successful password logins.
# TYPE authcore_login_success_total counter
authcore_login_success_total 7
# HELP authcore_token_miss_total Consume attempts for tokens that did not exist.
# TYPE authcore_token_miss_total counter
authcore_token_miss_total 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"authcore_login_success_total",
		"authcore_token_miss_total",
		"authcore_audit_dropped_total",
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectorHistogramIsCumulative(t *testing.T) {
	snap := emptySnapshot()
	snap.Histograms[authcore.MetricValidateLatency] = []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	c := NewCollectorFromSource(fakeSource{snapshot: snap})

	expected := `
# HELP authcore_validate_session_latency_seconds ValidateSession latency.
# TYPE authcore_validate_session_latency_seconds histogram
authcore_validate_session_latency_seconds_bucket{le="0.005"} 1
authcore_validate_session_latency_seconds_bucket{le="0.01"} 3
authcore_validate_session_latency_seconds_bucket{le="0.025"} 6
authcore_validate_session_latency_seconds_bucket{le="0.05"} 10
authcore_validate_session_latency_seconds_bucket{le="0.1"} 15
authcore_validate_session_latency_seconds_bucket{le="0.25"} 21
authcore_validate_session_latency_seconds_bucket{le="0.5"} 28
authcore_validate_session_latency_seconds_bucket{le="+Inf"} 36
authcore_validate_session_latency_seconds_sum 0
authcore_validate_session_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "authcore_validate_session_latency_seconds"); err != nil {
		t.Fatal(err)
	}
}

func TestCollectorSkipsDisabledHistograms(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{snapshot: emptySnapshot()})

	// Every counter plus the dropped counter, no histograms.
	want := len(c.counters) + 1
	if got := testutil.CollectAndCount(c); got != want {
		t.Fatalf("expected %d metrics, got %d", want, got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	snap := emptySnapshot()
	snap.Counters[authcore.MetricSessionCreated] = 4
	h, err := NewCollectorFromSource(fakeSource{snapshot: snap}).Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "authcore_session_created_total 4") {
		t.Fatalf("expected session counter in output, got:\n%s", body)
	}
}
