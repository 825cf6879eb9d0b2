package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

func TestRecordLoginCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("organization", "acquired_silently")
	c.RecordLogin("organization", "acquired_silently")
	c.RecordLogin("personal", "interactive_failed")

	mf := findMetric(t, reg, "learnhub_login_attempts_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label sets, got %d", len(mf.GetMetric()))
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total != 3 {
		t.Errorf("login attempts = %v, want 3", total)
	}
}

func TestRecordContentRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordContentRequest("GET", "Courses", 200, 150*time.Millisecond)
	c.RecordContentRequest("PATCH", "UserProgress", 0, time.Second)

	requests := findMetric(t, reg, "learnhub_content_requests_total")
	if len(requests.GetMetric()) != 2 {
		t.Fatalf("expected 2 label sets, got %d", len(requests.GetMetric()))
	}

	latency := findMetric(t, reg, "learnhub_content_request_duration_seconds")
	var samples uint64
	for _, m := range latency.GetMetric() {
		samples += m.GetHistogram().GetSampleCount()
	}
	if samples != 2 {
		t.Errorf("latency samples = %d, want 2", samples)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSessionStatus("authenticated")
	c.RecordAggregationFailure("GetUserCourses")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`learnhub_session_transitions_total{status="authenticated"} 1`,
		`learnhub_aggregation_failures_total{operation="GetUserCourses"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}
