package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Track("roles:replay").End(nil)
	err := m.Track("roles:replay").End(errors.New("boom"))
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected error to pass through, got %v", err)
	}

	if got := testutil.ToFloat64(m.runs.WithLabelValues("roles:replay", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("roles:replay")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestNilTrackerIsSafe(t *testing.T) {
	var m *Metrics
	if err := m.Track("noop").End(nil); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
