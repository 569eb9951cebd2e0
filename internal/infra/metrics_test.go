package infra

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveBufferPerSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveBuffer("postgres", func() float64 { return 3 })
	m.ObserveBuffer("clickhouse", func() float64 { return 7 })

	expected := `
# HELP guard_audit_buffer_utilization Current number of events waiting in an audit sink buffer.
# TYPE guard_audit_buffer_utilization gauge
guard_audit_buffer_utilization{sink="clickhouse"} 7
guard_audit_buffer_utilization{sink="postgres"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "guard_audit_buffer_utilization"); err != nil {
		t.Error(err)
	}
}

func TestMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.MediationsTotal.WithLabelValues("success").Inc()

	if got := testutil.ToFloat64(m.MediationsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("counter = %v", got)
	}
}
