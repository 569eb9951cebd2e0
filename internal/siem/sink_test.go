package siem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type funcSink struct {
	name string
	fn   func(ctx context.Context, event domain.SecurityEvent) error
}

func (s funcSink) Name() string { return s.name }

func (s funcSink) Send(ctx context.Context, event domain.SecurityEvent) error {
	return s.fn(ctx, event)
}

func testEvent() domain.SecurityEvent {
	return domain.NewSecurityEvent("agent", "tool", domain.OutcomeBlocked, domain.SeverityHigh, domain.CategoryAccessControl)
}

func TestManager_FailureIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	metrics := infra.NewMetrics(prometheus.NewRegistry())

	var delivered atomic.Int32
	ok := func(name string) Sink {
		return funcSink{name, func(context.Context, domain.SecurityEvent) error {
			delivered.Add(1)
			return nil
		}}
	}
	sinks := []Sink{
		ok("a"),
		funcSink{"broken", func(context.Context, domain.SecurityEvent) error { return errors.New("503") }},
		funcSink{"panicky", func(context.Context, domain.SecurityEvent) error { panic("nil map") }},
		ok("b"),
	}

	m := NewManager(sinks, time.Second, metrics, zap.New(core))
	m.Emit(context.Background(), testEvent())

	if delivered.Load() != 2 {
		t.Errorf("delivered = %d, want 2 healthy sinks reached", delivered.Load())
	}
	if n := logs.FilterMessage("security event delivery failed").Len(); n != 2 {
		t.Errorf("logged failures = %d, want 2", n)
	}
	for _, entry := range logs.All() {
		err, _ := entry.ContextMap()["error"].(string)
		if err == "" {
			t.Error("failure log has no error field")
		}
	}
	if got := testutil.ToFloat64(metrics.SinkDeliveries.WithLabelValues("broken", "failed")); got != 1 {
		t.Errorf("broken failures = %v", got)
	}
	if got := testutil.ToFloat64(metrics.SinkDeliveries.WithLabelValues("a", "ok")); got != 1 {
		t.Errorf("a deliveries = %v", got)
	}
}

func TestManager_RunsSinksConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	barrier := func(name string) Sink {
		return funcSink{name, func(ctx context.Context, _ domain.SecurityEvent) error {
			wg.Done()
			// Все три должны дойти сюда одновременно, иначе ждем до таймаута
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
	}

	core, logs := observer.New(zapcore.ErrorLevel)
	m := NewManager([]Sink{barrier("x"), barrier("y"), barrier("z")}, 2*time.Second, nil, zap.New(core))

	start := time.Now()
	m.Emit(context.Background(), testEvent())
	if time.Since(start) > time.Second {
		t.Error("sinks were not dispatched in parallel")
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected failures: %v", logs.All())
	}
}

func TestManager_DetachedFromRequestCancellation(t *testing.T) {
	var sawErr atomic.Value
	s := funcSink{"s", func(ctx context.Context, _ domain.SecurityEvent) error {
		sawErr.Store(ctx.Err() == nil)
		if _, ok := ctx.Deadline(); !ok {
			t.Error("emit context must carry a timeout")
		}
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewManager([]Sink{s}, time.Second, nil, zap.NewNop()).Emit(ctx, testEvent())
	if v, _ := sawErr.Load().(bool); !v {
		t.Error("sink saw a cancelled context")
	}
}

func TestManager_TimeoutBoundsSlowSink(t *testing.T) {
	slow := funcSink{"slow", func(ctx context.Context, _ domain.SecurityEvent) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	start := time.Now()
	NewManager([]Sink{slow}, 50*time.Millisecond, nil, zap.NewNop()).Emit(context.Background(), testEvent())
	if time.Since(start) > time.Second {
		t.Error("emit was not bounded by its timeout")
	}
}

func TestManager_NoSinks(t *testing.T) {
	NewManager(nil, 0, nil, zap.NewNop()).Emit(context.Background(), testEvent())
}

func TestManager_InertConnectorCountedSeparately(t *testing.T) {
	metrics := infra.NewMetrics(prometheus.NewRegistry())
	sinks := []Sink{
		NewSplunk("http://splunk.local/services/collector", "", "", nil, zap.NewNop()),
		NewLogSink(zap.NewNop()),
	}

	NewManager(sinks, time.Second, metrics, zap.NewNop()).Emit(context.Background(), testEvent())

	if got := testutil.ToFloat64(metrics.SinkDeliveries.WithLabelValues("splunk", "inert")); got != 1 {
		t.Errorf("splunk inert = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SinkDeliveries.WithLabelValues("splunk", "ok")); got != 0 {
		t.Errorf("splunk ok = %v, inert delivery must not count as ok", got)
	}
	if got := testutil.ToFloat64(metrics.SinkDeliveries.WithLabelValues("log", "ok")); got != 1 {
		t.Errorf("log ok = %v", got)
	}
}
