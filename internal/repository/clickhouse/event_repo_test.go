package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
)

func TestRow(t *testing.T) {
	ev := domain.NewSecurityEvent("agent", "getUser", domain.OutcomeSuccess, domain.SeverityLow, domain.CategoryToolExecution)
	ev.Timestamp = time.Date(2026, 5, 1, 8, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	r := row(ev)
	if len(r) != 10 {
		t.Fatalf("row has %d values", len(r))
	}
	if ts := r[1].(time.Time); ts.Location() != time.UTC || ts.Hour() != 5 {
		t.Errorf("timestamp = %v, want UTC", ts)
	}
	if r[9] != "{}" {
		t.Errorf("empty metadata = %q, want {}", r[9])
	}

	ev.Metadata["duration_ms"] = 12
	if r := row(ev); r[9] != `{"duration_ms":12}` {
		t.Errorf("metadata = %q", r[9])
	}
}

func TestWriteBatch_Empty(t *testing.T) {
	r := NewEventRepo(nil)
	if err := r.WriteBatch(context.Background(), nil); err != nil {
		t.Fatalf("WriteBatch(nil) = %v", err)
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	if _, err := Open(context.Background(), "://not a dsn"); err == nil {
		t.Fatal("expected dsn parse error")
	}
}
