package postgres

/*
	CREATE TABLE security_events (
	    id         text PRIMARY KEY,
	    ts         timestamptz NOT NULL,
	    source     text NOT NULL,
	    severity   text NOT NULL,
	    category   text NOT NULL,
	    agent_id   text NOT NULL,
	    tool_name  text NOT NULL,
	    status     text NOT NULL,
	    reason     text NOT NULL DEFAULT '',
	    metadata   jsonb
	);
*/

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/payload"
)

var eventColumns = []string{
	"id", "ts", "source", "severity", "category",
	"agent_id", "tool_name", "status", "reason", "metadata",
}

// EventRepo — хранилище audit trail для audit.AgentFS
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// WriteBatch пишет пачку одной командой COPY
func (r *EventRepo) WriteBatch(ctx context.Context, events []domain.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, eventRow(e))
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"security_events"}, eventColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: copy security events: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("postgres: copied %d of %d security events", n, len(events))
	}
	return nil
}

func eventRow(e domain.SecurityEvent) []any {
	var meta []byte
	if len(e.Metadata) > 0 {
		meta, _ = payload.Marshal(e.Metadata)
	}
	return []any{
		e.ID, e.Timestamp, e.Source, string(e.Severity), e.Category,
		e.AgentID, e.ToolName, string(e.Outcome), e.Reason, meta,
	}
}
