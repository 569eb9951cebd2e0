package audit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SpanPrefix = "mcp.tool."

	AttrToolName   = attribute.Key("mcp.tool.name")
	AttrAgentID    = attribute.Key("mcp.agent.id")
	AttrTimestamp  = attribute.Key("mcp.timestamp")
	AttrParamsHash = attribute.Key("mcp.params.hash")
)

// Recorder оборачивает защищенный вызов в span. Бэкенд трассировки задается
// снаружи через trace.Tracer (OTLP, stdout, noop).
type Recorder struct {
	tracer trace.Tracer
	now    func() time.Time
}

func NewRecorder(tracer trace.Tracer) *Recorder {
	return &Recorder{tracer: tracer, now: time.Now}
}

// Record запускает body внутри span "mcp.tool.<tool>". Ошибка body возвращается
// как есть, span закрывается на любом пути выхода, включая панику и отмену контекста.
func (r *Recorder) Record(ctx context.Context, toolName, agentID string, params any, body func(ctx context.Context) (any, error)) (any, error) {
	ctx, span := r.tracer.Start(ctx, SpanPrefix+toolName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrToolName.String(toolName),
			AttrAgentID.String(agentID),
			AttrTimestamp.String(r.now().UTC().Format(time.RFC3339Nano)),
			AttrParamsHash.String(Fingerprint(params)),
		),
	)
	defer span.End()
	defer func() {
		// Паника тела: span помечается ошибкой, паника уходит дальше
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			panic(r)
		}
	}()

	result, err := body(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}
