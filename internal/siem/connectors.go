package siem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/payload"
	"go.uber.org/zap"
)

const (
	splunkSourceType  = "mcp:security"
	defaultSplunkHost = "secure-mcp-server"
	timeLayout        = "2006-01-02T15:04:05.000Z07:00" // ISO 8601 с миллисекундами
)

// logInert — коннектор без настроек не ошибка: событие остается в локальном логе
func logInert(logger *zap.Logger, event domain.SecurityEvent) {
	logger.Info("backend disabled, event logged locally",
		zap.String("event_id", event.ID),
		zap.String("severity", string(event.Severity)),
		zap.String("status", string(event.Outcome)),
		zap.String("agent_id", event.AgentID),
		zap.String("tool", event.ToolName))
}

// --- Google Chronicle (SecOps) ---

type Chronicle struct {
	endpoint string
	delivery *Delivery
	logger   *zap.Logger
}

func NewChronicle(endpoint string, delivery *Delivery, logger *zap.Logger) *Chronicle {
	return &Chronicle{endpoint: endpoint, delivery: delivery, logger: logger.Named("chronicle")}
}

func (c *Chronicle) Name() string { return "chronicle" }

func (c *Chronicle) Enabled() bool { return c.endpoint != "" && c.delivery != nil }

type chronicleLabel struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type chroniclePayload struct {
	LogText   string           `json:"log_text"`
	Timestamp string           `json:"timestamp"`
	Labels    []chronicleLabel `json:"labels"`
}

func (c *Chronicle) Send(ctx context.Context, event domain.SecurityEvent) error {
	if !c.Enabled() {
		logInert(c.logger, event)
		return nil
	}

	logText, err := payload.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode chronicle log_text: %w", err)
	}
	body, err := payload.Marshal(chroniclePayload{
		LogText:   string(logText),
		Timestamp: event.Timestamp.UTC().Format(timeLayout),
		Labels: []chronicleLabel{
			{Key: "severity", Value: string(event.Severity)},
			{Key: "source", Value: event.Source},
		},
	})
	if err != nil {
		return fmt.Errorf("encode chronicle payload: %w", err)
	}
	return c.delivery.Post(ctx, c.endpoint, nil, body)
}

// --- Splunk HEC ---

type Splunk struct {
	endpoint string
	token    string
	host     string
	delivery *Delivery
	logger   *zap.Logger
}

func NewSplunk(endpoint, token, host string, delivery *Delivery, logger *zap.Logger) *Splunk {
	if host == "" {
		host = defaultSplunkHost
	}
	return &Splunk{endpoint: endpoint, token: token, host: host, delivery: delivery, logger: logger.Named("splunk")}
}

func (s *Splunk) Name() string { return "splunk" }

// Enabled: без токена HEC отвечает 401, поэтому коннектор без него не активен
func (s *Splunk) Enabled() bool { return s.endpoint != "" && s.token != "" && s.delivery != nil }

type splunkPayload struct {
	Time       float64              `json:"time"` // секунды эпохи с миллисекундами
	Host       string               `json:"host"`
	Source     string               `json:"source"`
	SourceType string               `json:"sourcetype"`
	Event      domain.SecurityEvent `json:"event"`
}

func (s *Splunk) Send(ctx context.Context, event domain.SecurityEvent) error {
	if !s.Enabled() {
		logInert(s.logger, event)
		return nil
	}

	body, err := payload.Marshal(splunkPayload{
		Time:       float64(event.Timestamp.UnixMilli()) / 1000,
		Host:       s.host,
		Source:     event.Source,
		SourceType: splunkSourceType,
		Event:      event,
	})
	if err != nil {
		return fmt.Errorf("encode splunk payload: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Splunk "+s.token)
	return s.delivery.Post(ctx, s.endpoint, header, body)
}

// --- Elastic ---

type Elastic struct {
	url      string
	delivery *Delivery
	logger   *zap.Logger
}

// NewElastic принимает URL индекса; документы пишутся в <index>/_doc
func NewElastic(endpoint string, delivery *Delivery, logger *zap.Logger) *Elastic {
	url := strings.TrimRight(endpoint, "/")
	if url != "" && !strings.HasSuffix(url, "/_doc") {
		url += "/_doc"
	}
	return &Elastic{url: url, delivery: delivery, logger: logger.Named("elastic")}
}

func (e *Elastic) Name() string { return "elastic" }

func (e *Elastic) Enabled() bool { return e.url != "" && e.delivery != nil }

func (e *Elastic) Send(ctx context.Context, event domain.SecurityEvent) error {
	if !e.Enabled() {
		logInert(e.logger, event)
		return nil
	}

	// Плоский документ: поля события + @timestamp для index pattern
	raw, err := payload.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode elastic document: %w", err)
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("flatten elastic document: %w", err)
	}
	doc["@timestamp"] = event.Timestamp.UTC().Format(timeLayout)

	body, err := payload.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode elastic document: %w", err)
	}
	return e.delivery.Post(ctx, e.url, nil, body)
}

// --- Local log ---

// LogSink всегда включен: локальная копия каждого события в логе процесса
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("security-event")}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, event domain.SecurityEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.Time("timestamp", event.Timestamp),
		zap.String("source", event.Source),
		zap.String("severity", string(event.Severity)),
		zap.String("category", event.Category),
		zap.String("status", string(event.Outcome)),
		zap.String("agent_id", event.AgentID),
		zap.String("tool", event.ToolName),
		zap.Any("metadata", event.Metadata),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	switch event.Severity {
	case domain.SeverityHigh, domain.SeverityCritical:
		l.logger.Warn("security_event", fields...)
	default:
		l.logger.Info("security_event", fields...)
	}
	return nil
}
