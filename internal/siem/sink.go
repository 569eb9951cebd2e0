// Package siem доставляет события безопасности во внешние системы мониторинга.
package siem

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultEmitTimeout = 5 * time.Second

// Sink — один бэкенд мониторинга. Ненастроенный коннектор возвращает nil.
type Sink interface {
	Name() string
	Send(ctx context.Context, event domain.SecurityEvent) error
}

// Toggle: синк, который может быть сконфигурирован неактивным. Такой синк
// пишет событие только в локальный лог, в метриках доставка считается inert.
type Toggle interface {
	Enabled() bool
}

// Emitter — то, что нужно медиатору от менеджера синков
type Emitter interface {
	Emit(ctx context.Context, event domain.SecurityEvent)
}

// Manager рассылает событие во все синки параллельно. Отказ одного синка
// не мешает остальным и не возвращается вызывающему.
type Manager struct {
	sinks   []Sink
	timeout time.Duration
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewManager(sinks []Sink, timeout time.Duration, metrics *infra.Metrics, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = defaultEmitTimeout
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	m := &Manager{
		sinks:   sinks,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.Named("siem"),
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	m.logger.Info("siem initialized", zap.Int("backends", len(sinks)), zap.Strings("sinks", names))
	return m
}

// Emit возвращается только после попытки доставки во все синки.
// Отмена запроса доставку не прерывает: контекст отвязан и ограничен таймаутом.
func (m *Manager) Emit(ctx context.Context, event domain.SecurityEvent) {
	if len(m.sinks) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	// errgroup без WithContext: ошибка одного синка не отменяет остальные
	var g errgroup.Group
	for _, s := range m.sinks {
		g.Go(func() error {
			m.deliver(ctx, s, event)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) deliver(ctx context.Context, s Sink, event domain.SecurityEvent) {
	name := s.Name()

	defer func() {
		if r := recover(); r != nil {
			m.fail(&domain.SinkDeliveryError{Sink: name, Err: fmt.Errorf("panic: %v", r)}, event)
		}
	}()

	if err := s.Send(ctx, event); err != nil {
		m.fail(&domain.SinkDeliveryError{Sink: name, Err: err}, event)
		return
	}
	result := "ok"
	if t, ok := s.(Toggle); ok && !t.Enabled() {
		result = "inert"
	}
	m.metrics.SinkDeliveries.WithLabelValues(name, result).Inc()
}

func (m *Manager) fail(err *domain.SinkDeliveryError, event domain.SecurityEvent) {
	m.metrics.SinkDeliveries.WithLabelValues(err.Sink, "failed").Inc()
	m.logger.Error("security event delivery failed",
		zap.String("sink", err.Sink),
		zap.String("event_id", event.ID),
		zap.String("agent_id", event.AgentID),
		zap.String("tool", event.ToolName),
		zap.Error(err))
}
