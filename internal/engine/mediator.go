package engine

/*
Mediator — конвейер вокруг каждого вызова инструмента агентом:

	авторизация -> скан инъекций -> armor-скан входа -> [span: вызов -> armor-скан выхода] -> событие SIEM

Проверки идут строго в этом порядке и по одному разу. Заблокированный вызов
до тела инструмента не доходит. Каждый завершенный вызов дает ровно одно
событие безопасности. Ошибка инструмента возвращается как есть.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/armor"
	"github.com/xela07ax/spaceai-tool-guard/internal/audit"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
	"github.com/xela07ax/spaceai-tool-guard/internal/payload"
	"github.com/xela07ax/spaceai-tool-guard/internal/policy"
	"github.com/xela07ax/spaceai-tool-guard/internal/siem"
	"github.com/xela07ax/spaceai-tool-guard/internal/threat"
	"go.uber.org/zap"
)

// ReasonToolOutOfScope — инструмент не входит в allowed_tools идентичности агента
const ReasonToolOutOfScope = "Tool not in agent identity scope"

// Стадии конвейера для метрик блокировок
const (
	stageAccess    = "access_control"
	stageInjection = "injection"
	stageContent   = "content_policy"
)

// ToolCall — защищенное тело инструмента. Получает контекст запроса,
// отмена запроса должна его прерывать.
type ToolCall func(ctx context.Context) (any, error)

type Options struct {
	// RedactOutput: вернуть агенту результат с замаскированными PII вместо исходного
	RedactOutput bool
}

type Mediator struct {
	enforcer  policy.Enforcer
	injection *threat.InjectionScanner
	armor     *armor.Scanner
	recorder  *audit.Recorder
	emitter   siem.Emitter
	metrics   *infra.Metrics
	opts      Options
	logger    *zap.Logger
}

func NewMediator(
	enforcer policy.Enforcer,
	injection *threat.InjectionScanner,
	scanner *armor.Scanner,
	recorder *audit.Recorder,
	emitter siem.Emitter,
	metrics *infra.Metrics,
	opts Options,
	logger *zap.Logger,
) *Mediator {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Mediator{
		enforcer:  enforcer,
		injection: injection,
		armor:     scanner,
		recorder:  recorder,
		emitter:   emitter,
		metrics:   metrics,
		opts:      opts,
		logger:    logger.Named("mediator"),
	}
}

// call — состояние одного вызова, из которого собирается событие
type call struct {
	tool       string
	agent      domain.AgentIdentity
	start      time.Time
	paramsHash string
	policyID   string
	inputPII   []armor.Category
	outputPII  []armor.Category
	finished   bool // событие уже отправлено
}

func (m *Mediator) Mediate(ctx context.Context, toolName string, agent domain.AgentIdentity, params any, fn ToolCall) (any, error) {
	c := &call{
		tool:       toolName,
		agent:      agent,
		start:      time.Now(),
		paramsHash: audit.Fingerprint(params),
	}
	log := m.logger.With(zap.String("agent_id", agent.AgentID), zap.String("tool", toolName))

	// 1. Авторизация: scope идентичности + ABAC (одно решение)
	decision := m.authorize(ctx, toolName, agent)
	if decision.Policy != nil {
		c.policyID = decision.Policy.ID
	}
	if !decision.Allowed {
		err := &domain.AccessDeniedError{AgentID: agent.AgentID, Tool: toolName, Reason: decision.Reason}
		log.Warn("access denied", zap.String("reason", decision.Reason))
		m.block(ctx, c, stageAccess, domain.SeverityHigh, domain.CategoryAccessControl, decision.Reason)
		return nil, err
	}

	// 2. Инъекции в сериализованных параметрах
	serialized, err := payload.Marshal(params)
	if err != nil {
		log.Error("failed to serialize params", zap.Error(err))
		m.finish(ctx, c, domain.OutcomeError, domain.SeverityMedium, domain.CategoryInjection, err.Error())
		return nil, err
	}
	if err := m.injection.Scan(toolName, string(serialized)); err != nil {
		log.Warn("injection detected", zap.Error(err))
		m.block(ctx, c, stageInjection, domain.SeverityCritical, domain.CategoryInjection, err.Error())
		return nil, err
	}

	// 3. Armor-скан входа: нарушения блокируют, PII только логируется
	in := m.armor.Scan(string(serialized))
	c.inputPII = in.Categories()
	m.notePII(log, "input", in)
	if !in.Safe {
		err := &domain.ContentPolicyError{Violations: in.Violations}
		log.Warn("content policy violation", zap.Strings("violations", in.Violations))
		m.block(ctx, c, stageContent, domain.SeverityHigh, domain.CategoryContentPolicy, err.Reason())
		return nil, err
	}

	// 4. Вызов внутри span + armor-скан выхода.
	// Паника инструмента тоже завершает вызов: отправляем событие error и паникуем дальше.
	defer func() {
		if r := recover(); r != nil {
			if !c.finished {
				reason := fmt.Sprintf("panic: %v", r)
				log.Error("tool panicked", zap.String("panic", reason))
				m.finish(ctx, c, domain.OutcomeError, domain.SeverityMedium, domain.CategoryToolExecution, reason)
			}
			panic(r)
		}
	}()
	result, err := m.recorder.Record(ctx, toolName, agent.AgentID, params, func(ctx context.Context) (any, error) {
		res, err := fn(ctx)
		if err != nil {
			return res, err
		}
		out := m.armor.ScanValue(res)
		c.outputPII = out.Categories()
		m.notePII(log, "output", out)
		if m.opts.RedactOutput && out.HasPII() {
			return redacted(res, out), nil
		}
		return res, nil
	})

	if err != nil {
		// Запрос отменен до завершения вызова: событие по этой попытке не шлем
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			log.Info("tool call cancelled", zap.Error(err))
			m.observe(c, "cancelled")
			return nil, err
		}
		log.Error("tool execution failed", zap.Error(err))
		m.finish(ctx, c, domain.OutcomeError, domain.SeverityMedium, domain.CategoryToolExecution, err.Error())
		return nil, err
	}

	m.finish(ctx, c, domain.OutcomeSuccess, domain.SeverityLow, domain.CategoryToolExecution, "")
	return result, nil
}

func (m *Mediator) authorize(ctx context.Context, toolName string, agent domain.AgentIdentity) policy.Decision {
	// Scope идентичности проверяем до ABAC, чтобы отказ не расходовал квоту
	if !agent.Permits(toolName) {
		return policy.Decision{Reason: ReasonToolOutOfScope}
	}
	return m.enforcer.Evaluate(ctx, agent.AgentID, toolName, agent.TrustLevel)
}

func (m *Mediator) notePII(log *zap.Logger, direction string, res armor.Result) {
	if !res.HasPII() {
		return
	}
	categories := make([]string, 0, len(res.PiiEntities))
	for _, e := range res.PiiEntities {
		m.metrics.PIIDetections.WithLabelValues(direction, string(e.Category)).Inc()
	}
	for _, cat := range res.Categories() {
		categories = append(categories, string(cat))
	}
	log.Warn("PII detected",
		zap.String("direction", direction),
		zap.Int("entities", len(res.PiiEntities)),
		zap.Strings("categories", categories))
}

func (m *Mediator) block(ctx context.Context, c *call, stage string, severity domain.Severity, category, reason string) {
	m.metrics.BlocksTotal.WithLabelValues(stage).Inc()
	m.finish(ctx, c, domain.OutcomeBlocked, severity, category, reason)
}

// finish — единственное место, где создается и отправляется событие
func (m *Mediator) finish(ctx context.Context, c *call, outcome domain.Outcome, severity domain.Severity, category, reason string) {
	c.finished = true
	duration := m.observe(c, string(outcome))

	event := domain.NewSecurityEvent(c.agent.AgentID, c.tool, outcome, severity, category)
	event.Reason = reason
	event.Metadata["params_hash"] = c.paramsHash
	event.Metadata["duration_ms"] = duration.Milliseconds()
	event.Metadata["trust_level"] = string(c.agent.TrustLevel)
	if c.policyID != "" {
		event.Metadata["policy_id"] = c.policyID
	}
	if len(c.inputPII) > 0 {
		event.Metadata["input_pii"] = c.inputPII
	}
	if len(c.outputPII) > 0 {
		event.Metadata["output_pii"] = c.outputPII
	}

	m.emitter.Emit(ctx, event)
}

func (m *Mediator) observe(c *call, outcome string) time.Duration {
	d := time.Since(c.start)
	m.metrics.MediationsTotal.WithLabelValues(outcome).Inc()
	m.metrics.MediationDuration.WithLabelValues(c.tool, outcome).Observe(d.Seconds())
	return d
}

// redacted сохраняет форму результата: строка остается строкой,
// структура: JSON-документом с замаскированными значениями
func redacted(res any, out armor.Result) any {
	if _, ok := res.(string); ok {
		return out.RedactedContent
	}
	if json.Valid([]byte(out.RedactedContent)) {
		return json.RawMessage(out.RedactedContent)
	}
	return out.RedactedContent
}
