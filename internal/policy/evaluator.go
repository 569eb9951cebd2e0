package policy

import (
	"context"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"go.uber.org/zap"
)

const (
	ReasonNoMatchingPolicy = "No matching policy found"
	ReasonConditionsNotMet = "Policy conditions not met"
	ReasonRateLimited      = "Rate limit exceeded"
	ReasonLimiterFailed    = "Rate limit check failed"
)

// Decision — итог ABAC-проверки. Policy заполнена, если решение приняла конкретная политика.
type Decision struct {
	Allowed bool
	Reason  string
	Policy  *domain.Policy
}

// Enforcer — то, что нужно медиатору от движка политик
type Enforcer interface {
	Evaluate(ctx context.Context, agentID, toolName string, trust domain.TrustLevel) Decision
}

// Evaluator объединяет Store и RateLimiter в решение для (agent, tool, trust level)
type Evaluator struct {
	store   *Store
	limiter RateLimiter
	logger  *zap.Logger
}

func NewEvaluator(store *Store, limiter RateLimiter, logger *zap.Logger) *Evaluator {
	// Хранение меток лимитера следует за самым длинным окном активного набора
	if rs, ok := limiter.(RetentionSetter); ok {
		store.OnWindowChange(rs.SetRetention)
	}
	return &Evaluator{
		store:   store,
		limiter: limiter,
		logger:  logger.Named("evaluator"),
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, agentID, toolName string, trust domain.TrustLevel) Decision {
	// 1. Кандидаты: совпали субъект и шаблон инструмента, порядок хранения
	candidates := e.store.Candidates(agentID, toolName)
	if len(candidates) == 0 {
		return Decision{Reason: ReasonNoMatchingPolicy}
	}

	for i := range candidates {
		p := &candidates[i]

		// 2. Trust level не подошел: пробуем следующую политику
		if !p.Conditions.AllowsTrust(trust) {
			continue
		}

		// 3. Лимит: превышение окончательно, на более слабые политики не проваливаемся.
		// Квота расходуется только на пути к Allow.
		if rl := p.RateLimit(); rl != nil {
			ok, err := e.limiter.Allow(ctx, agentID, *rl)
			if err != nil {
				// Fail closed: без счетчика не знаем, превышен ли лимит
				e.logger.Error("rate limiter unavailable",
					zap.String("agent_id", agentID),
					zap.String("policy_id", p.ID),
					zap.Error(err))
				return Decision{Reason: ReasonLimiterFailed, Policy: p}
			}
			if !ok {
				return Decision{Reason: ReasonRateLimited, Policy: p}
			}
			return Decision{Allowed: true, Policy: p}
		}

		if err := e.limiter.Record(ctx, agentID); err != nil {
			e.logger.Warn("failed to record request in rate window",
				zap.String("agent_id", agentID), zap.Error(err))
		}
		return Decision{Allowed: true, Policy: p}
	}

	return Decision{Reason: ReasonConditionsNotMet}
}
