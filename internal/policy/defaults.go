package policy

import (
	"context"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
)

// DefaultPolicies — набор, который активен, пока внешний загрузчик его не заменит
func DefaultPolicies() []domain.Policy {
	return []domain.Policy{
		{
			ID:       "policy-admin-full",
			Name:     "Admin Full Access",
			Subjects: []string{"admin-agent", "operator-agent"},
			Tools:    []string{domain.Wildcard},
			Conditions: &domain.Conditions{
				TrustLevels: []domain.TrustLevel{domain.TrustHigh},
			},
		},
		{
			ID:       "policy-readonly",
			Name:     "Read-Only Access",
			Subjects: []string{"readonly-agent"},
			Tools:    []string{"get*", "list*", "describe*"},
			Conditions: &domain.Conditions{
				TrustLevels: []domain.TrustLevel{domain.TrustMedium, domain.TrustHigh},
				RateLimit:   &domain.RateLimit{MaxRequests: 100, Window: 60 * time.Second},
			},
		},
		{
			ID:       "policy-default",
			Name:     "Default Agent Access",
			Subjects: []string{domain.Wildcard},
			Tools:    []string{"get*", "list*"},
			Conditions: &domain.Conditions{
				TrustLevels: []domain.TrustLevel{domain.TrustMedium, domain.TrustHigh},
				RateLimit:   &domain.RateLimit{MaxRequests: 50, Window: 60 * time.Second},
			},
		},
	}
}

// DefaultSource отдает встроенный набор; нужен, чтобы reload без внешнего
// хранилища возвращал политики к исходному состоянию
type DefaultSource struct{}

func (DefaultSource) LoadPolicies(context.Context) ([]domain.Policy, error) {
	return DefaultPolicies(), nil
}
