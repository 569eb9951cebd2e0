package postgres

/*
Файл policy_repo.go: внешний источник политик для policy.Store.
Долговременное хранение правил в PostgreSQL отделено от их проверки в RAM:
репозиторий только отдает полный упорядоченный набор («холодная» загрузка и reload).

	CREATE TABLE policies (
	    id                text PRIMARY KEY,
	    name              text NOT NULL DEFAULT '',
	    subjects          text[] NOT NULL,
	    tools             text[] NOT NULL,
	    trust_levels      text[] NOT NULL DEFAULT '{}',
	    rate_max_requests integer,
	    rate_window_ms    bigint,
	    position          integer NOT NULL,
	    enabled           boolean NOT NULL DEFAULT true
	);
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
)

type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

type policyRow struct {
	ID              string
	Name            string
	Subjects        []string
	Tools           []string
	TrustLevels     []string
	RateMaxRequests *int32
	RateWindowMs    *int64
}

// LoadPolicies возвращает активные политики в порядке position: порядок важен для first-fit
func (r *PolicyRepo) LoadPolicies(ctx context.Context) ([]domain.Policy, error) {
	query := `
		SELECT id, name, subjects, tools, trust_levels, rate_max_requests, rate_window_ms
		FROM policies
		WHERE enabled
		ORDER BY position, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query policies: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Policy, error) {
		var pr policyRow
		if err := row.Scan(&pr.ID, &pr.Name, &pr.Subjects, &pr.Tools, &pr.TrustLevels,
			&pr.RateMaxRequests, &pr.RateWindowMs); err != nil {
			return domain.Policy{}, err
		}
		return pr.toDomain(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan policies: %w", err)
	}
	return result, nil
}

func (pr policyRow) toDomain() domain.Policy {
	p := domain.Policy{
		ID:       pr.ID,
		Name:     pr.Name,
		Subjects: pr.Subjects,
		Tools:    pr.Tools,
	}

	var cond domain.Conditions
	for _, lvl := range pr.TrustLevels {
		cond.TrustLevels = append(cond.TrustLevels, domain.TrustLevel(lvl))
	}
	// Лимит задан только если обе колонки не NULL; валидность проверит Store
	if pr.RateMaxRequests != nil && pr.RateWindowMs != nil {
		cond.RateLimit = &domain.RateLimit{
			MaxRequests: int(*pr.RateMaxRequests),
			Window:      time.Duration(*pr.RateWindowMs) * time.Millisecond,
		}
	}
	if len(cond.TrustLevels) > 0 || cond.RateLimit != nil {
		p.Conditions = &cond
	}
	return p
}
