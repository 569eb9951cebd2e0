package policy

/*
Store — in-memory набор активных политик ABAC.
На горячем пути (Evaluate) работает только с RAM и ничего не знает про Postgres,
файлы или Redis. Набор меняется только целиком через Replace/Refresh.
Шаблоны инструментов компилируются один раз при загрузке, а не на каждый запрос.
*/

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"go.uber.org/zap"
)

// ErrNoSource — Refresh вызван у Store без внешнего источника политик
var ErrNoSource = errors.New("policy store has no source configured")

// Source — внешний загрузчик политик (файл, БД)
type Source interface {
	LoadPolicies(ctx context.Context) ([]domain.Policy, error)
}

type compiledPolicy struct {
	policy domain.Policy
	tools  []domain.ToolPattern
}

func (c *compiledPolicy) matchesTool(toolName string) bool {
	for _, t := range c.tools {
		if t.Matches(toolName) {
			return true
		}
	}
	return false
}

type Store struct {
	mu       sync.RWMutex
	policies []compiledPolicy // порядок важен: первое подходящее правило выигрывает
	// maxWindow: самое длинное окно лимита в активном наборе
	maxWindow time.Duration
	onWindow  []func(time.Duration)

	source Source // используется только для Refresh()
	logger *zap.Logger
}

// NewStore создает хранилище со встроенным набором политик по умолчанию.
// source может быть nil: тогда набор меняется только через Replace.
func NewStore(source Source, logger *zap.Logger) *Store {
	s := &Store{
		source: source,
		logger: logger.Named("policy-store"),
	}
	if err := s.Replace(DefaultPolicies()); err != nil {
		// встроенные политики валидны, сюда попасть нельзя
		panic(fmt.Sprintf("policy: invalid default policies: %v", err))
	}
	return s
}

// Replace атомарно подменяет весь набор. Если хотя бы одна политика невалидна,
// активным остается прежний набор.
func (s *Store) Replace(policies []domain.Policy) error {
	compiled := make([]compiledPolicy, 0, len(policies))
	seen := make(map[string]struct{}, len(policies))
	var maxWindow time.Duration

	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate policy id %s", p.ID)
		}
		seen[p.ID] = struct{}{}

		cp := clonePolicy(p)
		tools := make([]domain.ToolPattern, 0, len(cp.Tools))
		for _, raw := range cp.Tools {
			tools = append(tools, domain.ParseToolPattern(raw))
		}
		compiled = append(compiled, compiledPolicy{policy: cp, tools: tools})
		if rl := cp.RateLimit(); rl != nil && rl.Window > maxWindow {
			maxWindow = rl.Window
		}
	}

	s.mu.Lock()
	s.policies = compiled
	s.maxWindow = maxWindow
	hooks := slices.Clone(s.onWindow)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(maxWindow)
	}

	s.logger.Info("policies loaded", zap.Int("count", len(compiled)))
	return nil
}

// MaxWindow: самое длинное окно лимита среди активных политик (0, если лимитов нет)
func (s *Store) MaxWindow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxWindow
}

// OnWindowChange подписывает fn на смену набора: fn сразу получает текущее
// самое длинное окно и затем новое значение после каждого Replace
func (s *Store) OnWindowChange(fn func(time.Duration)) {
	s.mu.Lock()
	s.onWindow = append(s.onWindow, fn)
	current := s.maxWindow
	s.mu.Unlock()

	fn(current)
}

// Refresh перечитывает политики из источника («холодная» загрузка и reload по сигналу)
func (s *Store) Refresh(ctx context.Context) error {
	if s.source == nil {
		return ErrNoSource
	}
	policies, err := s.source.LoadPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	if err := s.Replace(policies); err != nil {
		s.logger.Error("rejected policy set, keeping previous", zap.Error(err))
		return fmt.Errorf("replace policies: %w", err)
	}
	return nil
}

// Candidates возвращает копии политик, у которых совпали и субъект, и инструмент,
// в порядке хранения
func (s *Store) Candidates(agentID, toolName string) []domain.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Policy
	for i := range s.policies {
		c := &s.policies[i]
		if c.policy.MatchesSubject(agentID) && c.matchesTool(toolName) {
			out = append(out, clonePolicy(c.policy))
		}
	}
	return out
}

// Policies — снимок активного набора для админки
func (s *Store) Policies() []domain.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Policy, 0, len(s.policies))
	for _, c := range s.policies {
		out = append(out, clonePolicy(c.policy))
	}
	return out
}

func clonePolicy(p domain.Policy) domain.Policy {
	p.Subjects = slices.Clone(p.Subjects)
	p.Tools = slices.Clone(p.Tools)
	if p.Conditions != nil {
		c := *p.Conditions
		c.TrustLevels = slices.Clone(c.TrustLevels)
		if c.RateLimit != nil {
			rl := *c.RateLimit
			c.RateLimit = &rl
		}
		p.Conditions = &c
	}
	return p
}
