package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Wildcard совпадает с любым агентом или инструментом
const Wildcard = "*"

// PatternKind: вид шаблона инструмента, определяется один раз при загрузке
type PatternKind uint8

const (
	PatternExact  PatternKind = iota // "getUser"
	PatternPrefix                    // "get*"
	PatternAny                       // "*"
)

// ToolPattern скомпилированный шаблон имени инструмента.
// Поддерживается только хвостовая звездочка, сравнение чувствительно к регистру.
type ToolPattern struct {
	Kind  PatternKind
	Value string // имя для Exact, префикс для Prefix
}

func ParseToolPattern(raw string) ToolPattern {
	switch {
	case raw == Wildcard:
		return ToolPattern{Kind: PatternAny}
	case strings.HasSuffix(raw, Wildcard):
		return ToolPattern{Kind: PatternPrefix, Value: strings.TrimSuffix(raw, Wildcard)}
	default:
		return ToolPattern{Kind: PatternExact, Value: raw}
	}
}

func (p ToolPattern) Matches(toolName string) bool {
	switch p.Kind {
	case PatternAny:
		return true
	case PatternPrefix:
		return strings.HasPrefix(toolName, p.Value)
	default:
		return p.Value == toolName
	}
}

func (p ToolPattern) String() string {
	switch p.Kind {
	case PatternAny:
		return Wildcard
	case PatternPrefix:
		return p.Value + Wildcard
	default:
		return p.Value
	}
}

// RateLimit: скользящее окно: не больше MaxRequests за Window
type RateLimit struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window"`
}

// Conditions: необязательные ABAC-условия политики
type Conditions struct {
	TrustLevels []TrustLevel `json:"trust_levels,omitempty" yaml:"trust_levels,omitempty"`
	RateLimit   *RateLimit   `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// AllowsTrust: пустой список уровней доверия означает отсутствие ограничения
func (c *Conditions) AllowsTrust(level TrustLevel) bool {
	if c == nil || len(c.TrustLevels) == 0 {
		return true
	}
	return slices.Contains(c.TrustLevels, level)
}

// Policy правило доступа агентов к инструментам.
// После загрузки не меняется, состояние лимитера не хранит.
type Policy struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Subjects   []string    `json:"subjects" yaml:"subjects"` // agent id или "*"
	Tools      []string    `json:"tools" yaml:"tools"`       // "name", "prefix*" или "*"
	Conditions *Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

func (p *Policy) MatchesSubject(agentID string) bool {
	return slices.Contains(p.Subjects, Wildcard) || slices.Contains(p.Subjects, agentID)
}

// RateLimit возвращает лимит политики или nil
func (p *Policy) RateLimit() *RateLimit {
	if p.Conditions == nil {
		return nil
	}
	return p.Conditions.RateLimit
}

// Validate проверяет политику перед загрузкой в Store
func (p *Policy) Validate() error {
	if p.ID == "" {
		return errors.New("policy id is required")
	}
	if len(p.Subjects) == 0 {
		return fmt.Errorf("policy %s: at least one subject is required", p.ID)
	}
	if len(p.Tools) == 0 {
		return fmt.Errorf("policy %s: at least one tool pattern is required", p.ID)
	}
	for _, t := range p.Tools {
		if t == "" {
			return fmt.Errorf("policy %s: empty tool pattern", p.ID)
		}
		if strings.Contains(strings.TrimSuffix(t, Wildcard), Wildcard) {
			return fmt.Errorf("policy %s: tool pattern %q: only a trailing wildcard is supported", p.ID, t)
		}
	}
	if p.Conditions == nil {
		return nil
	}
	for _, lvl := range p.Conditions.TrustLevels {
		if _, err := ParseTrustLevel(string(lvl)); err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
	}
	if rl := p.Conditions.RateLimit; rl != nil {
		if rl.MaxRequests <= 0 || rl.Window <= 0 {
			return fmt.Errorf("policy %s: rate limit requires positive max_requests and window", p.ID)
		}
	}
	return nil
}
