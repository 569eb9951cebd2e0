package domain

import "fmt"

// TrustLevel грубый атрибут агента, который используется как ABAC-условие
type TrustLevel string

const (
	TrustHigh   TrustLevel = "high"
	TrustMedium TrustLevel = "medium"
	TrustLow    TrustLevel = "low"
)

// ParseTrustLevel разбирает строку из токена/конфига. Регистр важен.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch TrustLevel(s) {
	case TrustHigh, TrustMedium, TrustLow:
		return TrustLevel(s), nil
	}
	return "", fmt.Errorf("unknown trust level %q", s)
}

// AgentIdentity приходит от транспортного адаптера на каждый вызов.
// Ядро его не хранит и не меняет в рамках одного вызова.
type AgentIdentity struct {
	AgentID    string     `json:"agent_id"`
	TrustLevel TrustLevel `json:"trust_level"`

	// Разрешенные инструменты на уровне идентичности ("*", "get*", "listTools").
	// Пустой список: без ограничений, решение принимает только ABAC.
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// Permits проверяет scope идентичности по тем же правилам, что и политики
func (a AgentIdentity) Permits(toolName string) bool {
	if len(a.AllowedTools) == 0 {
		return true
	}
	for _, raw := range a.AllowedTools {
		if ParseToolPattern(raw).Matches(toolName) {
			return true
		}
	}
	return false
}
