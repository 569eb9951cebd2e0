package domain

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeError   Outcome = "error"
)

// Категории событий безопасности: по стадии конвейера, которая приняла решение
const (
	CategoryAccessControl = "access_control"
	CategoryInjection     = "injection"
	CategoryContentPolicy = "content_policy"
	CategoryToolExecution = "tool_execution"
)

// EventSource: тег источника во всех SIEM-бэкендах
const EventSource = "mcp-security-layer"

// SecurityEvent создается один раз на завершение вызова и после отправки
// в синки больше не нужен: персистентность остается на синках.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Severity  Severity       `json:"severity"`
	Category  string         `json:"category"`
	AgentID   string         `json:"agent_id"`
	ToolName  string         `json:"tool_name"`
	Outcome   Outcome        `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewSecurityEvent заполняет служебные поля (ID, UTC-время, источник)
func NewSecurityEvent(agentID, toolName string, outcome Outcome, severity Severity, category string) SecurityEvent {
	return SecurityEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Source:    EventSource,
		Severity:  severity,
		Category:  category,
		AgentID:   agentID,
		ToolName:  toolName,
		Outcome:   outcome,
		Metadata:  make(map[string]any),
	}
}
