package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Сентинелы для errors.Is поверх типизированных ошибок ниже
var (
	ErrAccessDenied  = errors.New("access denied")
	ErrInputRejected = errors.New("input rejected")
	ErrContentPolicy = errors.New("content policy violation")
	ErrSinkDelivery  = errors.New("sink delivery failed")
)

// AccessDeniedError: нет политики, не подошел trust level или превышен лимит
type AccessDeniedError struct {
	AgentID string
	Tool    string
	Reason  string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("Access denied for agent %s on tool %s: %s", e.AgentID, e.Tool, e.Reason)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// InputRejectedError: в параметрах найден шаблон инъекции
type InputRejectedError struct {
	Tool    string
	Pattern string
}

func (e *InputRejectedError) Error() string {
	return fmt.Sprintf("Security violation on tool %s: injection detected (pattern %s)", e.Tool, e.Pattern)
}

func (e *InputRejectedError) Is(target error) bool { return target == ErrInputRejected }

// ContentPolicyError: armor-скан входа вернул safe=false
type ContentPolicyError struct {
	Violations []string
}

func (e *ContentPolicyError) Error() string {
	if len(e.Violations) == 0 {
		return "Content policy violation"
	}
	return "Content policy violation: " + e.Violations[0]
}

func (e *ContentPolicyError) Is(target error) bool { return target == ErrContentPolicy }

// Reason: все нарушения одной строкой для SecurityEvent
func (e *ContentPolicyError) Reason() string {
	return strings.Join(e.Violations, ", ")
}

// SinkDeliveryError не выходит за пределы менеджера синков
type SinkDeliveryError struct {
	Sink string
	Err  error
}

func (e *SinkDeliveryError) Error() string {
	return fmt.Sprintf("sink %s: delivery failed: %v", e.Sink, e.Err)
}

func (e *SinkDeliveryError) Unwrap() error { return e.Err }

func (e *SinkDeliveryError) Is(target error) bool { return target == ErrSinkDelivery }
