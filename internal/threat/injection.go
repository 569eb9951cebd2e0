// Package threat ищет сигнатуры prompt/script-инъекций в параметрах вызова.
package threat

import (
	"fmt"
	"regexp"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/payload"
)

// Шаблоны проверяются в фиксированном порядке, первое совпадение определяет ошибку.
// Шаблон ${...} не привязан к границам слов и ловит безобидный шаблонный текст тоже:
// это известное ограничение, сужать его: значит менять поведение безопасности.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore previous instructions`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)<script>`),
	regexp.MustCompile(`\$\{.*\}`),
}

// InjectionScanner не хранит состояния и безопасен для конкурентного использования
type InjectionScanner struct {
	patterns []*regexp.Regexp
}

func NewInjectionScanner() *InjectionScanner {
	return &InjectionScanner{patterns: injectionPatterns}
}

// Scan проверяет сериализованные параметры и падает на первом совпадении
func (s *InjectionScanner) Scan(toolName, serialized string) error {
	for _, re := range s.patterns {
		if re.MatchString(serialized) {
			return &domain.InputRejectedError{Tool: toolName, Pattern: re.String()}
		}
	}
	return nil
}

// ScanParams сериализует параметры так же, как их видит остальной конвейер
func (s *InjectionScanner) ScanParams(toolName string, params any) error {
	data, err := payload.Marshal(params)
	if err != nil {
		return fmt.Errorf("serialize params for tool %s: %w", toolName, err)
	}
	return s.Scan(toolName, string(data))
}
