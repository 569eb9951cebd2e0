// Package armor выполняет симметричный скан входа и выхода инструмента:
// поиск PII с редактированием и тематические нарушения контент-политики.
package armor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xela07ax/spaceai-tool-guard/internal/payload"
)

type Category string

const (
	CategoryEmail      Category = "email"
	CategorySSN        Category = "ssn"
	CategoryCreditCard Category = "credit_card"
	CategoryPhone      Category = "phone"
	CategoryAddress    Category = "address" // объявлена, автоматического детектора нет
)

// Placeholder: маркер, которым заменяется найденный фрагмент
func (c Category) Placeholder() string {
	return "[REDACTED_" + strings.ToUpper(string(c)) + "]"
}

// PiiEntity: найденный фрагмент, смещения в байтах, [Start, End)
type PiiEntity struct {
	Category    Category `json:"category"`
	MatchedText string   `json:"matched_text"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
}

// Result создается на каждый скан и нигде не хранится
type Result struct {
	Safe            bool        `json:"safe"`
	Violations      []string    `json:"violations"`
	PiiEntities     []PiiEntity `json:"pii_entities"`
	RedactedContent string      `json:"redacted_content"`
}

// HasPII: нашлась ли хотя бы одна сущность
func (r Result) HasPII() bool { return len(r.PiiEntities) > 0 }

// Categories: уникальные категории в порядке обнаружения (для логов и метрик)
func (r Result) Categories() []Category {
	var out []Category
	seen := make(map[Category]struct{}, len(r.PiiEntities))
	for _, e := range r.PiiEntities {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

type detector struct {
	category Category
	re       *regexp.Regexp
}

// Порядок детекторов определяет порядок сущностей в результате.
// Категории проверяются независимо: пересечения между ними возможны.
var piiDetectors = []detector{
	{CategoryEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)},
	{CategorySSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{CategoryCreditCard, regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{1,4}\b`)},
	{CategoryPhone, regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
}

// Тематические шаблоны: каждое совпадение дает отдельное нарушение
var violationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(hack|exploit|breach|steal)\b`),
	regexp.MustCompile(`(?i)\b(confidential|secret|classified)\s+\w+`),
}

const violationPrefix = "Policy violation: "

// Scanner не хранит состояния, один экземпляр обслуживает все запросы
type Scanner struct {
	detectors  []detector
	violations []*regexp.Regexp
}

func NewScanner() *Scanner {
	return &Scanner{
		detectors:  piiDetectors,
		violations: violationPatterns,
	}
}

func (s *Scanner) Scan(content string) Result {
	res := Result{Violations: []string{}, PiiEntities: []PiiEntity{}}

	// 1. PII: все непересекающиеся совпадения каждой категории
	for _, d := range s.detectors {
		for _, loc := range d.re.FindAllStringIndex(content, -1) {
			res.PiiEntities = append(res.PiiEntities, PiiEntity{
				Category:    d.category,
				MatchedText: content[loc[0]:loc[1]],
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}

	// 2. Нарушения накапливаются, без short-circuit
	for _, re := range s.violations {
		if re.MatchString(content) {
			res.Violations = append(res.Violations, violationPrefix+re.String())
		}
	}

	// 3. PII сама по себе контент небезопасным не делает
	res.Safe = len(res.Violations) == 0
	res.RedactedContent = Redact(content, res.PiiEntities)
	return res
}

// ScanValue сканирует произвольный результат/параметры инструмента.
// Строки сканируются как есть, остальное: в виде JSON.
func (s *Scanner) ScanValue(v any) Result {
	if str, ok := v.(string); ok {
		return s.Scan(str)
	}
	return s.Scan(payload.String(v))
}

type span struct {
	start, end int
	category   Category
}

// Redact заменяет каждый фрагмент маркером категории. Замены идут по убыванию
// начального смещения, так что уже обработанный хвост не сдвигает оставшиеся
// смещения. Пересекающиеся фрагменты разных категорий сливаются в один, маркер
// берется у начавшегося раньше (при равенстве: у более длинного).
func Redact(content string, entities []PiiEntity) string {
	if len(entities) == 0 {
		return content
	}

	sorted := make([]PiiEntity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	merged := make([]span, 0, len(sorted))
	for _, e := range sorted {
		if e.Start < 0 || e.End > len(content) || e.Start >= e.End {
			continue
		}
		if n := len(merged); n > 0 && e.Start < merged[n-1].end {
			if e.End > merged[n-1].end {
				merged[n-1].end = e.End
			}
			continue
		}
		merged = append(merged, span{start: e.Start, end: e.End, category: e.Category})
	}

	out := content
	for i := len(merged) - 1; i >= 0; i-- {
		m := merged[i]
		out = out[:m.start] + m.category.Placeholder() + out[m.end:]
	}
	return out
}
