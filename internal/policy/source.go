package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"gopkg.in/yaml.v3"
)

// policyFile — формат YAML-файла политик:
//
//	policies:
//	  - id: policy-readonly
//	    subjects: [readonly-agent]
//	    tools: ["get*", "list*"]
//	    conditions:
//	      trust_levels: [medium, high]
//	      rate_limit: {max_requests: 100, window: 60s}
type policyFile struct {
	Policies []domain.Policy `yaml:"policies"`
}

// FileSource читает политики из YAML-файла при каждом Refresh
type FileSource struct {
	Path string
}

func (s FileSource) LoadPolicies(_ context.Context) ([]domain.Policy, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies разбирает YAML; неизвестные поля: ошибка, чтобы опечатка
// в условии не превратилась в политику без ограничений
func ParsePolicies(data []byte) ([]domain.Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f policyFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("policy file is empty")
		}
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	for i := range f.Policies {
		if err := f.Policies[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Policies, nil
}
