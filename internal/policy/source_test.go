package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"go.uber.org/zap"
)

const samplePolicies = `
policies:
  - id: policy-support
    name: Support bot
    subjects: [support-agent]
    tools: ["get*", "searchTickets"]
    conditions:
      trust_levels: [medium, high]
      rate_limit:
        max_requests: 10
        window: 30s
  - id: policy-ops
    subjects: ["*"]
    tools: ["*"]
    conditions:
      trust_levels: [high]
`

func TestParsePolicies(t *testing.T) {
	policies, err := ParsePolicies([]byte(samplePolicies))
	if err != nil {
		t.Fatalf("ParsePolicies: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("got %d policies", len(policies))
	}

	p := policies[0]
	if p.ID != "policy-support" || p.Name != "Support bot" {
		t.Errorf("unexpected policy: %+v", p)
	}
	if len(p.Tools) != 2 || p.Tools[1] != "searchTickets" {
		t.Errorf("tools = %v", p.Tools)
	}
	rl := p.RateLimit()
	if rl == nil || rl.MaxRequests != 10 || rl.Window != 30*time.Second {
		t.Errorf("rate limit = %+v", rl)
	}
	if !p.Conditions.AllowsTrust(domain.TrustMedium) || p.Conditions.AllowsTrust(domain.TrustLow) {
		t.Error("trust levels not parsed")
	}
	if policies[1].RateLimit() != nil {
		t.Error("policy-ops must have no rate limit")
	}
}

func TestParsePolicies_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "", "empty"},
		{"unknown field", "policies:\n  - id: p\n    subjects: [a]\n    tools: [b]\n    trust: high\n", "field trust not found"},
		{"bad trust", "policies:\n  - id: p\n    subjects: [a]\n    tools: [b]\n    conditions: {trust_levels: [root]}\n", "unknown trust level"},
		{"bad window", "policies:\n  - id: p\n    subjects: [a]\n    tools: [b]\n    conditions: {rate_limit: {max_requests: 1, window: soon}}\n", "decode"},
		{"zero limit", "policies:\n  - id: p\n    subjects: [a]\n    tools: [b]\n    conditions: {rate_limit: {max_requests: 0, window: 1s}}\n", "positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicies([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestFileSource_FeedsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(samplePolicies), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(FileSource{Path: path}, zap.NewNop())
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := ids(s.Candidates("support-agent", "searchTickets")); len(got) != 2 || got[0] != "policy-support" {
		t.Errorf("candidates = %v", got)
	}

	if _, err := (FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}).LoadPolicies(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultSource(t *testing.T) {
	policies, err := DefaultSource{}.LoadPolicies(context.Background())
	if err != nil || len(policies) != 3 {
		t.Fatalf("policies=%d err=%v", len(policies), err)
	}
}
