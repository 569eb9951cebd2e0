package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Admin.Port != 9090 {
		t.Errorf("admin.port = %d, want 9090", cfg.Admin.Port)
	}
	if cfg.Policy.Source != "default" {
		t.Errorf("policy.source = %q, want default", cfg.Policy.Source)
	}
	if cfg.RateLimit.Backend != "memory" {
		t.Errorf("rate_limit.backend = %q, want memory", cfg.RateLimit.Backend)
	}
	if cfg.SIEM.EmitTimeout != 5*time.Second {
		t.Errorf("siem.emit_timeout = %v, want 5s", cfg.SIEM.EmitTimeout)
	}
	if cfg.SIEM.RetryAttempts != 3 {
		t.Errorf("siem.retry_attempts = %d, want 3", cfg.SIEM.RetryAttempts)
	}
	if cfg.SIEM.Chronicle.Endpoint != "" || cfg.SIEM.Splunk.Endpoint != "" {
		t.Error("SIEM connectors must be disabled by default")
	}
}

func TestLoadConfigLegacyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SPLUNK_HEC_ENDPOINT", "https://splunk.local:8088/services/collector")
	t.Setenv("SPLUNK_HEC_TOKEN", "hec-token")
	t.Setenv("CHRONICLE_ENDPOINT", "https://chronicle.local/ingest")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SIEM.Splunk.Endpoint != "https://splunk.local:8088/services/collector" {
		t.Errorf("splunk endpoint = %q", cfg.SIEM.Splunk.Endpoint)
	}
	if cfg.SIEM.Splunk.Token != "hec-token" {
		t.Errorf("splunk token = %q", cfg.SIEM.Splunk.Token)
	}
	if cfg.SIEM.Chronicle.Endpoint != "https://chronicle.local/ingest" {
		t.Errorf("chronicle endpoint = %q", cfg.SIEM.Chronicle.Endpoint)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
policy:
  source: file
  file: /etc/guard/policies.yaml
rate_limit:
  backend: redis
siem:
  emit_timeout: 2s
logger:
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Policy.Source != "file" || cfg.Policy.File != "/etc/guard/policies.yaml" {
		t.Errorf("policy config = %+v", cfg.Policy)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Errorf("rate_limit.backend = %q", cfg.RateLimit.Backend)
	}
	if cfg.SIEM.EmitTimeout != 2*time.Second {
		t.Errorf("siem.emit_timeout = %v", cfg.SIEM.EmitTimeout)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger.level = %q", cfg.Logger.Level)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown policy source", map[string]string{"POLICY_SOURCE": "etcd"}},
		{"file source without path", map[string]string{"POLICY_SOURCE": "file"}},
		{"postgres source without url", map[string]string{"POLICY_SOURCE": "postgres"}},
		{"unknown limiter backend", map[string]string{"RATE_LIMIT_BACKEND": "memcached"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"}); err != nil {
		t.Errorf("console logger: %v", err)
	}
	if _, err := NewLogger(LoggerConfig{Level: "info"}); err != nil {
		t.Errorf("json logger: %v", err)
	}
	if _, err := NewLogger(LoggerConfig{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := NewLogger(LoggerConfig{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}
