// ABOUTME: Tests for YAML config loading, env expansion, and duration parsing.
// ABOUTME: Exercises validation failures for missing required fields.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
server:
  http_addr: "localhost:8400"
auth:
  jwt_secret: "test-secret"
  issuer: "toolgate"
adapters:
  manifest: "/etc/toolgate/backends.toml"
  start_attempts: 3
  start_backoff: "1s"
  list_timeout: "10s"
  call_timeout: "30s"
health:
  interval: "30s"
  probe_timeout: "5s"
  failure_threshold: 3
ratelimit:
  per_caller: 10
  burst: 5
memory:
  path: "/var/lib/toolgate/memory.db"
  history_depth: 3
  retention: "720h"
  purge_interval: "1h"
logging:
  level: "debug"
  format: "json"
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "localhost:8400" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.JWTSecret != "test-secret" || cfg.Auth.Issuer != "toolgate" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Adapters.StartBackoff != time.Second {
		t.Errorf("StartBackoff = %v, want 1s", cfg.Adapters.StartBackoff)
	}
	if cfg.Adapters.CallTimeout != 30*time.Second {
		t.Errorf("CallTimeout = %v, want 30s", cfg.Adapters.CallTimeout)
	}
	if cfg.Health.Interval != 30*time.Second || cfg.Health.FailureThreshold != 3 {
		t.Errorf("health = %+v", cfg.Health)
	}
	if cfg.RateLimit.PerCaller != 10 || cfg.RateLimit.Burst != 5 {
		t.Errorf("ratelimit = %+v", cfg.RateLimit)
	}
	if cfg.Memory.Retention != 720*time.Hour {
		t.Errorf("Retention = %v, want 720h", cfg.Memory.Retention)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8400"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "from-env")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing http addr",
			content: "auth:\n  jwt_secret: \"x\"\n",
			wantErr: "http_addr",
		},
		{
			name:    "missing jwt secret",
			content: "server:\n  http_addr: \"localhost:8400\"\n",
			wantErr: "jwt_secret",
		},
		{
			name: "bad duration",
			content: `
server:
  http_addr: "localhost:8400"
auth:
  jwt_secret: "x"
adapters:
  call_timeout: "half an hour"
`,
			wantErr: "call_timeout",
		},
		{
			name: "negative rate limit",
			content: `
server:
  http_addr: "localhost:8400"
auth:
  jwt_secret: "x"
ratelimit:
  per_caller: -1
`,
			wantErr: "per_caller",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}
