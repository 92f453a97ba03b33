// ABOUTME: Tests for the TOML backends manifest loader.
// ABOUTME: Covers parsing, per-backend overrides, and validation failures.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backends.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

func TestLoadManifest_Valid(t *testing.T) {
	m, err := LoadManifest(writeManifest(t, `
[[backend]]
id = "cost"
transport = "stdio"
command = "cost-server"
args = ["--verbose"]
env = ["COST_API_KEY=abc"]
call_timeout = "5s"

[[backend]]
id = "search"
transport = "tcp"
addr = "127.0.0.1:9100"
concurrent = true
`))
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if len(m.Backends) != 2 {
		t.Fatalf("got %d backends, want 2", len(m.Backends))
	}

	cost := m.Backends[0]
	if cost.ID != "cost" || cost.Command != "cost-server" || len(cost.Args) != 1 {
		t.Errorf("cost backend = %+v", cost)
	}
	if cost.CallTimeout != 5*time.Second {
		t.Errorf("cost CallTimeout = %v, want 5s", cost.CallTimeout)
	}
	if cost.Concurrent {
		t.Error("cost backend should default to serialized calls")
	}

	search := m.Backends[1]
	if search.Addr != "127.0.0.1:9100" || !search.Concurrent {
		t.Errorf("search backend = %+v", search)
	}
}

func TestLoadManifest_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BACKEND_ADDR", "127.0.0.1:9200")

	m, err := LoadManifest(writeManifest(t, `
[[backend]]
id = "remote"
transport = "tcp"
addr = "${TEST_BACKEND_ADDR}"
`))
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if m.Backends[0].Addr != "127.0.0.1:9200" {
		t.Errorf("addr = %q, want expanded env value", m.Backends[0].Addr)
	}
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing id",
			content: "[[backend]]\ntransport = \"stdio\"\ncommand = \"x\"\n",
			wantErr: "id is required",
		},
		{
			name: "duplicate id",
			content: `
[[backend]]
id = "a"
transport = "stdio"
command = "x"

[[backend]]
id = "a"
transport = "stdio"
command = "y"
`,
			wantErr: "duplicate id",
		},
		{
			name:    "stdio without command",
			content: "[[backend]]\nid = \"a\"\ntransport = \"stdio\"\n",
			wantErr: "command is required",
		},
		{
			name:    "tcp without addr",
			content: "[[backend]]\nid = \"a\"\ntransport = \"tcp\"\n",
			wantErr: "addr is required",
		},
		{
			name:    "unknown transport",
			content: "[[backend]]\nid = \"a\"\ntransport = \"carrier-pigeon\"\n",
			wantErr: "unknown transport",
		},
		{
			name:    "bad call timeout",
			content: "[[backend]]\nid = \"a\"\ntransport = \"stdio\"\ncommand = \"x\"\ncall_timeout = \"soon\"\n",
			wantErr: "call_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, tt.content))
			if err == nil {
				t.Fatal("LoadManifest() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadManifest() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
