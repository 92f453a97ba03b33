// ABOUTME: TOML backends manifest describing the tool servers to federate.
// ABOUTME: Each entry configures one adapter: id, transport, and per-adapter overrides.

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend describes one tool server entry in the manifest.
type Backend struct {
	ID        string `toml:"id"`
	Transport string `toml:"transport"` // "stdio" or "tcp"

	// stdio transport
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Env     []string `toml:"env"`

	// tcp transport
	Addr string `toml:"addr"`

	// Concurrent opts the backend into parallel calls. Leave false unless
	// the backend's protocol is verified concurrency-safe.
	Concurrent bool `toml:"concurrent"`

	CallTimeout time.Duration `toml:"-"`

	// CallTimeoutRaw overrides the global adapter call timeout.
	CallTimeoutRaw string `toml:"call_timeout"`
}

// Manifest is the parsed backends file.
type Manifest struct {
	Backends []Backend `toml:"backend"`
}

// LoadManifest reads the TOML backends manifest, expanding ${VAR} references.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backends manifest: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var m Manifest
	if _, err := toml.Decode(expanded, &m); err != nil {
		return nil, fmt.Errorf("parsing backends manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating backends manifest: %w", err)
	}
	return &m, nil
}

// Validate checks manifest entries for completeness and duplicate IDs,
// and parses per-backend duration overrides.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Backends))
	for i := range m.Backends {
		b := &m.Backends[i]
		if b.ID == "" {
			return fmt.Errorf("backend[%d]: id is required", i)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("backend[%d]: duplicate id %q", i, b.ID)
		}
		seen[b.ID] = struct{}{}

		switch b.Transport {
		case "stdio":
			if b.Command == "" {
				return fmt.Errorf("backend %q: command is required for stdio transport", b.ID)
			}
		case "tcp":
			if b.Addr == "" {
				return fmt.Errorf("backend %q: addr is required for tcp transport", b.ID)
			}
		default:
			return fmt.Errorf("backend %q: unknown transport %q", b.ID, b.Transport)
		}

		if b.CallTimeoutRaw != "" {
			d, err := time.ParseDuration(b.CallTimeoutRaw)
			if err != nil {
				return fmt.Errorf("backend %q: parsing call_timeout %q: %w", b.ID, b.CallTimeoutRaw, err)
			}
			b.CallTimeout = d
		}
	}
	return nil
}
