// ABOUTME: Configuration loading and parsing for the toolgate gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration. It is constructed
// once at startup and threaded through constructors; nothing reads process
// environment ad hoc after load.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
	Health    HealthConfig    `yaml:"health"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Memory    MemoryConfig    `yaml:"memory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the gateway listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds bearer token validation settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// AdaptersConfig holds adapter defaults and the backends manifest path.
type AdaptersConfig struct {
	Manifest      string `yaml:"manifest"`
	StartAttempts int    `yaml:"start_attempts"`
	CallRetries   int    `yaml:"call_retries"`

	StartBackoff time.Duration `yaml:"-"`
	ListTimeout  time.Duration `yaml:"-"`
	CallTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	StartBackoffRaw string `yaml:"start_backoff"`
	ListTimeoutRaw  string `yaml:"list_timeout"`
	CallTimeoutRaw  string `yaml:"call_timeout"`
}

// HealthConfig holds liveness probe settings.
type HealthConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`

	Interval     time.Duration `yaml:"-"`
	ProbeTimeout time.Duration `yaml:"-"`

	IntervalRaw     string `yaml:"interval"`
	ProbeTimeoutRaw string `yaml:"probe_timeout"`
}

// RateLimitConfig holds the per-caller token bucket settings.
type RateLimitConfig struct {
	PerCaller float64 `yaml:"per_caller"` // calls per second, 0 disables
	Burst     int     `yaml:"burst"`
}

// MemoryConfig holds session memory settings.
type MemoryConfig struct {
	Path         string `yaml:"path"`
	MemoryID     string `yaml:"memory_id"`
	HistoryDepth int    `yaml:"history_depth"`

	Retention     time.Duration `yaml:"-"`
	PurgeInterval time.Duration `yaml:"-"`

	RetentionRaw     string `yaml:"retention"`
	PurgeIntervalRaw string `yaml:"purge_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.RateLimit.PerCaller < 0 {
		return fmt.Errorf("ratelimit.per_caller must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Adapters.StartBackoffRaw, "adapters.start_backoff", &cfg.Adapters.StartBackoff},
		{cfg.Adapters.ListTimeoutRaw, "adapters.list_timeout", &cfg.Adapters.ListTimeout},
		{cfg.Adapters.CallTimeoutRaw, "adapters.call_timeout", &cfg.Adapters.CallTimeout},
		{cfg.Health.IntervalRaw, "health.interval", &cfg.Health.Interval},
		{cfg.Health.ProbeTimeoutRaw, "health.probe_timeout", &cfg.Health.ProbeTimeout},
		{cfg.Memory.RetentionRaw, "memory.retention", &cfg.Memory.Retention},
		{cfg.Memory.PurgeIntervalRaw, "memory.purge_interval", &cfg.Memory.PurgeInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
