// ABOUTME: Package documentation for the config package.
// ABOUTME: Describes the YAML gateway config and the TOML backends manifest.

// Package config loads the gateway's configuration.
//
// Two files are involved: the main YAML config (server address, auth
// secrets, adapter defaults, rate limits, memory settings) and a TOML
// backends manifest listing the tool servers to federate. Both support
// ${VAR} environment variable expansion, and duration fields accept Go
// duration strings ("30s", "5m").
package config
