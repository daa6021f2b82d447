package config

import (
	"time"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/health"
	"github.com/xdien/cipher/internal/rpc"
	"github.com/xdien/cipher/internal/tools/unified"
)

// Config holds all configuration for the Cipher process.
type Config struct {
	Logging LoggingConfig           `yaml:"logging"`
	Fleet   FleetConfig             `yaml:"fleet"`
	Tools   ToolsConfig             `yaml:"tools"`
	Servers []ServerDescriptorEntry `yaml:"servers"`
}

// LoggingConfig holds logging configuration, mirroring the teacher's
// top-level logging section.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// FleetConfig holds the Lifecycle Manager's tunables plus the resilience
// and health settings every connection inherits. A server entry has no
// per-server override for them.
type FleetConfig struct {
	MaxConcurrentConnections  int                         `yaml:"max_concurrent_connections"`
	ShutdownTimeout           time.Duration               `yaml:"shutdown_timeout"`
	MaxRecoveryAttempts       int                          `yaml:"max_recovery_attempts"`
	RecoveryDelay             time.Duration               `yaml:"recovery_delay"`
	RecoveryBackoffMultiplier float64                     `yaml:"recovery_backoff_multiplier"`
	CircuitBreaker            domain.CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry                     domain.RetryConfig          `yaml:"retry"`
	Health                    health.Config               `yaml:"health"`
	ClientName                string                      `yaml:"client_name"`
	ClientVersion             string                      `yaml:"client_version"`
}

// ClientInfo builds the rpc.ClientInfo the fleet hands every connection
// during initialize.
func (f FleetConfig) ClientInfo() rpc.ClientInfo {
	name := f.ClientName
	if name == "" {
		name = "cipher"
	}
	version := f.ClientVersion
	if version == "" {
		version = "dev"
	}
	return rpc.ClientInfo{Name: name, Version: version}
}

// ToolsConfig holds the Internal Tool Registry and Unified Tool Manager's
// tunables.
type ToolsConfig struct {
	Prefix             string                     `yaml:"prefix"`
	ExecutionTimeout   time.Duration              `yaml:"execution_timeout"`
	Mode               unified.Mode               `yaml:"mode"`
	ConflictResolution unified.ConflictResolution `yaml:"conflict_resolution"`
	EmbeddingsEnabled  bool                       `yaml:"embeddings_enabled"`
	// CLIToolGlobs restricts which internal tools cli mode exposes; see
	// unified.Capabilities.CLIToolGlobs.
	CLIToolGlobs []string `yaml:"cli_tool_globs"`
}

// ServerDescriptorEntry is a ServerDescriptor as it appears in the config
// document, stdio/network fields flattened into one YAML-friendly shape.
type ServerDescriptorEntry struct {
	Name           string            `yaml:"name"`
	Type           string            `yaml:"type"`
	Command        string            `yaml:"command,omitempty"`
	Args           []string          `yaml:"args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	URL            string            `yaml:"url,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	TimeoutMs      int               `yaml:"timeout"`
	ConnectionMode string            `yaml:"connection_mode"`
	Enabled        bool              `yaml:"enabled"`
}

// ToDescriptor converts a config-file entry into the domain type the rest
// of the fleet operates on.
func (e ServerDescriptorEntry) ToDescriptor() domain.ServerDescriptor {
	mode := domain.ConnectionModeLenient
	if e.ConnectionMode != "" {
		mode = domain.ConnectionMode(e.ConnectionMode)
	}
	timeout := e.TimeoutMs
	if timeout == 0 {
		timeout = DefaultDescriptorTimeoutMs
	}
	return domain.ServerDescriptor{
		Name:           e.Name,
		Kind:           domain.TransportKind(e.Type),
		Command:        e.Command,
		Args:           e.Args,
		Env:            e.Env,
		URL:            e.URL,
		Headers:        e.Headers,
		TimeoutMs:      timeout,
		ConnectionMode: mode,
		Enabled:        e.Enabled,
	}
}

// FromDescriptor converts a domain descriptor back into its config-file
// shape, for export.
func FromDescriptor(d domain.ServerDescriptor) ServerDescriptorEntry {
	return ServerDescriptorEntry{
		Name:           d.Name,
		Type:           d.Kind.String(),
		Command:        d.Command,
		Args:           d.Args,
		Env:            d.Env,
		URL:            d.URL,
		Headers:        d.Headers,
		TimeoutMs:      d.TimeoutMs,
		ConnectionMode: d.ConnectionMode.String(),
		Enabled:        d.Enabled,
	}
}
