package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/dbperms-mcp/pkg/commandqueue"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
)

// Config represents the main dbperms-mcp configuration
type Config struct {
	// Databricks workspace connection
	Databricks DatabricksConfig `json:"databricks" mapstructure:"databricks"`

	// Transport front-end
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Prometheus metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// OpenTelemetry tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Tool call audit trail
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Exposed tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`
}

// DatabricksConfig holds the workspace URL and credentials
type DatabricksConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Token          string `json:"token" mapstructure:"token"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	UserAgent      string `json:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout
func (d DatabricksConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ServerConfig holds transport configuration
type ServerConfig struct {
	Transport         string `json:"transport" mapstructure:"transport"` // stdio, http
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`

	// RedactPatterns are extra regular expressions masked in log output
	RedactPatterns []string `json:"redact_patterns" mapstructure:"redact_patterns"`
}

// MetricsConfig holds metrics configuration. In stdio mode metrics are
// served by a standalone listener on Listen.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`

	// SampleRatio is the fraction of traces kept, 1 keeps all
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// AuditConfig holds audit trail configuration. An empty File writes audit
// events to stderr.
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"`
}

// ToolsConfig selects the exposed tools and bounds their execution
type ToolsConfig struct {
	Allow          []string `json:"allow" mapstructure:"allow"`
	Deny           []string `json:"deny" mapstructure:"deny"`
	ReadOnly       bool     `json:"read_only" mapstructure:"read_only"`
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`

	// Concurrency limits for the read and write lanes, 0 uses the default
	MaxConcurrentReads  int `json:"max_concurrent_reads" mapstructure:"max_concurrent_reads"`
	MaxConcurrentWrites int `json:"max_concurrent_writes" mapstructure:"max_concurrent_writes"`
}

// Policy returns the tool policy described by the section
func (t ToolsConfig) Policy() *toolexecutor.ToolPolicy {
	return &toolexecutor.ToolPolicy{
		Allow:    t.Allow,
		Deny:     t.Deny,
		ReadOnly: t.ReadOnly,
	}
}

// Lanes returns the lane limits for the dispatcher queue
func (t ToolsConfig) Lanes() map[string]int {
	return map[string]int{
		commandqueue.LaneRead:  t.MaxConcurrentReads,
		commandqueue.LaneWrite: t.MaxConcurrentWrites,
	}
}

// Timeout returns the per-call tool timeout
func (t ToolsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Databricks: DatabricksConfig{
			TimeoutSeconds: 30,
			UserAgent:      "dbperms-mcp",
		},
		Server: ServerConfig{
			Transport:         "stdio",
			Host:              "127.0.0.1",
			Port:              8080,
			RequestsPerMinute: 120,
			MaxConcurrent:     16,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "dbperms-mcp",
			SampleRatio: 1,
		},
		Tools: ToolsConfig{
			TimeoutSeconds:      60,
			MaxConcurrentReads:  commandqueue.DefaultReadConcurrency,
			MaxConcurrentWrites: commandqueue.DefaultWriteConcurrency,
		},
	}
}

// Redacted returns a copy with credentials masked, for display
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Databricks.Token != "" {
		cp.Databricks.Token = redactedValue
	}
	if cp.Server.SharedSecret != "" {
		cp.Server.SharedSecret = redactedValue
	}
	return &cp
}

const redactedValue = "********"

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
