package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateHost validates the workspace URL. A bare host name is accepted
// and treated as https.
func (v *Validator) ValidateHost(host string) error {
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("databricks host is required (set databricks.host or DATABRICKS_HOST)")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("invalid databricks host: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid databricks host scheme: %s (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid databricks host: %s", host)
	}
	return nil
}

// ValidateToken validates the personal access token
func (v *Validator) ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("databricks token is required (set databricks.token or DATABRICKS_TOKEN)")
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTransport validates the transport name
func (v *Validator) ValidateTransport(transport string) error {
	switch transport {
	case "stdio", "http":
		return nil
	}
	return fmt.Errorf("invalid transport: %s (must be one of: stdio, http)", transport)
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", port)
	}
	return nil
}

// ValidateListenAddr validates a host:port listen address
func (v *Validator) ValidateListenAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Databricks
	if err := v.ValidateHost(cfg.Databricks.Host); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateToken(cfg.Databricks.Token); err != nil {
		errors = append(errors, err)
	}
	if cfg.Databricks.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("databricks.timeout_seconds must be > 0"))
	}

	// Server
	if err := v.ValidateTransport(cfg.Server.Transport); err != nil {
		errors = append(errors, err)
	}
	if cfg.Server.Transport == "http" {
		if err := v.ValidatePort(cfg.Server.Port); err != nil {
			errors = append(errors, fmt.Errorf("server: %w", err))
		}
	}
	if cfg.Server.RequestsPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server.requests_per_minute must be >= 0"))
	}
	if cfg.Server.MaxConcurrent < 0 {
		errors = append(errors, fmt.Errorf("server.max_concurrent must be >= 0"))
	}

	// Logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size must be >= 0"))
	}

	// Metrics
	if cfg.Metrics.Enabled && cfg.Server.Transport == "stdio" {
		if err := v.ValidateListenAddr(cfg.Metrics.Listen); err != nil {
			errors = append(errors, fmt.Errorf("metrics: %w", err))
		}
	}

	// Tracing
	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
		errors = append(errors, fmt.Errorf("tracing.service_name is required when tracing is enabled"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	// Tools
	if cfg.Tools.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("tools.timeout_seconds must be > 0"))
	}
	if cfg.Tools.MaxConcurrentReads < 0 || cfg.Tools.MaxConcurrentWrites < 0 {
		errors = append(errors, fmt.Errorf("tools.max_concurrent_reads and tools.max_concurrent_writes must be >= 0"))
	}
	if err := cfg.Tools.Policy().Validate(); err != nil {
		errors = append(errors, fmt.Errorf("tools: %w", err))
	}

	return errors
}
