package cli

import (
	"fmt"
	"io"

	"github.com/harun/dbperms-mcp/internal/config"
	"github.com/harun/dbperms-mcp/internal/logger"
	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/harun/dbperms-mcp/internal/observability"
	"github.com/harun/dbperms-mcp/pkg/catalog"
	"github.com/harun/dbperms-mcp/pkg/databricks"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

// loadConfig loads the configuration named by --config and applies the
// --log-level override
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogger installs the global logger. Console output always goes to
// stderr, stdout carries protocol messages and command output.
func setupLogger(cmd *cobra.Command, cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:          cfg.Logging.Level,
		File:           cfg.Logging.File,
		Console:        cfg.Logging.Console,
		Pretty:         cfg.Logging.Pretty,
		Redaction:      cfg.Logging.Redaction,
		RedactPatterns: cfg.Logging.RedactPatterns,
		MaxSize:        cfg.Logging.MaxSize,
		MaxAge:         cfg.Logging.MaxAge,
		Compress:       cfg.Logging.Compress,
		Output:         cmd.ErrOrStderr(),
	})
}

// openAudit returns the audit logger configured by cfg, or nil when auditing
// is disabled
func openAudit(cfg *config.Config, stderr io.Writer) (*observability.AuditLogger, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	if cfg.Audit.File == "" {
		return observability.NewAuditLogger(stderr), nil
	}
	return observability.OpenAuditLogger(cfg.Audit.File)
}

// newDispatcher builds the Databricks client, the tool catalog filtered by
// the tool policy, and a dispatcher over it
func newDispatcher(cfg *config.Config, m *metrics.Metrics, audit *observability.AuditLogger, opts ...toolexecutor.Option) (*toolexecutor.Dispatcher, error) {
	client, err := databricks.NewClient(databricks.ClientConfig{
		Host:      cfg.Databricks.Host,
		Token:     cfg.Databricks.Token,
		UserAgent: userAgent(cfg),
		Timeout:   cfg.Databricks.Timeout(),
		Metrics:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create databricks client: %w", err)
	}

	reg, err := filteredRegistry(databricks.NewService(client), cfg)
	if err != nil {
		return nil, err
	}

	opts = append([]toolexecutor.Option{
		toolexecutor.WithTimeout(cfg.Tools.Timeout()),
		toolexecutor.WithMetrics(m),
		toolexecutor.WithAuditLogger(audit),
	}, opts...)
	return toolexecutor.NewDispatcher(reg, opts...), nil
}

func filteredRegistry(svc *databricks.Service, cfg *config.Config) (*toolexecutor.Registry, error) {
	reg, err := catalog.NewRegistry(svc)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool catalog: %w", err)
	}
	filtered, err := reg.Filter(cfg.Tools.Policy())
	if err != nil {
		return nil, fmt.Errorf("invalid tool policy: %w", err)
	}
	return filtered, nil
}

func userAgent(cfg *config.Config) string {
	ua := cfg.Databricks.UserAgent
	if ua == "" {
		ua = databricks.DefaultUserAgent
	}
	return ua + "/" + version
}

// validateConfig reports every configuration problem at once
func validateConfig(cfg *config.Config) error {
	errs := config.NewValidator().ValidateConfig(cfg)
	if len(errs) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, err := range errs {
		msg += "\n  - " + err.Error()
	}
	return fmt.Errorf("%s", msg)
}
