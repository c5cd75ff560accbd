package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/dbperms-mcp/internal/config"
	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/harun/dbperms-mcp/internal/tracing"
	"github.com/harun/dbperms-mcp/pkg/commandqueue"
	"github.com/harun/dbperms-mcp/pkg/gateway"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
)

var (
	serveTransport string
	servePort      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools",
	Long: `Serve the MCP tools over stdio (the default, for MCP clients that spawn the
server) or over HTTP with JSON-RPC on /rpc, WebSocket on /ws, /metrics and /healthz.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport (stdio, http), overrides server.transport")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port, overrides server.port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveTransport != "" {
		cfg.Server.Transport = serveTransport
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	logs, err := setupLogger(cmd, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logs.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.Setup{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version,
			SampleRatio: cfg.Tracing.SampleRatio,
			Attributes:  []attribute.KeyValue{attribute.String("databricks.host", cfg.Databricks.Host)},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
	}

	audit, err := openAudit(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer audit.Close()

	queue := commandqueue.New(commandqueue.Config{Lanes: cfg.Tools.Lanes(), Metrics: m})
	defer queue.Close()

	dispatcher, err := newDispatcher(cfg, m, audit, toolexecutor.WithQueue(queue))
	if err != nil {
		return err
	}
	audit.RecordConfig(ctx, "serve", map[string]interface{}{
		"transport": cfg.Server.Transport,
		"tools":     dispatcher.Registry().Len(),
		"read_only": cfg.Tools.ReadOnly,
	})

	router, err := gateway.NewRouter(gateway.RouterConfig{
		Dispatcher: dispatcher,
		ServerInfo: gateway.ServerInfo{Name: "dbperms-mcp", Version: version},
		Metrics:    m,
		Logger:     log.Logger,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("transport", cfg.Server.Transport).
		Str("workspace", cfg.Databricks.Host).
		Int("tools", dispatcher.Registry().Len()).
		Msg("Starting dbperms-mcp")

	if cfg.Server.Transport == "http" {
		return serveHTTP(ctx, cfg, router, m)
	}

	if m != nil {
		stopMetrics := serveMetrics(cfg.Metrics.Listen, m)
		defer stopMetrics()
	}
	return gateway.ServeStdio(ctx, router, cmd.InOrStdin(), cmd.OutOrStdout())
}

func serveHTTP(ctx context.Context, cfg *config.Config, router *gateway.Router, m *metrics.Metrics) error {
	server, err := gateway.NewServer(gateway.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		SharedSecret:      cfg.Server.SharedSecret,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		MaxConcurrent:     cfg.Server.MaxConcurrent,
		Router:            router,
		Metrics:           m,
		Logger:            log.Logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Wait()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return server.Stop(context.Background())
}

// serveMetrics exposes /metrics on a standalone listener while the stdio
// transport runs and returns a function stopping it
func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics listener error")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
