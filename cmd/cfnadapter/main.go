package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/terrpan/cfnadapter/internal/config"
	"github.com/terrpan/cfnadapter/internal/harness"
	"github.com/terrpan/cfnadapter/internal/otel"
)

var (
	cfgPath       string
	flagOverrides config.Config
	flagAddr      string
	flagEventPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cfnadapter",
	Short: "CloudFormation custom resource lifecycle adapter",
	Long: `cfnadapter wraps custom resource handlers with the CloudFormation
request/response protocol: it parses lifecycle events, runs the handler
behind a fault boundary, and reports the outcome to the stack's
presigned callback URL.

The CLI exercises that machinery locally: "invoke" runs a single event
through the adapter, "serve" starts an HTTP harness for repeated runs.

Configuration is read from a YAML file (--config) with optional CLI
flag overrides for the most common settings.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()

	// Config file
	pf.StringVar(&cfgPath, "config", "config.yaml", "Path to YAML configuration file")

	// Logging overrides
	pf.StringVar(&flagOverrides.Logging.Level, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagOverrides.Logging.Format, "log-format", "", "Log format (text, json)")

	invokeCmd.Flags().StringVar(&flagEventPath, "event", "", "Path to a lifecycle event JSON file (- for stdin)")
	_ = invokeCmd.MarkFlagRequired("event")

	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default from config, \":8080\")")

	rootCmd.AddCommand(invokeCmd, serveCmd)
}

// applyFlagOverrides merges non-zero CLI flag values into the loaded config.
func applyFlagOverrides(cfg *config.Config) {
	if flagOverrides.Logging.Level != "" {
		cfg.Logging.Level = flagOverrides.Logging.Level
	}
	if flagOverrides.Logging.Format != "" {
		cfg.Logging.Format = flagOverrides.Logging.Format
	}
	if flagAddr != "" {
		cfg.Harness.Addr = flagAddr
	}
}

// loadConfig loads, overrides, and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// invoke
// ---------------------------------------------------------------------------

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run a single lifecycle event through the adapter",
	Long: `invoke reads a CloudFormation custom resource event from a file,
feeds it through the adapter with the built-in echo handler, and prints
the callback payload that would have been PUT to the presigned URL.

Events without a ResponseURL get a placeholder injected, so captured
production events and hand-written fixtures both work.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger()

		raw, err := readEvent(flagEventPath)
		if err != nil {
			return err
		}

		raw, err = harness.EnsureResponseURL(raw)
		if err != nil {
			return fmt.Errorf("preparing event: %w", err)
		}

		resp, err := harness.Invoke(cmd.Context(), raw, nil, logger.WithGroup("adapter"))
		if err != nil {
			return fmt.Errorf("invoking adapter: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func readEvent(path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading event from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event %s: %w", path, err)
	}
	return raw, nil
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP harness",
	Long: `serve starts an HTTP server with three endpoints:

  POST /invoke   run a lifecycle event through the adapter
  GET  /healthz  health check
  GET  /metrics  Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger()

		otelShutdown, err := otel.Setup(ctx, "cfnadapter", otel.Config{
			Enabled:    cfg.OTel.Enabled,
			Endpoint:   cfg.OTel.Endpoint,
			Insecure:   *cfg.OTel.Insecure,
			StdOut:     cfg.OTel.StdOut,
			Prometheus: *cfg.OTel.PrometheusEnabled,
		})
		if err != nil {
			return fmt.Errorf("setting up telemetry: %w", err)
		}
		defer func() {
			if err := otelShutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Error("telemetry shutdown", slog.String("error", err.Error()))
			}
		}()

		logger.Info("configuration loaded",
			slog.String("configFile", cfgPath),
			slog.String("addr", cfg.Harness.Addr),
			slog.Bool("deleteLogs", *cfg.Adapter.DeleteLogs),
			slog.Bool("hideDeleteFailure", *cfg.Adapter.HideDeleteFailure),
		)

		srv := harness.NewServer(cfg.Harness.Addr, logger.WithGroup("harness"))
		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("harness: %w", err)
		}

		logger.Info("shutting down gracefully")
		return nil
	},
}
