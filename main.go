// Package main provides the CLI entry point for the desktop agent autopilot
// service.
//
// # Basic Usage
//
// Start the service:
//
//	autopilot serve
//
// Check a template against a policy:
//
//	autopilot validate --policy policy.yaml --manifest manifest.yaml
//
// # Environment Variables
//
//   - HTTP_PORT, RPC_PORT: listen ports (default 8080, 8091)
//   - DATABASE_URL: SQLite DSN
//   - POLICY_FILE: policy YAML, reloaded on change
//   - AUTOPILOT_ENABLED: global autopilot switch
//   - NOTIFY_URL: notification relay address
//   - LOG_LEVEL: debug, info, warn or error
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/adapter/notify"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/autopilot"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/config"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/metrics"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/policy"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/repository"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/service"
)

func main() {
	cfg := config.Load()

	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd(cfg).Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Policy-gated autopilot for desktop agent plans",
		Long: `Decides whether a template may run unattended, watches running plans
for deviations and pauses them for a human when too much goes wrong.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(cfg),
		buildValidateCmd(cfg),
		buildWindowCmd(),
		buildRunCmd(cfg),
	)
	return rootCmd
}

// components is everything a command needs to validate and monitor plans.
type components struct {
	engine      *policy.Engine
	coordinator *autopilot.Coordinator
	metrics     *metrics.Metrics
	service     *service.Service
}

// wire builds the policy engine, coordinator and service around store. The
// store may be nil for commands that only validate.
func wire(ctx context.Context, cfg *config.Config, policyCfg domain.PolicyConfig, store repository.Store, reg prometheus.Registerer, logger *slog.Logger) (*components, error) {
	engine := policy.NewEngine(policyCfg)
	m := metrics.New(reg)

	opts := []autopilot.Option{
		autopilot.WithMetrics(m),
		autopilot.WithLogger(logger),
	}
	if policyCfg.Rules != "" {
		rules, err := policy.LoadRules(ctx, policyCfg.Rules)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		opts = append(opts, autopilot.WithRules(rules))
	}

	coordinator := autopilot.New(engine, autopilot.Config{
		Enabled:   cfg.AutopilotEnabled,
		Deviation: cfg.Deviation(),
	}, opts...)

	c := &components{engine: engine, coordinator: coordinator, metrics: m}
	if store != nil {
		svc := service.New(store, coordinator, engine, notify.NewClient(cfg.NotifyURL), cfg)
		svc.SetLogger(logger)
		svc.SetActiveGauge(m)
		c.service = svc
	}
	return c, nil
}
