package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/config"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/policy"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/repository"
	transporthttp "github.com/Axion-inc/DesktopAgent-sub001/internal/transport/http"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/transport/rpc"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and RPC servers",
		Long: `Start the autopilot service.

The server will:
1. Load the policy file and watch it for changes
2. Open the SQLite database
3. Serve the /v1 API, /health and /metrics over HTTP
4. Serve the Autopilot JSON-RPC methods for DSL runners
5. Expire resume approvals nobody answered in time

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "Path to the policy YAML file")
	cmd.Flags().BoolVar(&cfg.AutopilotEnabled, "autopilot", cfg.AutopilotEnabled, "Enable autopilot globally")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	logger.Info("starting autopilot service",
		"http_port", cfg.HTTPPort, "rpc_port", cfg.RPCPort,
		"database", cfg.DatabaseURL, "policy", cfg.PolicyFile, "autopilot", cfg.AutopilotEnabled)

	policyCfg, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := wire(ctx, cfg, policyCfg, store, reg, logger)
	if err != nil {
		return err
	}

	go app.service.RunApprovalTimeoutMonitor(ctx)
	go func() {
		if err := config.WatchPolicy(ctx, cfg.PolicyFile, logger, app.engine.SetConfig); err != nil {
			logger.Warn("policy watcher stopped", "error", err)
		}
	}()

	httpServer := transporthttp.NewServer(app.service, reg)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	rpcServer, err := rpc.NewServer(app.service, logger)
	if err != nil {
		return err
	}
	go func() {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		if err := rpcServer.Start(addr); err != nil {
			logger.Error("rpc server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down autopilot service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown http server gracefully", "error", err)
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown rpc server gracefully", "error", err)
	}

	logger.Info("autopilot service stopped")
	return nil
}

// =============================================================================
// Validate Command
// =============================================================================

func buildValidateCmd(cfg *config.Config) *cobra.Command {
	var (
		policyPath   string
		manifestPath string
		at           string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a template manifest against a policy",
		Example: `  autopilot validate --policy policy.yaml --manifest manifest.yaml
  autopilot validate --policy policy.yaml --manifest manifest.yaml --at 2024-08-17T12:00:00+09:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return runValidate(cmd.Context(), cmd.OutOrStdout(), cfg, policyPath, manifestPath, now)
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", cfg.PolicyFile, "Path to the policy YAML file")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the template manifest YAML file")
	cmd.Flags().StringVar(&at, "at", "", "Evaluate at this RFC3339 time instead of now")
	cmd.Flags().BoolVar(&cfg.AutopilotEnabled, "autopilot", cfg.AutopilotEnabled, "Enable autopilot globally")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func runValidate(ctx context.Context, out io.Writer, cfg *config.Config, policyPath, manifestPath string, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policyCfg, err := config.LoadPolicy(policyPath)
	if err != nil {
		return err
	}
	manifest, err := config.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	app, err := wire(ctx, cfg, policyCfg, nil, prometheus.NewRegistry(), slog.Default())
	if err != nil {
		return err
	}
	decision := app.coordinator.ValidateExecution(ctx, manifest, now)
	if err := writeJSON(out, decision); err != nil {
		return err
	}
	if !decision.Allowed {
		return fmt.Errorf("template %q is not allowed", manifest.Name)
	}
	return nil
}

// =============================================================================
// Window Command
// =============================================================================

func buildWindowCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "window EXPR",
		Short: "Parse a time window and check whether a time falls inside it",
		Example: `  autopilot window "MON-FRI 09:00-17:00 Asia/Tokyo"
  autopilot window "SAT,SUN 00:00-23:59 UTC" --at 2024-08-17T12:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return runWindow(cmd.OutOrStdout(), args[0], now)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Check this RFC3339 time instead of now")
	return cmd
}

func runWindow(out io.Writer, expr string, now time.Time) error {
	w, err := policy.ParseWindow(expr)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]interface{}{
		"window": w.String(),
		"at":     now.Format(time.RFC3339),
		"inside": w.Contains(now),
	})
}

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd(cfg *config.Config) *cobra.Command {
	var (
		policyPath   string
		planPath     string
		manifestPath string
		dbPath       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a plan locally under autopilot supervision",
		Long: `Validate a plan's manifest and run its steps with the builtin step
executors. The run stops when a step fails or the deviation threshold trips;
a tripped run is left paused with a pending resume approval.`,
		Example: `  autopilot run --policy policy.yaml --plan plan.yaml --autopilot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), cmd.OutOrStdout(), cfg, policyPath, planPath, manifestPath, dbPath)
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", cfg.PolicyFile, "Path to the policy YAML file")
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to the plan YAML file")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the manifest YAML file (default: the plan's manifest)")
	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "SQLite DSN for the run's audit trail")
	cmd.Flags().BoolVar(&cfg.AutopilotEnabled, "autopilot", cfg.AutopilotEnabled, "Enable autopilot globally")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func runPlan(ctx context.Context, out io.Writer, cfg *config.Config, policyPath, planPath, manifestPath, dbPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policyCfg, err := config.LoadPolicy(policyPath)
	if err != nil {
		return err
	}
	plan, err := config.LoadPlan(planPath)
	if err != nil {
		return err
	}
	if manifestPath == "" {
		manifestPath = plan.Manifest
	}

	var manifest domain.TemplateManifest
	if manifestPath != "" {
		if manifest, err = config.LoadManifest(manifestPath); err != nil {
			return err
		}
	}

	store, err := repository.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	app, err := wire(ctx, cfg, policyCfg, store, prometheus.NewRegistry(), slog.Default())
	if err != nil {
		return err
	}

	result, err := app.service.RunPlan(ctx, plan, manifest)
	if err != nil {
		return err
	}
	if err := writeJSON(out, result); err != nil {
		return err
	}
	if result.Status != domain.ExecutionStatusDone {
		return fmt.Errorf("plan %q ended with status %s", plan.Name, result.Status)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func parseAt(at string) (time.Time, error) {
	if at == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", at, err)
	}
	return t, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
