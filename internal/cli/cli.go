// ============================================================================
// isopool CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the isopool binary
//
// Command Structure:
//   isopool                        # Root command
//   ├── run                        # Start pool + metrics + gateway
//   ├── submit                     # Submit a task through the gateway
//   ├── await                      # Wait for a remote task result
//   ├── cancel                     # Cancel a remote task
//   ├── status                     # Show remote pool statistics
//   ├── demo                       # Double a list of integers locally
//   ├── config init                # Write the default config file
//   ├── journal inspect            # Summarize or dump a lifecycle journal
//   ├── journal rotate             # Archive the journal and start a new one
//   ├── --config, -c               # Config file (default: search paths)
//   └── --log-level                # Override log.level
//
// run Command:
//   1. Load config (viper, ISOPOOL_* env overrides)
//   2. Build logger, supervisor, journal and metrics collector
//   3. Spawn pool.workers workers
//   4. Serve /metrics and the gRPC gateway when enabled
//   5. On SIGINT / SIGTERM: shut the supervisor down first so waiting
//      callers get ShuttingDown, then stop the servers and close the journal
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChuLiYu/isopool/internal/config"
	"github.com/ChuLiYu/isopool/internal/gateway"
	"github.com/ChuLiYu/isopool/internal/metrics"
	"github.com/ChuLiYu/isopool/internal/observability"
)

// Version is stamped at build time with -ldflags.
var Version = "0.1.0"

// shutdownGrace bounds supervisor shutdown in run.
const shutdownGrace = 10 * time.Second

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	logLevel   string
}

// loadConfig reads the configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "isopool",
		Short: "isopool: run tasks on a pool of isolated workers",
		Long: `isopool runs tasks on a pool of isolated worker contexts.
Payloads and results cross the isolation boundary as serialized bytes
over bounded channels; a supervisor dispatches, correlates results and
enforces the lifecycle (spawn, submit, await, cancel, shutdown).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (default: ./isopool.yaml, ./configs, $HOME/.isopool)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildSubmitCommand(opts))
	rootCmd.AddCommand(buildAwaitCommand(opts))
	rootCmd.AddCommand(buildCancelCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildDemoCommand(opts))
	rootCmd.AddCommand(buildConfigCommand(opts))
	rootCmd.AddCommand(buildJournalCommand(opts))

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand(opts *rootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the worker pool, metrics endpoint and gRPC gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Pool.Workers = workers
			}

			logger, err := observability.SetupLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPool(ctx, cfg, logger)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "override pool.workers")
	return cmd
}

// runPool serves until ctx is done or a server fails.
func runPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rt, err := startPool(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("isopool started",
		zap.String("app", cfg.AppName),
		zap.Int("workers", cfg.Pool.Workers),
		zap.String("codec", cfg.Codec),
		zap.String("dispatch_policy", cfg.Pool.DispatchPolicy),
		zap.Bool("journal", cfg.Journal.Enabled))

	srvCtx, cancelSrv := context.WithCancel(context.Background())
	defer cancelSrv()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	serve := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if cfg.Metrics.Enabled {
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
		serve("metrics", func() error { return metrics.Serve(srvCtx, cfg.Metrics.Addr, rt.registry) })
	}
	if cfg.Gateway.Enabled {
		srv := gateway.NewServer(rt.sup, logger)
		serve("gateway", func() error { return gateway.ListenAndServe(srvCtx, cfg.Gateway.Addr, srv) })
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, stopping gracefully")
	case runErr = <-errCh:
		logger.Error("server failed, stopping", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.close(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	cancelSrv()
	wg.Wait()

	logger.Info("isopool stopped")
	return runErr
}
