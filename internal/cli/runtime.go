package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ChuLiYu/isopool/internal/codec"
	"github.com/ChuLiYu/isopool/internal/config"
	"github.com/ChuLiYu/isopool/internal/journal"
	"github.com/ChuLiYu/isopool/internal/metrics"
	"github.com/ChuLiYu/isopool/internal/supervisor"
	"github.com/ChuLiYu/isopool/internal/tasks"
	"github.com/ChuLiYu/isopool/internal/worker"
)

// poolRuntime bundles a running supervisor with the resources it owns.
type poolRuntime struct {
	sup      *supervisor.Supervisor
	journal  *journal.Journal
	registry *prometheus.Registry // nil when metrics are disabled
	logger   *zap.Logger
}

// poolConfig maps the file configuration onto supervisor.Config.
func poolConfig(c config.PoolConfig) supervisor.Config {
	return supervisor.Config{
		ChannelCapacity: c.ChannelCapacity,
		QueueCapacity:   c.QueueCapacity,
		QueueingEnabled: c.QueueingEnabled,
		DispatchPolicy:  supervisor.DispatchPolicy(c.DispatchPolicy),
		DefaultTimeout:  c.DefaultTimeout,
		TaskTimeout:     c.TaskTimeout,
	}
}

// startPool builds the supervisor described by cfg, registers the built-in
// task kinds and spawns cfg.Pool.Workers workers.
func startPool(cfg *config.Config, logger *zap.Logger) (*poolRuntime, error) {
	c, err := codec.NewRegistry().Get(cfg.Codec)
	if err != nil {
		return nil, err
	}

	registry := worker.NewRegistry()
	if err := tasks.Register(registry); err != nil {
		return nil, err
	}

	rt := &poolRuntime{logger: logger}
	opts := []supervisor.Option{supervisor.WithLogger(logger), supervisor.WithCodec(c)}

	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		rt.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, supervisor.WithMetrics(metrics.NewCollector(rt.registry)))
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, journal.Options{
			SyncOnAppend:  cfg.Journal.SyncOnAppend,
			BufferSize:    cfg.Journal.BufferSize,
			FlushInterval: cfg.Journal.FlushInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.journal = j
		opts = append(opts, supervisor.WithJournal(j))
	}

	sup, err := supervisor.New(poolConfig(cfg.Pool), registry, opts...)
	if err != nil {
		rt.closeJournal()
		return nil, err
	}
	rt.sup = sup

	if cfg.Pool.Workers > 0 {
		if _, err := sup.Spawn(cfg.Pool.Workers); err != nil {
			_ = rt.close(context.Background())
			return nil, fmt.Errorf("spawn workers: %w", err)
		}
	}
	return rt, nil
}

// close shuts the supervisor down and then closes the journal so the
// SHUTDOWN event is persisted.
func (rt *poolRuntime) close(ctx context.Context) error {
	var errs []error
	if rt.sup != nil {
		if err := rt.sup.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
	}
	if err := rt.closeJournal(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *poolRuntime) closeJournal() error {
	if rt.journal == nil {
		return nil
	}
	if err := rt.journal.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}
