package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChuLiYu/isopool/internal/observability"
	"github.com/ChuLiYu/isopool/internal/tasks"
	"github.com/ChuLiYu/isopool/pkg/types"
)

func buildDemoCommand(opts *rootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "demo [n...]",
		Short: "Double a list of integers on a local pool",
		Long: `Start an in-process pool, submit one double task per argument,
await every result and print it. Without arguments the input is 1..5.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := []int64{1, 2, 3, 4, 5}
			if len(args) > 0 {
				inputs = inputs[:0]
				for _, a := range args {
					n, err := strconv.ParseInt(a, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid integer %q: %w", a, err)
					}
					inputs = append(inputs, n)
				}
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cfg.Pool.Workers = workers
			cfg.Pool.QueueingEnabled = true
			cfg.Metrics.Enabled = false

			logger, err := observability.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rt, err := startPool(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(context.Background()) }()

			return runDemo(cmd, rt, inputs)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "number of workers")
	return cmd
}

func runDemo(cmd *cobra.Command, rt *poolRuntime, inputs []int64) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	ids := make([]types.TaskID, len(inputs))
	for i, n := range inputs {
		id, err := rt.sup.Submit(ctx, tasks.KindDouble, n)
		if err != nil {
			return fmt.Errorf("submit %d: %w", n, err)
		}
		ids[i] = id
	}

	for i, id := range ids {
		res, err := rt.sup.AwaitResult(ctx, id)
		if err != nil {
			return fmt.Errorf("await %d: %w", inputs[i], err)
		}
		var doubled int64
		if err := rt.sup.Decode(res, &doubled); err != nil {
			return fmt.Errorf("task %s: %w", id, err)
		}
		rt.logger.Debug("demo result", zap.String("task_id", string(id)), zap.Int("worker_id", int(res.WorkerID)))
		fmt.Fprintf(out, "double(%d) = %d  [worker %d, %s]\n", inputs[i], doubled, res.WorkerID, res.Duration)
	}

	st := rt.sup.Stats()
	fmt.Fprintf(out, "completed %d tasks on %d workers\n", st.Succeeded, st.Live)
	return nil
}
