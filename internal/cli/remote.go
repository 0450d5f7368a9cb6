package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/isopool/internal/gateway"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// remoteOptions are the flags shared by commands that talk to the gateway.
type remoteOptions struct {
	addr    string
	timeout time.Duration
}

func (r *remoteOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.addr, "addr", "", "gateway address (default: gateway.addr from config)")
	cmd.Flags().DurationVar(&r.timeout, "timeout", 30*time.Second, "overall request timeout")
}

// dial connects to the gateway and returns the client plus a cleanup func.
func (r *remoteOptions) dial(cmd *cobra.Command, opts *rootOptions) (*gateway.Client, context.Context, func(), error) {
	addr := r.addr
	if addr == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, nil, nil, err
		}
		addr = cfg.Gateway.Addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	client, conn, err := gateway.Dial(addr)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), r.timeout)
	return client, ctx, func() {
		cancel()
		conn.Close()
	}, nil
}

// ============================================================================
// submit
// ============================================================================

func buildSubmitCommand(opts *rootOptions) *cobra.Command {
	var (
		remote      remoteOptions
		kind        string
		payload     string
		taskID      string
		taskTimeout time.Duration
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task to a running pool",
		Long: `Submit a task through the gRPC gateway. The payload is JSON.

Examples:
  isopool submit --kind double --payload 21 --wait
  isopool submit --kind hash --payload '{"algorithm":"md5","data":"hello"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(payload), &value); err != nil {
				return fmt.Errorf("failed to parse payload JSON: %w", err)
			}

			client, ctx, done, err := remote.dial(cmd, opts)
			if err != nil {
				return err
			}
			defer done()

			id, err := client.Submit(ctx, gateway.SubmitRequest{
				Kind:    types.TaskKind(kind),
				Payload: value,
				TaskID:  types.TaskID(taskID),
				Timeout: taskTimeout,
			})
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}
			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			res, err := client.Await(ctx, id, 0)
			if err != nil {
				return fmt.Errorf("await %s failed: %w", id, err)
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}

	remote.bind(cmd)
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "task kind (double, sum, echo, sleep, fail, hash, crash)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "null", "task payload as JSON")
	cmd.Flags().StringVar(&taskID, "id", "", "task id (default: generated UUID)")
	cmd.Flags().DurationVar(&taskTimeout, "task-timeout", 0, "per-task execution timeout (0: pool default)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the result and print it")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

// ============================================================================
// await / cancel
// ============================================================================

func buildAwaitCommand(opts *rootOptions) *cobra.Command {
	var remote remoteOptions

	cmd := &cobra.Command{
		Use:   "await <task-id>",
		Short: "Wait for a task result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, done, err := remote.dial(cmd, opts)
			if err != nil {
				return err
			}
			defer done()

			res, err := client.Await(ctx, types.TaskID(args[0]), 0)
			if err != nil {
				return fmt.Errorf("await %s failed: %w", args[0], err)
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	remote.bind(cmd)
	return cmd
}

func buildCancelCommand(opts *rootOptions) *cobra.Command {
	var remote remoteOptions

	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, done, err := remote.dial(cmd, opts)
			if err != nil {
				return err
			}
			defer done()

			if err := client.Cancel(ctx, types.TaskID(args[0])); err != nil {
				return fmt.Errorf("cancel %s failed: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
	remote.bind(cmd)
	return cmd
}

// resultView is the JSON shape printed for a task result.
type resultView struct {
	TaskID     types.TaskID    `json:"task_id"`
	WorkerID   types.WorkerID  `json:"worker_id,omitempty"`
	Outcome    types.Outcome   `json:"outcome"`
	Value      any             `json:"value,omitempty"`
	ErrorKind  types.ErrorKind `json:"error_kind,omitempty"`
	Message    string          `json:"message,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

func printResult(w io.Writer, res gateway.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resultView{
		TaskID:     res.TaskID,
		WorkerID:   res.WorkerID,
		Outcome:    res.Outcome,
		Value:      res.Value,
		ErrorKind:  res.ErrorKind,
		Message:    res.Message,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	var (
		remote remoteOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool status from a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, done, err := remote.dial(cmd, opts)
			if err != nil {
				return err
			}
			defer done()

			reply, err := client.Stats(ctx)
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reply)
			}
			printStatus(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	remote.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printStatus(w io.Writer, reply gateway.StatsReply) {
	st := reply.Stats

	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                 isopool Pool Status                       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "👷 Workers:")
	fmt.Fprintf(w, "  ├─ Live:        %d\n", st.Live)
	for _, s := range types.WorkerStates() {
		fmt.Fprintf(w, "  ├─ %-12s %d\n", string(s)+":", st.Workers[s])
	}
	fmt.Fprintf(w, "  └─ Shutting down: %t\n", st.ShuttingDown)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📊 Tasks:")
	fmt.Fprintf(w, "  ├─ ⏳ Pending:    %d\n", st.Pending)
	fmt.Fprintf(w, "  ├─ 🔄 Running:    %d\n", st.Running)
	fmt.Fprintf(w, "  ├─ 📦 Retained:   %d\n", st.Retained)
	fmt.Fprintf(w, "  ├─ Submitted:     %d\n", st.Submitted)
	fmt.Fprintf(w, "  ├─ ✅ Succeeded:  %d\n", st.Succeeded)
	fmt.Fprintf(w, "  ├─ ❌ Failed:     %d\n", st.Failed)
	fmt.Fprintf(w, "  ├─ 🚫 Cancelled:  %d\n", st.Cancelled)
	fmt.Fprintf(w, "  └─ Rejected:      %d\n", st.Rejected)
	fmt.Fprintln(w)

	if len(reply.Workers) > 0 {
		workers := append([]types.WorkerInfo(nil), reply.Workers...)
		sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })

		fmt.Fprintln(w, "🧵 Worker Detail:")
		for _, wi := range workers {
			line := fmt.Sprintf("  └─ #%-3d %-12s completed=%d failed=%d", wi.ID, wi.State, wi.Completed, wi.Failed)
			if wi.CurrentTask != "" {
				line += " task=" + string(wi.CurrentTask)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	if done := st.Succeeded + st.Failed; done > 0 {
		fmt.Fprintf(w, "📈 Success Rate: %.1f%%\n", float64(st.Succeeded)/float64(done)*100)
	}
}
