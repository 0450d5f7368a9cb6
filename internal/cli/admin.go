package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/isopool/internal/config"
	"github.com/ChuLiYu/isopool/internal/journal"
)

// ============================================================================
// config
// ============================================================================

func buildConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}
	cmd.AddCommand(buildConfigInitCommand())
	cmd.AddCommand(buildConfigShowCommand(opts))
	return cmd
}

func buildConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "configs/isopool.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Write(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func buildConfigShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// ============================================================================
// journal
// ============================================================================

func buildJournalCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Work with the task lifecycle journal",
	}
	cmd.AddCommand(buildJournalInspectCommand(opts))
	cmd.AddCommand(buildJournalRotateCommand(opts))
	return cmd
}

// journalPath returns the --path flag or journal.path from config.
func journalPath(opts *rootOptions, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Journal.Path, nil
}

func buildJournalInspectCommand(opts *rootOptions) *cobra.Command {
	var (
		path   string
		dump   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize a journal file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := journalPath(opts, path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dump {
				return journal.Dump(p, out)
			}

			stats, err := journal.Inspect(p)
			if err != nil {
				return err
			}
			cp, err := journal.LoadCheckpoint(p)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Path       string              `json:"path"`
					Stats      *journal.Stats      `json:"stats"`
					Checkpoint *journal.Checkpoint `json:"checkpoint,omitempty"`
				}{p, stats, cp})
			}

			fmt.Fprintf(out, "📜 Journal: %s\n", p)
			fmt.Fprintf(out, "  ├─ Events:    %d\n", stats.TotalEvents)
			fmt.Fprintf(out, "  ├─ Seq:       %d..%d\n", stats.FirstSeq, stats.LastSeq)
			if stats.TotalEvents > 0 {
				fmt.Fprintf(out, "  ├─ Span:      %s .. %s\n", formatMillis(stats.FirstTimestamp), formatMillis(stats.LastTimestamp))
			}
			fmt.Fprintf(out, "  ├─ Corrupted: %d\n", stats.Corrupted)
			names := make([]string, 0, len(stats.Types))
			for t := range stats.Types {
				names = append(names, string(t))
			}
			sort.Strings(names)
			for _, t := range names {
				fmt.Fprintf(out, "  │  └─ %-12s %d\n", t, stats.Types[journal.EventType(t)])
			}
			if cp != nil {
				fmt.Fprintf(out, "  └─ Last rotation: seq %d -> %s (%s)\n", cp.LastSeq, cp.Archive, formatMillis(cp.RotatedAt))
			} else {
				fmt.Fprintln(out, "  └─ Last rotation: none")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "journal file (default: journal.path from config)")
	cmd.Flags().BoolVar(&dump, "dump", false, "print every event")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func buildJournalRotateCommand(opts *rootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Archive the journal and start an empty one",
		Long:  "Rotate an offline journal. Do not run it against a journal a live pool is writing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := journalPath(opts, path)
			if err != nil {
				return err
			}
			j, err := journal.Open(p, journal.Options{})
			if err != nil {
				return err
			}
			archive, rotateErr := j.Rotate()
			if err := errors.Join(rotateErr, j.Close()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %s -> %s\n", p, archive)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "journal file (default: journal.path from config)")
	return cmd
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format(time.RFC3339)
}
