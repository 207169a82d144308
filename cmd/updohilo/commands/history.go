package commands

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect run history",
		Long: `Inspect runs recorded with run --db or history.path.

Each run records its seeds, settings, node executions and run log.`,
	}

	cmd.PersistentFlags().StringVar(&db, "db", "", "run history database (default: history.path of --config)")

	cmd.AddCommand(newHistoryListCommand(&db))
	cmd.AddCommand(newHistoryShowCommand(&db))

	return cmd
}

// openHistory opens the --db database, falling back to the definition's.
func openHistory(ctx context.Context, db string) (*stores.SQLiteStore, error) {
	if db == "" {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return nil, err
		}
		db = cfg.History.Path
	}
	if db == "" {
		return nil, fmt.Errorf("no history database: set --db or history.path")
	}
	return stores.Open(ctx, db)
}

func newHistoryListCommand(db *string) *cobra.Command {
	var (
		limit, offset int
		status        string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Example: `  updohilo history list --db runs.db
  updohilo history list --db runs.db --limit 5 --json
  updohilo history list --db runs.db --status retry_exhausted`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var want engine.RunStatus
			if status != "" {
				s, err := engine.ParseRunStatus(status)
				if err != nil {
					return err
				}
				want = s
			}

			store, err := openHistory(cmd.Context(), *db)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if want != "" {
				runs = slices.DeleteFunc(runs, func(r *stores.Run) bool { return r.Status != want })
			}

			if jsonOutput {
				if runs == nil {
					runs = []*stores.Run{}
				}
				return render(cmd.OutOrStdout(), runs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTATUS\tITERATIONS\tSTARTED\tFAILED NODE")
			for _, run := range runs {
				failed := "-"
				if run.FailedNode != nil && *run.FailedNode != "" {
					failed = *run.FailedNode
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					run.ID, run.Status, run.Iterations, run.StartedAt.Format("2006-01-02 15:04:05"), failed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	cmd.Flags().StringVar(&status, "status", "", "only list runs with this status")

	return cmd
}

// runDocument is a recorded run with its decoded slots.
type runDocument struct {
	Run        *stores.Run             `json:"run" yaml:"run"`
	Slots      []stores.SlotRecord     `json:"slots" yaml:"slots"`
	Executions []*stores.NodeExecution `json:"executions" yaml:"executions"`
	Events     []*stores.Event         `json:"events" yaml:"events"`
}

func newHistoryShowCommand(db *string) *cobra.Command {
	return &cobra.Command{
		Use:     "show <run-id>",
		Short:   "Show a recorded run with its executions and log",
		Example: `  updohilo history show 0b6c6f1e-... --db runs.db`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context(), *db)
			if err != nil {
				return err
			}
			defer store.Close()

			detail, err := store.GetRunDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			slots, err := stores.DecodeSlots(detail.Run)
			if err != nil {
				return fmt.Errorf("failed to decode slots: %w", err)
			}
			return render(cmd.OutOrStdout(), runDocument{
				Run:        detail.Run,
				Slots:      slots,
				Executions: detail.Executions,
				Events:     detail.Events,
			})
		},
	}
}
