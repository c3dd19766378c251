package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scenepipe/scenepipe/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		runID    string
		pipeline string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs",
		Long: `List recent runs from the run history database, newest first, or show the
stage results of one run.`,
		Example: `  # Last 20 runs
  scenepipe history

  # Last 5 stage4 runs
  scenepipe history --pipeline stage4 --limit 5

  # Stage results of one run
  scenepipe history --run 3f1c9a52-8d7e-4a43-9b1f-2f3c4d5e6f70`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			w := cmd.OutOrStdout()
			if runID != "" {
				run, err := store.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				return printRun(w, run)
			}

			runs, err := store.ListRuns(cmd.Context(), stores.RunFilter{Pipeline: pipeline, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(w, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded")
				return nil
			}

			tw := newTable(w)
			fmt.Fprintln(tw, "ID\tPIPELINE\tSCENE\tSTARTED\tSTATUS\tOUTCOME\tEXIT\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Pipeline, r.Scene, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Status, dash(string(r.Outcome)), r.ExitCode, formatDuration(r.Duration))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", stores.DefaultListLimit, "maximum number of runs")
	cmd.Flags().StringVar(&runID, "run", "", "show the stage results of this run")
	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "only runs of this pipeline")

	return cmd
}
