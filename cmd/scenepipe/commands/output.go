package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/scenepipe/scenepipe/pkg/engine"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printRun writes the run summary with one row per stage.
func printRun(w io.Writer, run *engine.Run) error {
	if jsonOutput {
		return writeJSON(w, run)
	}

	fmt.Fprintf(w, "Run %s (%s) on %s: %s", run.ID, run.Pipeline, run.Scene, run.Status)
	if run.Outcome != "" && run.Outcome != engine.OutcomeSuccess {
		fmt.Fprintf(w, " [%s, exit %d]", run.Outcome, run.ExitCode)
	}
	fmt.Fprintf(w, " in %s\n", formatDuration(run.Duration))
	if len(run.Results) == 0 {
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tOUTCOME\tEXIT\tDURATION")
	for _, r := range run.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.StageID, r.Status, dash(string(r.Outcome)), r.ExitCode, formatDuration(r.Duration))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, r := range run.Results {
		if r.Error != "" {
			fmt.Fprintf(w, "\n%s: %s\n", r.StageID, r.Error)
		}
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
