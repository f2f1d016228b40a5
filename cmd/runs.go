package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/adform-extractor/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the local run history",
	Long:  "Commands for listing runs recorded in the sqlite run log configured by runlog.path.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		runs, err := runlog.Open(ctx, cfg.RunLog.Path)
		if err != nil {
			return err
		}
		if runs == nil {
			_, _ = fmt.Fprintln(os.Stderr, "Run log is disabled, set runlog.path to enable it.")
			return nil
		}
		defer runs.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := runs.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(entries) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, entries)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the tables written by a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runs, err := runlog.Open(ctx, cfg.RunLog.Path)
		if err != nil {
			return err
		}
		if runs == nil {
			return eris.New("run log is disabled")
		}
		defer runs.Close() //nolint:errcheck

		tables, err := runs.Tables(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tables)
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, entries []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSETUP\tSTATUS\tTABLES\tROWS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t----\t-------\t--------\t-----")

	for _, e := range entries {
		dur := ""
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(e.ID),
			e.SetupID,
			e.Status,
			e.Tables,
			e.Rows,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncateError(e.Error),
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateError(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	if len(msg) > 60 {
		return msg[:57] + "..."
	}
	return msg
}
