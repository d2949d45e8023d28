package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/scoring"
	"github.com/sells-group/forecast-cli/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score resolved forecasts",
	Long:  "Computes Brier score, log loss and a reliability table over every resolved, completed run, and compares the red team's alternate estimates.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		bins, _ := cmd.Flags().GetInt("bins")
		asJSON, _ := cmd.Flags().GetBool("json")

		if err := cfg.Validate(false); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		resolved := true
		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:   model.RunStatusComplete,
			Resolved: &resolved,
			Limit:    100000,
		})
		if err != nil {
			return eris.Wrap(err, "score: list runs")
		}

		report, err := scoring.Score(scoring.FromRuns(runs), bins)
		if errors.Is(err, scoring.ErrNoResolved) {
			fmt.Fprintln(os.Stderr, "No resolved forecasts to score. Use `resolve` to record outcomes.")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "score")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatScoreReport(os.Stdout, report)
		return nil
	},
}

func init() {
	scoreCmd.Flags().Int("bins", 10, "number of reliability bins")
	scoreCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(scoreCmd)
}

// formatScoreReport writes the summary and reliability table to out.
func formatScoreReport(out io.Writer, r *scoring.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Resolved forecasts:\t%d\n", r.Count)
	_, _ = fmt.Fprintf(w, "Brier score:\t%.4f\n", r.Brier)
	_, _ = fmt.Fprintf(w, "Base-rate Brier:\t%.4f\n", r.BaseRateBrier)
	_, _ = fmt.Fprintf(w, "Log loss:\t%.4f\n", r.LogLoss)
	if r.RedTeamCount > 0 {
		_, _ = fmt.Fprintf(w, "Red team Brier:\t%.4f (n=%d)\n", r.RedTeamBrier, r.RedTeamCount)
		_, _ = fmt.Fprintf(w, "Mean red team gap:\t%.4f\n", r.MeanRedTeamGap)
	}
	_ = w.Flush()

	if len(r.Bins) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BIN\tCOUNT\tPREDICTED\tOBSERVED")
	for _, b := range r.Bins {
		if b.Count == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "%.0f-%.0f%%\t%d\t%.1f%%\t%.1f%%\n",
			b.Lower*100, b.Upper*100, b.Count, b.Predicted*100, b.Observed*100)
	}
	_ = w.Flush()
}
