package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forecast-cli/internal/model"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <run-id> <yes|no>",
	Short: "Record how a forecast question turned out",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		outcome, err := parseOutcome(args[1])
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")

		if err := cfg.Validate(false); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resolve")
		}
		if run.Status != model.RunStatusComplete {
			return eris.Errorf("resolve: run %s is %s, only complete runs can be resolved", run.ID, run.Status)
		}

		if err := st.ResolveRun(ctx, run.ID, model.Resolution{
			Outcome:    outcome,
			Note:       note,
			ResolvedAt: time.Now().UTC(),
		}); err != nil {
			return eris.Wrap(err, "resolve")
		}

		fmt.Fprintf(os.Stderr, "Run %s resolved: %s\n", truncateID(run.ID), args[1])
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("note", "", "free-text note on how the question resolved")
	rootCmd.AddCommand(resolveCmd)
}

// parseOutcome accepts yes/no, true/false and 1/0.
func parseOutcome(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	}
	return false, eris.Errorf("resolve: outcome %q must be yes or no", s)
}
