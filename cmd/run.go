package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/buffer"
	"github.com/sells-group/forecast-cli/internal/forecast"
)

var (
	runOutDir         string
	runNonInteractive bool
	runJSON           bool
)

var runCmd = &cobra.Command{
	Use:     "forecast [question]",
	Aliases: []string{"run"},
	Short:   "Forecast a single question",
	Long:    "Runs the full pipeline for one question. Without an argument the question is read from stdin.",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		console := forecast.NewConsoleInput(os.Stdin, os.Stderr)

		question := strings.Join(args, " ")
		if question == "" {
			question, err = console.Input(ctx, "Enter a question to forecast: ")
			if err != nil {
				return eris.Wrap(err, "read question")
			}
		}

		var input forecast.InputProvider = console
		if runNonInteractive {
			input = forecast.NonInteractive
		}

		buf := buffer.New(buffer.WithEcho(os.Stderr))
		p := env.Pipeline.WithBuffer(buf)

		result, err := p.Run(ctx, question, input)
		if err != nil {
			if forecast.IsRejection(err) {
				fmt.Fprintln(os.Stderr, err)
				fmt.Fprintln(os.Stderr, forecast.ExpectedFormat)
			}
			return eris.Wrap(err, "forecast run")
		}
		if result == nil {
			return nil
		}

		zap.L().Info("forecast complete",
			zap.String("run_id", result.RunID),
			zap.Float64("probability", result.Calibration.FinalProbability),
			zap.Int("total_tokens", result.TokenUsage.Total()),
			zap.Float64("cost_usd", result.TotalCost),
		)

		outDir := runOutDir
		if outDir == "" {
			outDir = cfg.Pipeline.OutDir
		}
		if outDir != "" {
			path, err := forecast.SaveReport(outDir, result)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Report saved to %s\n", path)
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		_, err = fmt.Fprint(os.Stdout, result.Report)
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runOutDir, "out-dir", "", "directory to save the report in (default from config)")
	runCmd.Flags().BoolVar(&runNonInteractive, "non-interactive", false, "never prompt; use default assumptions and treat rejections as final")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON instead of the report")
	rootCmd.AddCommand(runCmd)
}
