package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/forecast-cli/internal/buffer"
	"github.com/sells-group/forecast-cli/internal/forecast"
	"github.com/sells-group/forecast-cli/internal/model"
)

var (
	batchLimit  int
	batchOutDir string
)

var batchCmd = &cobra.Command{
	Use:   "batch <questions.yaml>",
	Short: "Forecast every question in a YAML file",
	Long:  "Runs questions non-interactively with bounded concurrency. Individual failures and rejections do not stop the batch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		questions, err := loadBatchFile(args[0])
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		outDir := batchOutDir
		if outDir == "" {
			outDir = cfg.Pipeline.OutDir
		}

		results := processBatch(ctx, questions, batchLimit, cfg.Batch.MaxConcurrent, func(ctx context.Context, q string) (*model.ForecastResult, error) {
			res, err := env.Pipeline.WithBuffer(buffer.New()).Run(ctx, q, forecast.NonInteractive)
			if err == nil && res != nil && outDir != "" {
				if _, saveErr := forecast.SaveReport(outDir, res); saveErr != nil {
					zap.L().Warn("batch: failed to save report", zap.Error(saveErr))
				}
			}
			return res, err
		})
		formatBatchResults(os.Stdout, results)
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of questions to process (0 = all)")
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "", "directory to save reports in (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// batchQuestion is one entry of a batch file. It may be written as a bare
// string or as a mapping with an id.
type batchQuestion struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
}

// UnmarshalYAML accepts both scalar and mapping forms.
func (q *batchQuestion) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		q.Question = node.Value
		return nil
	}
	type plain batchQuestion
	return node.Decode((*plain)(q))
}

type batchFile struct {
	Questions []batchQuestion `yaml:"questions"`
}

// loadBatchFile parses a batch file, dropping blank questions.
func loadBatchFile(path string) ([]batchQuestion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read batch file %s", path)
	}
	return parseBatch(data)
}

func parseBatch(data []byte) ([]batchQuestion, error) {
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "parse batch file")
	}
	out := make([]batchQuestion, 0, len(f.Questions))
	for i, q := range f.Questions {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			continue
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, eris.New("batch file has no questions")
	}
	return out, nil
}

// forecastFunc runs one question.
type forecastFunc func(ctx context.Context, question string) (*model.ForecastResult, error)

// batchResult is the outcome of one batch entry.
type batchResult struct {
	ID       string
	Question string
	Result   *model.ForecastResult
	Err      error
}

// processBatch applies limit, then runs questions concurrently. Results are
// returned in input order.
func processBatch(ctx context.Context, questions []batchQuestion, limit, concurrency int, run forecastFunc) []batchResult {
	if limit > 0 && len(questions) > limit {
		questions = questions[:limit]
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("questions", len(questions)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]batchResult, len(questions))
	var mu sync.Mutex
	var succeeded, failed int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, q := range questions {
		g.Go(func() error {
			log := zap.L().With(zap.String("id", q.ID))

			res, err := run(gctx, q.Question)
			results[i] = batchResult{ID: q.ID, Question: q.Question, Result: res, Err: err}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Error("forecast failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			succeeded++
			if res != nil && res.Calibration != nil {
				log.Info("forecast complete", zap.Float64("probability", res.Calibration.FinalProbability))
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("batch complete",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
	return results
}

// formatBatchResults writes one line per question to out.
func formatBatchResults(out io.Writer, results []batchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROBABILITY\tINTERVAL\tRED_TEAM\tCOST\tQUESTION")
	_, _ = fmt.Fprintln(w, "--\t-----------\t--------\t--------\t----\t--------")

	var total float64
	for _, r := range results {
		question := truncate(r.Question, 60)
		switch {
		case r.Err != nil && forecast.IsRejection(r.Err):
			_, _ = fmt.Fprintf(w, "%s\trejected\t\t\t\t%s\n", r.ID, question)
		case r.Err != nil:
			_, _ = fmt.Fprintf(w, "%s\tfailed\t\t\t\t%s\n", r.ID, question)
		case r.Result == nil || r.Result.Calibration == nil:
			_, _ = fmt.Fprintf(w, "%s\tcanceled\t\t\t\t%s\n", r.ID, question)
		default:
			c := r.Result.Calibration
			rt := ""
			if r.Result.RedTeam != nil {
				rt = fmt.Sprintf("%.1f%%", r.Result.RedTeam.AlternateEstimate*100)
			}
			total += r.Result.TotalCost
			_, _ = fmt.Fprintf(w, "%s\t%.1f%%\t%.0f-%.0f%%\t%s\t$%.4f\t%s\n",
				r.ID, c.FinalProbability*100, c.FinalLow*100, c.FinalHigh*100, rt, r.Result.TotalCost, question)
		}
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nTotal cost: $%.4f\n", total)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	n -= 3
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
