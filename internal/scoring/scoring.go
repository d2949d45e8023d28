// Package scoring measures how well resolved forecasts were calibrated.
package scoring

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/sells-group/forecast-cli/internal/logodds"
	"github.com/sells-group/forecast-cli/internal/model"
)

// ErrNoResolved is returned when there is nothing to score.
var ErrNoResolved = eris.New("scoring: no resolved forecasts")

// Outcome pairs a forecast probability with what actually happened.
type Outcome struct {
	RunID       string
	Question    string
	Probability float64
	// RedTeam is the red team's alternate estimate, if one was produced.
	RedTeam  *float64
	Occurred bool
}

// Bin is one row of a reliability table.
type Bin struct {
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
	Count     int     `json:"count"`
	Predicted float64 `json:"predicted"`
	Observed  float64 `json:"observed"`
}

// Report summarizes the accuracy of a set of outcomes.
type Report struct {
	Count   int     `json:"count"`
	Brier   float64 `json:"brier"`
	LogLoss float64 `json:"log_loss"`
	// BaseRateBrier is the Brier score of always predicting the observed
	// frequency. Lower Brier than this means the forecasts carry skill.
	BaseRateBrier float64 `json:"base_rate_brier"`
	// RedTeamBrier and MeanRedTeamGap cover only outcomes with a red team
	// estimate; RedTeamCount says how many.
	RedTeamCount   int     `json:"red_team_count"`
	RedTeamBrier   float64 `json:"red_team_brier,omitempty"`
	MeanRedTeamGap float64 `json:"mean_red_team_gap,omitempty"`
	Bins           []Bin   `json:"bins"`
}

// FromRuns extracts scoreable outcomes from resolved, completed runs.
// Runs without a result or resolution are skipped.
func FromRuns(runs []model.Run) []Outcome {
	var out []Outcome
	for _, r := range runs {
		if r.Resolution == nil || r.Result == nil || r.Result.Calibration == nil {
			continue
		}
		o := Outcome{
			RunID:       r.ID,
			Question:    r.Question,
			Probability: r.Result.Calibration.FinalProbability,
			Occurred:    r.Resolution.Outcome,
		}
		if r.Result.RedTeam != nil {
			alt := r.Result.RedTeam.AlternateEstimate
			o.RedTeam = &alt
		}
		out = append(out, o)
	}
	return out
}

// Score computes a Report over outcomes using bins reliability buckets.
func Score(outcomes []Outcome, bins int) (*Report, error) {
	if len(outcomes) == 0 {
		return nil, ErrNoResolved
	}
	if bins <= 0 {
		bins = 10
	}

	var (
		sq, ll, hits, rtSq, gaps stats.Float64Data
	)
	for _, o := range outcomes {
		y := indicator(o.Occurred)
		p := o.Probability
		sq = append(sq, (p-y)*(p-y))
		ll = append(ll, logLoss(p, y))
		hits = append(hits, y)
		if o.RedTeam != nil {
			rtSq = append(rtSq, (*o.RedTeam-y)*(*o.RedTeam-y))
			gaps = append(gaps, math.Abs(p-*o.RedTeam))
		}
	}

	rep := &Report{Count: len(outcomes), RedTeamCount: len(rtSq)}
	var err error
	if rep.Brier, err = stats.Mean(sq); err != nil {
		return nil, eris.Wrap(err, "scoring: brier")
	}
	if rep.LogLoss, err = stats.Mean(ll); err != nil {
		return nil, eris.Wrap(err, "scoring: log loss")
	}
	freq, err := stats.Mean(hits)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: base rate")
	}
	rep.BaseRateBrier = freq * (1 - freq)

	if len(rtSq) > 0 {
		rep.RedTeamBrier, _ = stats.Mean(rtSq)
		rep.MeanRedTeamGap, _ = stats.Mean(gaps)
	}

	rep.Bins = reliability(outcomes, bins)
	return rep, nil
}

func reliability(outcomes []Outcome, n int) []Bin {
	width := 1.0 / float64(n)
	preds := make([]stats.Float64Data, n)
	obs := make([]stats.Float64Data, n)
	for _, o := range outcomes {
		i := int(o.Probability / width)
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		preds[i] = append(preds[i], o.Probability)
		obs[i] = append(obs[i], indicator(o.Occurred))
	}

	var out []Bin
	for i := range preds {
		if len(preds[i]) == 0 {
			continue
		}
		p, _ := stats.Mean(preds[i])
		y, _ := stats.Mean(obs[i])
		out = append(out, Bin{
			Lower:     float64(i) * width,
			Upper:     float64(i+1) * width,
			Count:     len(preds[i]),
			Predicted: p,
			Observed:  y,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Lower < out[b].Lower })
	return out
}

func logLoss(p, y float64) float64 {
	p = logodds.Clamp(p)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
