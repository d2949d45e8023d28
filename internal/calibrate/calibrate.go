// Package calibrate turns a base rate and a set of researched log-odds
// deltas into a calibrated probability with an interval.
//
// Two guard rails are applied in order. Overflow scaling shrinks all deltas
// proportionally when their absolute sum exceeds MaxTotalShift, so many
// weak parameters cannot stack into an extreme shift. Conservatism damps
// the aggregated log-odds by ConservatismFactor when |L| exceeds
// ExtremeLogOdds. Both comparisons are strict.
package calibrate

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forecast-cli/internal/logodds"
	"github.com/sells-group/forecast-cli/internal/model"
)

// ErrPrecondition is wrapped by every input validation failure.
var ErrPrecondition = eris.New("calibrate: precondition violated")

// PreconditionError describes malformed engine input.
type PreconditionError struct {
	Field  string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("calibrate: %s: %s", e.Field, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPrecondition
}

// WidthBand maps probabilities beyond a distance from 0.5 to an interval
// half-width. A band matches when p > 1-Edge or p < Edge.
type WidthBand struct {
	Edge  float64 `yaml:"edge" mapstructure:"edge"`
	Width float64 `yaml:"width" mapstructure:"width"`
}

// Policy holds the guard-rail constants.
type Policy struct {
	MaxTotalShift      float64     `yaml:"max_total_shift" mapstructure:"max_total_shift"`
	ExtremeLogOdds     float64     `yaml:"extreme_log_odds" mapstructure:"extreme_log_odds"`
	ConservatismFactor float64     `yaml:"conservatism_factor" mapstructure:"conservatism_factor"`
	Bands              []WidthBand `yaml:"bands" mapstructure:"bands"`
	DefaultWidth       float64     `yaml:"default_width" mapstructure:"default_width"`
}

// DefaultPolicy returns the standard superforecaster guard rails.
func DefaultPolicy() Policy {
	return Policy{
		MaxTotalShift:      4.0,
		ExtremeLogOdds:     3.0,
		ConservatismFactor: 0.7,
		Bands: []WidthBand{
			{Edge: 0.1, Width: 0.08},
			{Edge: 0.2, Width: 0.12},
		},
		DefaultWidth: 0.15,
	}
}

// Calibrate runs the default policy. See Policy.Calibrate.
func Calibrate(baseRate float64, specs []model.ParameterSpec, samples []model.ParameterSample) (*model.CalibrationResult, error) {
	return DefaultPolicy().Calibrate(baseRate, specs, samples)
}

// Calibrate combines baseRate with the non-nil deltas in samples. When specs
// is non-empty every sample name must match a spec. Samples are applied in
// the order given.
func (p Policy) Calibrate(baseRate float64, specs []model.ParameterSpec, samples []model.ParameterSample) (*model.CalibrationResult, error) {
	if err := validate(baseRate, specs, samples); err != nil {
		return nil, err
	}

	l := logodds.Logit(baseRate)
	res := &model.CalibrationResult{
		BaseRate:               baseRate,
		BaseLogOdds:            l,
		ParameterContributions: make(map[string]float64),
		ScalingFactor:          1.0,
	}

	var totalShift float64
	for _, s := range samples {
		if s.DeltaLogOdds != nil {
			totalShift += math.Abs(*s.DeltaLogOdds)
		}
	}
	if totalShift > p.MaxTotalShift {
		res.ScalingFactor = p.MaxTotalShift / totalShift
	}

	for _, s := range samples {
		if s.DeltaLogOdds == nil {
			continue
		}
		adjusted := *s.DeltaLogOdds * res.ScalingFactor
		res.ParameterContributions[s.Name] = adjusted
		l += adjusted
	}

	if math.Abs(l) > p.ExtremeLogOdds {
		res.ConservatismApplied = true
		l *= p.ConservatismFactor
	}

	res.FinalLogOdds = l
	res.FinalProbability = logodds.InvLogit(l)
	res.FinalLow, res.FinalHigh = p.Interval(res.FinalProbability)
	return res, nil
}

// IntervalWidth returns the default policy's half-width for prob.
func IntervalWidth(prob float64) float64 {
	return DefaultPolicy().IntervalWidth(prob)
}

// IntervalWidth returns the half-width for prob. Bands are checked in order
// with strict comparisons, so a probability exactly on an edge falls into
// the next wider band.
func (p Policy) IntervalWidth(prob float64) float64 {
	for _, b := range p.Bands {
		if prob > 1-b.Edge || prob < b.Edge {
			return b.Width
		}
	}
	return p.DefaultWidth
}

// Interval returns [prob-w, prob+w] clamped to [0,1].
func (p Policy) Interval(prob float64) (low, high float64) {
	w := p.IntervalWidth(prob)
	return math.Max(0, prob-w), math.Min(1, prob+w)
}

func validate(baseRate float64, specs []model.ParameterSpec, samples []model.ParameterSample) error {
	if math.IsNaN(baseRate) || baseRate <= 0 || baseRate >= 1 {
		return &PreconditionError{Field: "base_rate", Reason: fmt.Sprintf("%v is outside (0,1)", baseRate)}
	}

	known := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		known[s.Name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		if len(specs) > 0 {
			if _, ok := known[s.Name]; !ok {
				return &PreconditionError{Field: "samples", Reason: fmt.Sprintf("%q matches no parameter spec", s.Name)}
			}
		}
		if _, dup := seen[s.Name]; dup {
			return &PreconditionError{Field: "samples", Reason: fmt.Sprintf("duplicate sample %q", s.Name)}
		}
		seen[s.Name] = struct{}{}
		if s.DeltaLogOdds != nil && (math.IsNaN(*s.DeltaLogOdds) || math.IsInf(*s.DeltaLogOdds, 0)) {
			return &PreconditionError{Field: "samples", Reason: fmt.Sprintf("%q has non-finite delta", s.Name)}
		}
	}
	return nil
}
