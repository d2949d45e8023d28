package calibrate

import (
	"math"
	"sort"

	"github.com/sells-group/forecast-cli/internal/logodds"
	"github.com/sells-group/forecast-cli/internal/model"
)

// Step is one applied contribution in a calibration walk.
type Step struct {
	Name       string  `json:"name"`
	Delta      float64 `json:"delta"`
	ProbBefore float64 `json:"prob_before"`
	ProbAfter  float64 `json:"prob_after"`
}

// Steps replays the applied contributions from the base log-odds, largest
// magnitude first. Conservatism is not included; the walk ends at the
// pre-conservatism log-odds.
func Steps(res *model.CalibrationResult) []Step {
	names := make([]string, 0, len(res.ParameterContributions))
	for name := range res.ParameterContributions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a := math.Abs(res.ParameterContributions[names[i]])
		b := math.Abs(res.ParameterContributions[names[j]])
		if a != b {
			return a > b
		}
		return names[i] < names[j]
	})

	steps := make([]Step, 0, len(names))
	l := res.BaseLogOdds
	prev := logodds.InvLogit(l)
	for _, name := range names {
		d := res.ParameterContributions[name]
		l += d
		next := logodds.InvLogit(l)
		steps = append(steps, Step{Name: name, Delta: d, ProbBefore: prev, ProbAfter: next})
		prev = next
	}
	return steps
}

// Strength labels the evidential weight of a log-odds delta.
type Strength string

const (
	StrengthVeryWeak   Strength = "very weak"
	StrengthWeak       Strength = "weak"
	StrengthModerate   Strength = "moderate"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very strong"
)

// EvidenceStrength classifies |delta|.
func EvidenceStrength(delta float64) Strength {
	a := math.Abs(delta)
	switch {
	case a < 0.2:
		return StrengthVeryWeak
	case a < 0.4:
		return StrengthWeak
	case a < 0.7:
		return StrengthModerate
	case a <= 1.0:
		return StrengthStrong
	default:
		return StrengthVeryStrong
	}
}

// TotalShift returns the sum of absolute applied contributions.
func TotalShift(res *model.CalibrationResult) float64 {
	var total float64
	for _, d := range res.ParameterContributions {
		total += math.Abs(d)
	}
	return total
}
