package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forecast-cli/internal/model"
)

func ptr(f float64) *float64 { return &f }

func TestScore_Empty(t *testing.T) {
	_, err := Score(nil, 10)
	assert.ErrorIs(t, err, ErrNoResolved)
}

func TestScore_PerfectForecasts(t *testing.T) {
	rep, err := Score([]Outcome{
		{Probability: 1, Occurred: true},
		{Probability: 0, Occurred: false},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Count)
	assert.InDelta(t, 0, rep.Brier, 1e-12)
	assert.InDelta(t, 0, rep.LogLoss, 1e-9)
	assert.InDelta(t, 0.25, rep.BaseRateBrier, 1e-12)
}

func TestScore_KnownValues(t *testing.T) {
	rep, err := Score([]Outcome{
		{Probability: 0.7, Occurred: true, RedTeam: ptr(0.5)},
		{Probability: 0.2, Occurred: false, RedTeam: ptr(0.4)},
		{Probability: 0.6, Occurred: false},
	}, 10)
	require.NoError(t, err)

	// (0.09 + 0.04 + 0.36) / 3
	assert.InDelta(t, 0.49/3, rep.Brier, 1e-12)
	wantLL := -(math.Log(0.7) + math.Log(0.8) + math.Log(0.4)) / 3
	assert.InDelta(t, wantLL, rep.LogLoss, 1e-12)

	assert.Equal(t, 2, rep.RedTeamCount)
	// (0.25 + 0.16) / 2
	assert.InDelta(t, 0.205, rep.RedTeamBrier, 1e-12)
	assert.InDelta(t, 0.2, rep.MeanRedTeamGap, 1e-12)
}

func TestScore_LogLossFiniteAtExtremes(t *testing.T) {
	rep, err := Score([]Outcome{{Probability: 0, Occurred: true}}, 10)
	require.NoError(t, err)
	assert.False(t, math.IsInf(rep.LogLoss, 0))
	assert.Greater(t, rep.LogLoss, 20.0)
}

func TestScore_ReliabilityBins(t *testing.T) {
	rep, err := Score([]Outcome{
		{Probability: 0.05, Occurred: false},
		{Probability: 0.15, Occurred: false},
		{Probability: 0.95, Occurred: true},
		{Probability: 1.0, Occurred: true},
	}, 10)
	require.NoError(t, err)
	require.Len(t, rep.Bins, 3)

	assert.Equal(t, 1, rep.Bins[0].Count)
	assert.InDelta(t, 0.0, rep.Bins[0].Lower, 1e-12)
	last := rep.Bins[2]
	assert.Equal(t, 2, last.Count)
	assert.InDelta(t, 0.975, last.Predicted, 1e-12)
	assert.InDelta(t, 1.0, last.Observed, 1e-12)
}

func TestFromRuns(t *testing.T) {
	runs := []model.Run{
		{
			ID:         "a",
			Question:   "Will X?",
			Result:     &model.ForecastResult{Calibration: &model.CalibrationResult{FinalProbability: 0.3}, RedTeam: &model.RedTeamOutput{AlternateEstimate: 0.45}},
			Resolution: &model.Resolution{Outcome: true},
		},
		{ID: "unresolved", Result: &model.ForecastResult{Calibration: &model.CalibrationResult{}}},
		{ID: "no-result", Resolution: &model.Resolution{}},
	}

	got := FromRuns(runs)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].RunID)
	assert.InDelta(t, 0.3, got[0].Probability, 1e-12)
	assert.True(t, got[0].Occurred)
	require.NotNil(t, got[0].RedTeam)
	assert.InDelta(t, 0.45, *got[0].RedTeam, 1e-12)
}
