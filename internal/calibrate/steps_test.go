package calibrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forecast-cli/internal/model"
)

func TestSteps_SortedByMagnitude(t *testing.T) {
	res, err := Calibrate(0.3, nil, []model.ParameterSample{
		{Name: "small", DeltaLogOdds: model.Delta(0.1)},
		{Name: "large", DeltaLogOdds: model.Delta(-0.6)},
		{Name: "mid", DeltaLogOdds: model.Delta(0.3)},
	})
	require.NoError(t, err)

	steps := Steps(res)
	require.Len(t, steps, 3)
	assert.Equal(t, "large", steps[0].Name)
	assert.Equal(t, "mid", steps[1].Name)
	assert.Equal(t, "small", steps[2].Name)

	assert.InDelta(t, 0.3, steps[0].ProbBefore, 1e-12)
	assert.Less(t, steps[0].ProbAfter, steps[0].ProbBefore)
	assert.Equal(t, steps[0].ProbAfter, steps[1].ProbBefore)
	assert.InDelta(t, res.FinalProbability, steps[2].ProbAfter, 1e-12)
}

func TestSteps_Empty(t *testing.T) {
	res, err := Calibrate(0.5, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, Steps(res))
	assert.Equal(t, 0.0, TotalShift(res))
}

func TestEvidenceStrength(t *testing.T) {
	tests := []struct {
		delta float64
		want  Strength
	}{
		{0.05, StrengthVeryWeak},
		{-0.19, StrengthVeryWeak},
		{0.2, StrengthWeak},
		{-0.39, StrengthWeak},
		{0.4, StrengthModerate},
		{0.69, StrengthModerate},
		{0.7, StrengthStrong},
		{-1.0, StrengthStrong},
		{1.01, StrengthVeryStrong},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EvidenceStrength(tt.delta), "delta=%v", tt.delta)
	}
}
