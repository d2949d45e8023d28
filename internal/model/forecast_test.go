package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceClass_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rc      ReferenceClass
		wantErr string
	}{
		{"valid", ReferenceClass{BaseRate: 0.3, Low: 0.2, High: 0.4, SampleSize: 10}, ""},
		{"zero base rate", ReferenceClass{BaseRate: 0, Low: 0, High: 0.1}, "outside (0,1)"},
		{"one base rate", ReferenceClass{BaseRate: 1, Low: 0.9, High: 1}, "outside (0,1)"},
		{"interval excludes base", ReferenceClass{BaseRate: 0.5, Low: 0.6, High: 0.7}, "does not contain"},
		{"negative sample", ReferenceClass{BaseRate: 0.5, Low: 0.4, High: 0.6, SampleSize: -1}, "negative sample size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.rc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReferenceClassOutput_Recommended(t *testing.T) {
	t.Parallel()

	out := ReferenceClassOutput{
		Classes: []ReferenceClass{
			{Description: "a", BaseRate: 0.1},
			{Description: "b", BaseRate: 0.2},
		},
		RecommendedIndex: 1,
	}
	rc, err := out.Recommended()
	require.NoError(t, err)
	assert.Equal(t, "b", rc.Description)

	out.RecommendedIndex = 2
	_, err = out.Recommended()
	assert.ErrorContains(t, err, "out of range")

	out.RecommendedIndex = -1
	_, err = out.Recommended()
	assert.ErrorContains(t, err, "out of range")

	_, err = ReferenceClassOutput{}.Recommended()
	assert.ErrorContains(t, err, "none returned")
}

func TestForecastParameters_ValidateUnique(t *testing.T) {
	t.Parallel()

	ok := ForecastParameters{Parameters: []ParameterSpec{{Name: "a"}, {Name: "b"}}}
	assert.NoError(t, ok.ValidateUnique())

	dup := ForecastParameters{Parameters: []ParameterSpec{{Name: "a"}, {Name: "a"}}}
	assert.ErrorContains(t, dup.ValidateUnique(), "duplicate name")

	empty := ForecastParameters{Parameters: []ParameterSpec{{Name: ""}}}
	assert.ErrorContains(t, empty.ValidateUnique(), "empty name")
}

func TestFinalForecast_ApplyCalibration(t *testing.T) {
	t.Parallel()

	draft := &FinalForecast{
		Rationale:     "narrative",
		KeyParameters: []string{"x"},
		BaseRate:      0.9,
		FinalEstimate: 0.99,
		FinalLow:      0.98,
		FinalHigh:     1,
	}
	draft.ApplyCalibration(&CalibrationResult{
		BaseRate:         0.3,
		FinalProbability: 0.41,
		FinalLow:         0.26,
		FinalHigh:        0.56,
	})

	assert.Equal(t, 0.3, draft.BaseRate)
	assert.Equal(t, 0.41, draft.FinalEstimate)
	assert.Equal(t, 0.26, draft.FinalLow)
	assert.Equal(t, 0.56, draft.FinalHigh)
	assert.Equal(t, "narrative", draft.Rationale)
	assert.Equal(t, []string{"x"}, draft.KeyParameters)
}
