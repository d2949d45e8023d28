// Package model holds the records exchanged between forecast stages and
// the run bookkeeping persisted by the store.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ForecastabilityCheck is the question validator's verdict.
type ForecastabilityCheck struct {
	IsForecastable bool   `json:"is_forecastable"`
	Reasoning      string `json:"reasoning"`
}

// QuestionClarification is the clarifier's rewrite of a user question.
type QuestionClarification struct {
	OriginalQuestion   string   `json:"original_question"`
	ClarifiedQuestion  string   `json:"clarified_question"`
	NeedsClarification bool     `json:"needs_clarification"`
	FollowUpQuestions  []string `json:"follow_up_questions"`
}

// BackgroundInfo is current-world context gathered before research.
type BackgroundInfo struct {
	CurrentDate       string   `json:"current_date"`
	MajorRecentEvents []string `json:"major_recent_events"`
	KeyTrends         []string `json:"key_trends"`
	NotableChanges    []string `json:"notable_changes"`
	Summary           string   `json:"summary"`
}

// ReferenceClass is a population of historical analogues with a base rate.
type ReferenceClass struct {
	Description string   `json:"description"`
	BaseRate    float64  `json:"base_rate"`
	Low         float64  `json:"low"`
	High        float64  `json:"high"`
	SampleSize  int      `json:"sample_size"`
	Sources     []string `json:"sources"`
	Reasoning   string   `json:"reasoning"`
}

// Validate checks the base rate and its 90% interval.
func (rc ReferenceClass) Validate() error {
	if !(rc.BaseRate > 0 && rc.BaseRate < 1) {
		return eris.Errorf("reference class %q: base rate %v outside (0,1)", rc.Description, rc.BaseRate)
	}
	if rc.Low > rc.BaseRate || rc.BaseRate > rc.High {
		return eris.Errorf("reference class %q: interval [%v, %v] does not contain base rate %v", rc.Description, rc.Low, rc.High, rc.BaseRate)
	}
	if rc.SampleSize < 0 {
		return eris.Errorf("reference class %q: negative sample size %d", rc.Description, rc.SampleSize)
	}
	return nil
}

// ReferenceClassOutput is the reference class finder's result.
type ReferenceClassOutput struct {
	Classes            []ReferenceClass `json:"reference_classes"`
	RecommendedIndex   int              `json:"recommended_class_index"`
	SelectionReasoning string           `json:"selection_reasoning"`
}

// Recommended returns the class at RecommendedIndex.
func (o ReferenceClassOutput) Recommended() (ReferenceClass, error) {
	if len(o.Classes) == 0 {
		return ReferenceClass{}, eris.New("reference classes: none returned")
	}
	if o.RecommendedIndex < 0 || o.RecommendedIndex >= len(o.Classes) {
		return ReferenceClass{}, eris.Errorf("reference classes: recommended index %d out of range [0,%d)", o.RecommendedIndex, len(o.Classes))
	}
	return o.Classes[o.RecommendedIndex], nil
}

// InteractionType describes how a parameter combines with others.
type InteractionType string

const (
	InteractionNone              InteractionType = "none"
	InteractionAdditive          InteractionType = "additive"
	InteractionMultiplicative    InteractionType = "multiplicative"
	InteractionWeakExponential   InteractionType = "weak_exponential"
	InteractionStrongExponential InteractionType = "strong_exponential"
)

// ParameterSpec defines one factor to research.
type ParameterSpec struct {
	Name                   string          `json:"name"`
	Description            string          `json:"description"`
	ScaleDescription       string          `json:"scale_description"`
	InteractsWith          []string        `json:"interacts_with,omitempty"`
	InteractionType        InteractionType `json:"interaction_type,omitempty"`
	InteractionDescription string          `json:"interaction_description,omitempty"`
}

// ForecastParameters is the parameter designer's result.
type ForecastParameters struct {
	Parameters               []ParameterSpec `json:"parameters"`
	AdditionalConsiderations []string        `json:"additional_considerations,omitempty"`
}

// ValidateUnique returns an error if two specs share a name.
func (fp ForecastParameters) ValidateUnique() error {
	seen := make(map[string]struct{}, len(fp.Parameters))
	for _, p := range fp.Parameters {
		if p.Name == "" {
			return eris.New("parameters: empty name")
		}
		if _, ok := seen[p.Name]; ok {
			return eris.Errorf("parameters: duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// ParameterSample is the researched estimate for one ParameterSpec.
// A nil DeltaLogOdds means the sample is informational only.
type ParameterSample struct {
	Name         string   `json:"name"`
	Value        float64  `json:"value"`
	Low          float64  `json:"low"`
	High         float64  `json:"high"`
	DeltaLogOdds *float64 `json:"delta_log_odds"`
	Reasoning    string   `json:"reasoning"`
	Sources      []string `json:"sources"`
}

// Delta returns a pointer to d, for building samples.
func Delta(d float64) *float64 {
	return &d
}

// CalibrationResult is the deterministic synthesis of base rate and deltas.
type CalibrationResult struct {
	BaseRate               float64            `json:"base_rate"`
	BaseLogOdds            float64            `json:"base_log_odds"`
	ParameterContributions map[string]float64 `json:"parameter_contributions"`
	ScalingFactor          float64            `json:"scaling_factor"`
	ConservatismApplied    bool               `json:"conservatism_applied"`
	FinalLogOdds           float64            `json:"final_log_odds"`
	FinalProbability       float64            `json:"final_probability"`
	FinalLow               float64            `json:"final_low"`
	FinalHigh              float64            `json:"final_high"`
}

// FinalForecast is the synthesizer's narrative. Its numeric fields are
// always overwritten with the CalibrationResult.
type FinalForecast struct {
	Question      string   `json:"question"`
	Rationale     string   `json:"rationale"`
	KeyParameters []string `json:"key_parameters"`
	BaseRate      float64  `json:"base_rate"`
	FinalEstimate float64  `json:"final_estimate"`
	FinalLow      float64  `json:"final_low"`
	FinalHigh     float64  `json:"final_high"`
}

// ApplyCalibration replaces the draft's numbers with the calibrated ones.
func (f *FinalForecast) ApplyCalibration(c *CalibrationResult) {
	f.BaseRate = c.BaseRate
	f.FinalEstimate = c.FinalProbability
	f.FinalLow = c.FinalLow
	f.FinalHigh = c.FinalHigh
}

// RedTeamOutput is the adversarial critique of a finished forecast.
type RedTeamOutput struct {
	AlternateEstimate  float64  `json:"alternate_estimate"`
	AlternateLow       float64  `json:"alternate_low"`
	AlternateHigh      float64  `json:"alternate_high"`
	StrongestObjection string   `json:"strongest_objection"`
	KeyDisagreements   []string `json:"key_disagreements"`
	Rationale          string   `json:"rationale"`
}

// ForecastResult is everything a presentation layer needs from one run.
type ForecastResult struct {
	RunID             string                 `json:"run_id"`
	Question          string                 `json:"question"`
	ClarifiedQuestion string                 `json:"clarified_question"`
	Clarification     *QuestionClarification `json:"clarification,omitempty"`
	Validation        *ForecastabilityCheck  `json:"validation,omitempty"`
	Background        *BackgroundInfo        `json:"background,omitempty"`
	ReferenceClasses  *ReferenceClassOutput  `json:"reference_classes,omitempty"`
	Parameters        []ParameterSpec        `json:"parameters,omitempty"`
	Samples           []ParameterSample      `json:"samples,omitempty"`
	Calibration       *CalibrationResult     `json:"calibration,omitempty"`
	Forecast          *FinalForecast         `json:"forecast,omitempty"`
	RedTeam           *RedTeamOutput         `json:"red_team,omitempty"`
	Phases            []PhaseResult          `json:"phases"`
	TokenUsage        TokenUsage             `json:"token_usage"`
	TotalCost         float64                `json:"total_cost"`
	Report            string                 `json:"report"`
	CompletedAt       time.Time              `json:"completed_at"`
}
