package forecast

import (
	"context"
	"time"

	"github.com/sells-group/forecast-cli/internal/model"
)

// Validator decides whether a question can be forecast at all.
type Validator interface {
	Validate(ctx context.Context, question string) (*model.ForecastabilityCheck, error)
}

// Clarifier rewrites a question into a concrete, time-bound form.
// followUpAnswers is empty on the first call and carries the user's answers
// verbatim on the single follow-up call.
type Clarifier interface {
	Clarify(ctx context.Context, question, followUpAnswers string) (*model.QuestionClarification, error)
}

// BackgroundProvider gathers current-world context as of date.
type BackgroundProvider interface {
	Background(ctx context.Context, question string, date time.Time) (*model.BackgroundInfo, error)
}

// ReferenceClassFinder proposes reference classes with base rates.
type ReferenceClassFinder interface {
	FindReferenceClasses(ctx context.Context, question string, background *model.BackgroundInfo) (*model.ReferenceClassOutput, error)
}

// ParameterDesigner defines the factors that move the base rate.
type ParameterDesigner interface {
	DesignParameters(ctx context.Context, question string, background *model.BackgroundInfo, class model.ReferenceClass) (*model.ForecastParameters, error)
}

// ResearchRequest is the context handed to each parameter researcher.
type ResearchRequest struct {
	Question       string
	Background     *model.BackgroundInfo
	ReferenceClass model.ReferenceClass
	Parameter      model.ParameterSpec
	AllParameters  []model.ParameterSpec
}

// ParameterResearcher estimates one parameter and its log-odds delta.
type ParameterResearcher interface {
	ResearchParameter(ctx context.Context, req ResearchRequest) (*model.ParameterSample, error)
}

// SynthesisRequest carries everything the draft synthesizer sees. The
// calibration is already computed so the narrative can reference it.
type SynthesisRequest struct {
	Question       string
	Background     *model.BackgroundInfo
	ReferenceClass model.ReferenceClass
	Parameters     []model.ParameterSpec
	Samples        []model.ParameterSample
	Calibration    *model.CalibrationResult
}

// Synthesizer writes the forecast narrative. Its numbers are replaced with
// the calibration result.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*model.FinalForecast, error)
}

// RedTeamRequest carries the finished forecast and its upstream context.
type RedTeamRequest struct {
	Question       string
	Background     *model.BackgroundInfo
	References     *model.ReferenceClassOutput
	ReferenceClass model.ReferenceClass
	Parameters     []model.ParameterSpec
	Samples        []model.ParameterSample
	Calibration    model.CalibrationResult
	Forecast       model.FinalForecast
}

// RedTeamer argues against a finished forecast.
type RedTeamer interface {
	Challenge(ctx context.Context, req RedTeamRequest) (*model.RedTeamOutput, error)
}

// Collaborators bundles the external calls the pipeline sequences.
type Collaborators struct {
	Validator   Validator
	Clarifier   Clarifier
	Background  BackgroundProvider
	References  ReferenceClassFinder
	Designer    ParameterDesigner
	Researcher  ParameterResearcher
	Synthesizer Synthesizer
	RedTeam     RedTeamer
}

func (c Collaborators) validate() error {
	switch {
	case c.Validator == nil:
		return errMissing("validator")
	case c.Clarifier == nil:
		return errMissing("clarifier")
	case c.Background == nil:
		return errMissing("background provider")
	case c.References == nil:
		return errMissing("reference class finder")
	case c.Designer == nil:
		return errMissing("parameter designer")
	case c.Researcher == nil:
		return errMissing("parameter researcher")
	case c.Synthesizer == nil:
		return errMissing("synthesizer")
	case c.RedTeam == nil:
		return errMissing("red team")
	}
	return nil
}
