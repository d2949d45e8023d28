package forecast

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/forecast-cli/internal/model"
)

type mockValidator struct{ mock.Mock }

func (m *mockValidator) Validate(ctx context.Context, question string) (*model.ForecastabilityCheck, error) {
	args := m.Called(ctx, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ForecastabilityCheck), args.Error(1)
}

type mockClarifier struct{ mock.Mock }

func (m *mockClarifier) Clarify(ctx context.Context, question, followUpAnswers string) (*model.QuestionClarification, error) {
	args := m.Called(ctx, question, followUpAnswers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QuestionClarification), args.Error(1)
}

type mockBackground struct{ mock.Mock }

func (m *mockBackground) Background(ctx context.Context, question string, date time.Time) (*model.BackgroundInfo, error) {
	args := m.Called(ctx, question, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackgroundInfo), args.Error(1)
}

type mockReferences struct{ mock.Mock }

func (m *mockReferences) FindReferenceClasses(ctx context.Context, question string, background *model.BackgroundInfo) (*model.ReferenceClassOutput, error) {
	args := m.Called(ctx, question, background)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReferenceClassOutput), args.Error(1)
}

type mockDesigner struct{ mock.Mock }

func (m *mockDesigner) DesignParameters(ctx context.Context, question string, background *model.BackgroundInfo, class model.ReferenceClass) (*model.ForecastParameters, error) {
	args := m.Called(ctx, question, background, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ForecastParameters), args.Error(1)
}

type mockResearcher struct{ mock.Mock }

func (m *mockResearcher) ResearchParameter(ctx context.Context, req ResearchRequest) (*model.ParameterSample, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ParameterSample), args.Error(1)
}

type mockSynthesizer struct{ mock.Mock }

func (m *mockSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (*model.FinalForecast, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FinalForecast), args.Error(1)
}

type mockRedTeam struct{ mock.Mock }

func (m *mockRedTeam) Challenge(ctx context.Context, req RedTeamRequest) (*model.RedTeamOutput, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RedTeamOutput), args.Error(1)
}
