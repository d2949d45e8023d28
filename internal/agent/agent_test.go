package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forecast-cli/internal/cost"
	"github.com/sells-group/forecast-cli/internal/forecast"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/pkg/anthropic"
	"github.com/sells-group/forecast-cli/pkg/jina"
	"github.com/sells-group/forecast-cli/pkg/perplexity"
)

const (
	sonnet = "claude-sonnet-4-5-20250929"
	haiku  = "claude-haiku-4-5-20251001"
)

type mockLLM struct{ mock.Mock }

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type mockSearch struct{ mock.Mock }

func (m *mockSearch) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.SearchResponse), args.Error(1)
}

type mockPerplexity struct{ mock.Mock }

func (m *mockPerplexity) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

func newTestAgents(t *testing.T, llm anthropic.Client, opts ...Option) *Agents {
	t.Helper()
	a, err := New(llm, Config{Model: sonnet, FastModel: haiku, Temperature: 0.2}, opts...)
	require.NoError(t, err)
	return a
}

func trackedContext() (context.Context, *cost.Tracker) {
	tr := cost.NewTracker(cost.NewCalculator(cost.DefaultRates()))
	return cost.WithTracker(context.Background(), tr), tr
}

func userPrompt(req anthropic.MessageRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[0].Content
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Model: sonnet})
	require.Error(t, err)

	_, err = New(&mockLLM{}, Config{})
	require.Error(t, err)

	a, err := New(&mockLLM{}, Config{Model: sonnet})
	require.NoError(t, err)
	assert.Equal(t, sonnet, a.cfg.FastModel)
	assert.Equal(t, int64(4096), a.cfg.MaxTokens)
}

func TestCompileSchemas(t *testing.T) {
	s, err := compileSchemas()
	require.NoError(t, err)
	assert.Len(t, s, len(schemaSources))
}

func TestCollaborators_AllSet(t *testing.T) {
	a := newTestAgents(t, &mockLLM{})
	c := a.Collaborators()
	assert.NotNil(t, c.Validator)
	assert.NotNil(t, c.Clarifier)
	assert.NotNil(t, c.Background)
	assert.NotNil(t, c.References)
	assert.NotNil(t, c.Designer)
	assert.NotNil(t, c.Researcher)
	assert.NotNil(t, c.Synthesizer)
	assert.NotNil(t, c.RedTeam)
}

func TestValidate_FencedJSONAndUsage(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == haiku && len(r.System) == 1 && strings.Contains(userPrompt(r), "Will it snow")
	})).Return(textResponse("```json\n{\"is_forecastable\": true, \"reasoning\": \"Clear deadline.\"}\n```"), nil)

	a := newTestAgents(t, llm)
	ctx, tr := trackedContext()

	got, err := a.Validate(ctx, "Will it snow in Madrid before 2027-01-01?")
	require.NoError(t, err)
	assert.True(t, got.IsForecastable)
	assert.Equal(t, "Clear deadline.", got.Reasoning)

	total := tr.Total()
	assert.Equal(t, 1000, total.InputTokens)
	assert.Equal(t, 200, total.OutputTokens)
	assert.Greater(t, total.Cost, 0.0)
	assert.Contains(t, tr.ByModel(), haiku)
	llm.AssertExpectations(t)
}

func TestComplete_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "I cannot answer that."},
		{"empty", "   "},
		{"schema violation", `{"is_forecastable": "maybe", "reasoning": "x"}`},
		{"missing field", `{"reasoning": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockLLM{}
			llm.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(tt.text), nil)
			a := newTestAgents(t, llm)

			_, err := a.Validate(context.Background(), "q")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedResponse))
			var me *MalformedError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, "validate", me.Stage)
		})
	}
}

func TestComplete_TransportError(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))
	a := newTestAgents(t, llm)

	_, err := a.Validate(context.Background(), "q")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedResponse))
	assert.Contains(t, err.Error(), "overloaded")
}

func TestClarify_FollowUpAnswersSettle(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return strings.Contains(userPrompt(r), "Please continue with default assumptions.")
	})).Return(textResponse(`{"clarified_question": "Will X happen by 2027-01-01?", "needs_clarification": true, "follow_up_questions": ["Which X?"]}`), nil)

	a := newTestAgents(t, llm)
	got, err := a.Clarify(context.Background(), "Will X happen?", forecast.DefaultFollowUpAnswer)
	require.NoError(t, err)
	assert.False(t, got.NeedsClarification)
	assert.Empty(t, got.FollowUpQuestions)
	assert.Equal(t, "Will X happen?", got.OriginalQuestion)
}

func TestBackground_CachedPerDateAndQuestion(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"summary": "Quiet period.", "key_trends": ["a"]}`), nil)
	a := newTestAgents(t, llm)

	day := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	first, err := a.Background(context.Background(), "Will X?", day)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", first.CurrentDate)

	first.Summary = "mutated by caller"
	first.KeyTrends[0] = "mutated trend"
	second, err := a.Background(context.Background(), "  will x? ", day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "Quiet period.", second.Summary)
	assert.Equal(t, []string{"a"}, second.KeyTrends)
	llm.AssertNumberOfCalls(t, "CreateMessage", 1)

	second.KeyTrends[0] = "mutated again"
	third, err := a.Background(context.Background(), "Will X?", day)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, third.KeyTrends)
	llm.AssertNumberOfCalls(t, "CreateMessage", 1)

	_, err = a.Background(context.Background(), "Will X?", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	llm.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestBackground_PerplexityNotes(t *testing.T) {
	pplx := &mockPerplexity{}
	pplx.On("ChatCompletion", mock.Anything, mock.Anything).Return(&perplexity.ChatCompletionResponse{
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: "Rates held in September."}}},
		Citations: []string{"https://example.org/ecb"},
	}, nil)

	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		p := userPrompt(r)
		return strings.Contains(p, "Rates held in September.") && strings.Contains(p, "https://example.org/ecb")
	})).Return(textResponse(`{"summary": "Holding pattern."}`), nil)

	a := newTestAgents(t, llm, WithPerplexity(pplx))
	ctx, tr := trackedContext()
	got, err := a.Background(ctx, "Will the ECB cut?", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Holding pattern.", got.Summary)
	assert.Contains(t, tr.ByModel(), "perplexity")
	llm.AssertExpectations(t)
}

func TestBackground_PerplexityFailureFallsBack(t *testing.T) {
	pplx := &mockPerplexity{}
	pplx.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("503"))

	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return !strings.Contains(userPrompt(r), "Research notes")
	})).Return(textResponse(`{"summary": "From model knowledge."}`), nil)

	a := newTestAgents(t, llm, WithPerplexity(pplx))
	got, err := a.Background(context.Background(), "Will the ECB cut?", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "From model knowledge.", got.Summary)
}

func TestFindReferenceClasses_SchemaRejectsBadBaseRate(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(
		`{"reference_classes": [{"description": "all", "base_rate": 1.0, "low": 0.9, "high": 1.0}], "recommended_class_index": 0}`), nil)
	a := newTestAgents(t, llm)

	_, err := a.FindReferenceClasses(context.Background(), "q", &model.BackgroundInfo{Summary: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestFindReferenceClasses_WithSearchSnippets(t *testing.T) {
	search := &mockSearch{}
	search.On("Search", mock.Anything, mock.Anything).Return(&jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "Historic cuts", URL: "https://example.org/cuts", Description: "Twelve of forty holds ended in a cut."},
	}}, nil)

	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == sonnet && strings.Contains(userPrompt(r), "Twelve of forty holds")
	})).Return(textResponse(`{
		"reference_classes": [
			{"description": "holds", "base_rate": 0.3, "low": 0.2, "high": 0.4, "sample_size": 40},
			{"description": "all meetings", "base_rate": 0.1, "low": 0.05, "high": 0.15, "sample_size": 200}
		],
		"recommended_class_index": 0,
		"selection_reasoning": "closest"
	}`), nil)

	a := newTestAgents(t, llm, WithSearch(search))
	ctx, tr := trackedContext()
	got, err := a.FindReferenceClasses(ctx, "Will the ECB cut?", &model.BackgroundInfo{Summary: "s"})
	require.NoError(t, err)
	require.Len(t, got.Classes, 2)
	assert.Equal(t, 40, got.Classes[0].SampleSize)
	assert.Contains(t, tr.ByModel(), "jina")
	llm.AssertExpectations(t)
}

func TestSearchFailureIsNotFatal(t *testing.T) {
	search := &mockSearch{}
	search.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"name": "growth", "value": 6, "low": 5, "high": 7, "delta_log_odds": 0.2, "reasoning": "r"}`), nil)

	a := newTestAgents(t, llm, WithSearch(search))
	got, err := a.ResearchParameter(context.Background(), forecast.ResearchRequest{
		Question:  "q",
		Parameter: model.ParameterSpec{Name: "growth", Description: "GDP"},
	})
	require.NoError(t, err)
	require.NotNil(t, got.DeltaLogOdds)
	assert.InDelta(t, 0.2, *got.DeltaLogOdds, 1e-12)
}

func TestResearchParameter_NullDelta(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return strings.Contains(userPrompt(r), "avoid double counting): inflation")
	})).Return(textResponse(`{"name": "growth", "value": 5, "delta_log_odds": null, "reasoning": "context only"}`), nil)

	a := newTestAgents(t, llm)
	specs := []model.ParameterSpec{{Name: "growth"}, {Name: "inflation"}}
	got, err := a.ResearchParameter(context.Background(), forecast.ResearchRequest{
		Question:      "q",
		Parameter:     specs[0],
		AllParameters: specs,
	})
	require.NoError(t, err)
	assert.Nil(t, got.DeltaLogOdds)
}

func TestResearchParameter_OmittedDelta(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"name": "x", "value": 5, "reasoning": "informational"}`), nil)

	a := newTestAgents(t, llm)
	got, err := a.ResearchParameter(context.Background(), forecast.ResearchRequest{Parameter: model.ParameterSpec{Name: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Name)
	assert.Nil(t, got.DeltaLogOdds)
}

func TestResearchParameter_LargeDeltaAccepted(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"value": 10, "delta_log_odds": 7.5, "reasoning": "overwhelming"}`), nil)

	a := newTestAgents(t, llm)
	got, err := a.ResearchParameter(context.Background(), forecast.ResearchRequest{Parameter: model.ParameterSpec{Name: "x"}})
	require.NoError(t, err)
	require.NotNil(t, got.DeltaLogOdds)
	assert.InDelta(t, 7.5, *got.DeltaLogOdds, 1e-12)
}

func TestResearchParameter_ValueOutOfRange(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"value": 12, "delta_log_odds": 0.5, "reasoning": "off scale"}`), nil)

	a := newTestAgents(t, llm)
	_, err := a.ResearchParameter(context.Background(), forecast.ResearchRequest{Parameter: model.ParameterSpec{Name: "x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestDesignParameters_DefaultInteraction(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"parameters": [
		{"name": "inflation_trend", "description": "core CPI direction"},
		{"name": "growth", "description": "GDP", "interacts_with": ["inflation_trend"], "interaction_type": "multiplicative"}
	]}`), nil)

	a := newTestAgents(t, llm)
	got, err := a.DesignParameters(context.Background(), "q", &model.BackgroundInfo{}, model.ReferenceClass{BaseRate: 0.3})
	require.NoError(t, err)
	require.Len(t, got.Parameters, 2)
	assert.Equal(t, model.InteractionNone, got.Parameters[0].InteractionType)
	assert.Equal(t, model.InteractionMultiplicative, got.Parameters[1].InteractionType)
}

func TestDesignParameters_RejectsBadName(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"parameters": [{"name": "Has Spaces", "description": "d"}]}`), nil)

	a := newTestAgents(t, llm)
	_, err := a.DesignParameters(context.Background(), "q", &model.BackgroundInfo{}, model.ReferenceClass{})
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestSynthesizeAndChallenge(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return strings.Contains(r.System[0].Text, "final narrative")
	})).Return(textResponse(`{"rationale": "Base rate dominates.", "key_parameters": ["a"], "final_estimate": 0.4}`), nil)
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return strings.Contains(r.System[0].Text, "red team")
	})).Return(textResponse(`{"alternate_estimate": 0.55, "alternate_low": 0.4, "alternate_high": 0.7, "strongest_objection": "Stale data.", "key_disagreements": ["timing"]}`), nil)

	a := newTestAgents(t, llm)
	cal := &model.CalibrationResult{BaseRate: 0.3, FinalProbability: 0.35, ParameterContributions: map[string]float64{"a": 0.2}}

	draft, err := a.Synthesize(context.Background(), forecast.SynthesisRequest{Question: "q", Calibration: cal})
	require.NoError(t, err)
	assert.Equal(t, "Base rate dominates.", draft.Rationale)

	rt, err := a.Challenge(context.Background(), forecast.RedTeamRequest{Question: "q", Calibration: *cal, Forecast: *draft})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, rt.AlternateEstimate, 1e-12)
	assert.Equal(t, []string{"timing"}, rt.KeyDisagreements)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"Here you go: {\"a\":{\"b\":2}} hope that helps", `{"a":{"b":2}}`},
		{"no braces", "no braces"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanJSON(tt.in))
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// "é" is two bytes; cutting at byte 2 would split it.
	got := truncate("aéb", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate("Zürich Prognose", 2)
	assert.True(t, utf8.ValidString(got))
}
