package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/cost"
	"github.com/sells-group/forecast-cli/internal/forecast"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/pkg/perplexity"
)

// Validate implements forecast.Validator on the fast model.
func (a *Agents) Validate(ctx context.Context, question string) (*model.ForecastabilityCheck, error) {
	var out model.ForecastabilityCheck
	user := fmt.Sprintf("Question: %s", question)
	if err := a.complete(ctx, "validate", a.cfg.FastModel, validatorPrompt, user, schemaForecastability, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clarify implements forecast.Clarifier on the fast model.
func (a *Agents) Clarify(ctx context.Context, question, followUpAnswers string) (*model.QuestionClarification, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)
	if followUpAnswers != "" {
		fmt.Fprintf(&b, "\nAnswers to your follow-up questions:\n%s\n", followUpAnswers)
	}

	var out model.QuestionClarification
	if err := a.complete(ctx, "clarify", a.cfg.FastModel, clarifierPrompt, b.String(), schemaClarification, &out); err != nil {
		return nil, err
	}
	if out.OriginalQuestion == "" {
		out.OriginalQuestion = question
	}
	if followUpAnswers != "" {
		out.NeedsClarification = false
		out.FollowUpQuestions = nil
	}
	return &out, nil
}

// Background implements forecast.BackgroundProvider. Results are cached per
// (date, question); Perplexity is preferred when configured.
func (a *Agents) Background(ctx context.Context, question string, date time.Time) (*model.BackgroundInfo, error) {
	day := date.Format(time.DateOnly)
	key := day + "|" + strings.ToLower(strings.TrimSpace(question))
	if bg, ok := a.bgCache.Get(key); ok {
		zap.L().Debug("agent: background cache hit", zap.String("date", day))
		return cloneBackground(bg), nil
	}

	user := fmt.Sprintf("Current date: %s\nQuestion: %s", day, question)
	if a.pplx != nil {
		research, err := a.perplexityBrief(ctx, question, day)
		if err != nil {
			zap.L().Warn("agent: perplexity background failed, using claude only", zap.Error(err))
		} else if research != "" {
			user += "\n\nResearch notes:\n" + research
		}
	}

	var out model.BackgroundInfo
	if err := a.complete(ctx, "background", a.cfg.Model, backgroundPrompt, user, schemaBackground, &out); err != nil {
		return nil, err
	}
	if out.CurrentDate == "" {
		out.CurrentDate = day
	}
	a.bgCache.Add(key, cloneBackground(&out))
	return &out, nil
}

// cloneBackground deep-copies bg so cached entries never alias caller data.
func cloneBackground(bg *model.BackgroundInfo) *model.BackgroundInfo {
	cp := *bg
	cp.MajorRecentEvents = slices.Clone(bg.MajorRecentEvents)
	cp.KeyTrends = slices.Clone(bg.KeyTrends)
	cp.NotableChanges = slices.Clone(bg.NotableChanges)
	return &cp
}

func (a *Agents) perplexityBrief(ctx context.Context, question, day string) (string, error) {
	resp, err := a.pplx.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "Summarize recent, dated developments relevant to the question. Cite sources."},
			{Role: "user", Content: fmt.Sprintf("As of %s: %s", day, question)},
		},
	})
	if t := cost.FromContext(ctx); t != nil {
		price := 0.0
		if calc := t.Calculator(); calc != nil {
			price = calc.PerplexityQuery()
		}
		t.AddFlat("perplexity", price)
	}
	if err != nil {
		return "", eris.Wrap(err, "agent: perplexity")
	}
	text := resp.Content()
	if len(resp.Citations) > 0 {
		text += "\nSources:\n- " + strings.Join(resp.Citations, "\n- ")
	}
	return text, nil
}

// FindReferenceClasses implements forecast.ReferenceClassFinder.
func (a *Agents) FindReferenceClasses(ctx context.Context, question string, bg *model.BackgroundInfo) (*model.ReferenceClassOutput, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString(contextBlock("Background", bg))
	if s := a.snippets(ctx, question+" historical base rate"); s != "" {
		b.WriteString("\n" + s)
	}

	var out model.ReferenceClassOutput
	if err := a.complete(ctx, "reference_classes", a.cfg.Model, referenceClassPrompt, b.String(), schemaReferences, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DesignParameters implements forecast.ParameterDesigner.
func (a *Agents) DesignParameters(ctx context.Context, question string, bg *model.BackgroundInfo, class model.ReferenceClass) (*model.ForecastParameters, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString(contextBlock("Background", bg))
	b.WriteString(contextBlock("Reference class", class))

	var out model.ForecastParameters
	if err := a.complete(ctx, "parameter_design", a.cfg.Model, parameterDesignPrompt, b.String(), schemaParameters, &out); err != nil {
		return nil, err
	}
	for i := range out.Parameters {
		if out.Parameters[i].InteractionType == "" {
			out.Parameters[i].InteractionType = model.InteractionNone
		}
	}
	return &out, nil
}

// ResearchParameter implements forecast.ParameterResearcher.
func (a *Agents) ResearchParameter(ctx context.Context, req forecast.ResearchRequest) (*model.ParameterSample, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	b.WriteString(contextBlock("Background", req.Background))
	b.WriteString(contextBlock("Reference class", req.ReferenceClass))
	b.WriteString(contextBlock("Parameter to research", req.Parameter))
	if others := otherNames(req.AllParameters, req.Parameter.Name); len(others) > 0 {
		fmt.Fprintf(&b, "Other parameters, researched separately (avoid double counting): %s\n", strings.Join(others, ", "))
	}
	if s := a.snippets(ctx, req.Question+" "+req.Parameter.Description); s != "" {
		b.WriteString("\n" + s)
	}

	var out model.ParameterSample
	stage := "research:" + req.Parameter.Name
	if err := a.complete(ctx, stage, a.cfg.Model, researcherPrompt, b.String(), schemaSample, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Synthesize implements forecast.Synthesizer.
func (a *Agents) Synthesize(ctx context.Context, req forecast.SynthesisRequest) (*model.FinalForecast, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	b.WriteString(contextBlock("Background", req.Background))
	b.WriteString(contextBlock("Reference class", req.ReferenceClass))
	b.WriteString(contextBlock("Parameters", req.Parameters))
	b.WriteString(contextBlock("Research", req.Samples))
	b.WriteString(contextBlock("Computed forecast", req.Calibration))

	var out model.FinalForecast
	if err := a.complete(ctx, "synthesize", a.cfg.Model, synthesizerPrompt, b.String(), schemaForecast, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Challenge implements forecast.RedTeamer.
func (a *Agents) Challenge(ctx context.Context, req forecast.RedTeamRequest) (*model.RedTeamOutput, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	b.WriteString(contextBlock("Background", req.Background))
	b.WriteString(contextBlock("Reference classes considered", req.References))
	b.WriteString(contextBlock("Chosen reference class", req.ReferenceClass))
	b.WriteString(contextBlock("Parameters", req.Parameters))
	b.WriteString(contextBlock("Research", req.Samples))
	b.WriteString(contextBlock("Calibration", req.Calibration))
	b.WriteString(contextBlock("Forecast", req.Forecast))
	if s := a.snippets(ctx, req.Question+" counterarguments risks"); s != "" {
		b.WriteString("\n" + s)
	}

	var out model.RedTeamOutput
	if err := a.complete(ctx, "red_team", a.cfg.Model, redTeamPrompt, b.String(), schemaRedTeam, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func otherNames(specs []model.ParameterSpec, self string) []string {
	var out []string
	for _, s := range specs {
		if s.Name != self {
			out = append(out, s.Name)
		}
	}
	return out
}
