// Package forecast sequences the forecasting stages for a single question:
// clarification and validation, background gathering, reference classes,
// parameter design, concurrent parameter research, calibration, synthesis
// and red teaming.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/forecast-cli/internal/buffer"
	"github.com/sells-group/forecast-cli/internal/calibrate"
	"github.com/sells-group/forecast-cli/internal/cost"
	"github.com/sells-group/forecast-cli/internal/metrics"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/store"
)

// DefaultFollowUpAnswer is sent to the clarifier when the user leaves the
// follow-up questions unanswered.
const DefaultFollowUpAnswer = "Please continue with default assumptions."

// Phase names recorded for every run.
const (
	PhaseClarify    = "clarify"
	PhaseValidate   = "validate"
	PhaseBackground = "background"
	PhaseReferences = "reference_classes"
	PhaseDesign     = "parameter_design"
	PhaseResearch   = "parameter_research"
	PhaseCalibrate  = "calibrate"
	PhaseSynthesize = "synthesize"
	PhaseRedTeam    = "red_team"
)

// Pipeline orchestrates one forecast per Run call.
type Pipeline struct {
	collab Collaborators
	store  store.Store
	policy calibrate.Policy
	calc   *cost.Calculator
	buf    *buffer.Manager
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy overrides the calibration guard rails.
func WithPolicy(policy calibrate.Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithCalculator prices token usage recorded during a run.
func WithCalculator(calc *cost.Calculator) Option {
	return func(p *Pipeline) { p.calc = calc }
}

// WithClock overrides the clock used for the background date.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline. Every collaborator must be set.
func New(collab Collaborators, st store.Store, opts ...Option) (*Pipeline, error) {
	if err := collab.validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errMissing("store")
	}
	p := &Pipeline{
		collab: collab,
		store:  st,
		policy: calibrate.DefaultPolicy(),
		calc:   cost.NewCalculator(cost.DefaultRates()),
		buf:    buffer.New(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// WithBuffer returns a copy of p that writes to buf. Concurrent runs must
// each use their own buffer.
func (p *Pipeline) WithBuffer(buf *buffer.Manager) *Pipeline {
	cp := *p
	cp.buf = buf
	return &cp
}

// Buffer returns the output buffer.
func (p *Pipeline) Buffer() *buffer.Manager {
	return p.buf
}

// Run forecasts question. input answers follow-up and retry prompts; with
// NonInteractive (or nil) follow-ups use default assumptions and a rejected
// question returns an *UnforecastableError. In interactive mode a declined
// retry ends the run with a nil result and nil error.
func (p *Pipeline) Run(ctx context.Context, question string, input InputProvider) (*model.ForecastResult, error) {
	if input == nil {
		input = NonInteractive
	}
	_, batch := input.(nonInteractive)
	interactive := !batch

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, eris.New("forecast: empty question")
	}

	run, err := p.store.CreateRun(ctx, question)
	if err != nil {
		return nil, eris.Wrap(err, "forecast: create run")
	}

	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("question", question),
	)

	tracker := cost.NewTracker(p.calc)
	ctx = cost.WithTracker(ctx, tracker)

	// Run bookkeeping must land even after ctx is canceled, otherwise an
	// interrupted run stays in a non-terminal status.
	storeCtx := context.WithoutCancel(ctx)

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(storeCtx, run.ID, status); statusErr != nil {
			log.Warn("forecast: failed to update status", zap.Error(statusErr))
		}
	}

	result := &model.ForecastResult{
		RunID:    run.ID,
		Question: question,
	}

	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (map[string]any, error)) error {
		phase, phaseErr := p.store.CreatePhase(storeCtx, run.ID, name)
		if phaseErr != nil {
			log.Warn("forecast: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		before := tracker.Total()
		start := time.Now()
		meta, fnErr := fn()
		elapsed := time.Since(start)

		pr := &model.PhaseResult{
			Name:       name,
			Duration:   elapsed.Milliseconds(),
			TokenUsage: usageSince(before, tracker.Total()),
			Metadata:   meta,
		}

		if fnErr != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("forecast: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
				zap.Error(fnErr),
			)
		} else {
			pr.Status = model.PhaseStatusComplete
			log.Info("forecast: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
			)
		}
		metrics.ObserveStage(name, pr.Status, elapsed)

		if phase != nil {
			if cpErr := p.store.CompletePhase(storeCtx, phase.ID, pr); cpErr != nil {
				log.Warn("forecast: failed to complete phase", zap.String("phase", name), zap.Error(cpErr))
			}
		}

		phasesMu.Lock()
		result.Phases = append(result.Phases, *pr)
		phasesMu.Unlock()
		return fnErr
	}

	finish := func(status model.RunStatus, cause error) {
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		if finErr := p.store.FinishRun(storeCtx, run.ID, status, msg); finErr != nil {
			log.Warn("forecast: failed to finish run", zap.Error(finErr))
		}
		metrics.ObserveRun(status)
	}

	fail := func(err error) (*model.ForecastResult, error) {
		status := model.RunStatusFailed
		if errors.Is(err, context.Canceled) {
			status = model.RunStatusCanceled
		}
		finish(status, err)
		p.buf.Writef(buffer.SectionUser, "Forecast failed: %v", err)
		return nil, err
	}

	// Phase 1: clarify and validate, looping on rejection.
	setStatus(model.RunStatusClarifying)
	for {
		clar, check, err := p.clarifyAndValidate(ctx, question, input, interactive, trackPhase)
		if err != nil {
			return fail(err)
		}
		if check.IsForecastable {
			result.Question = question
			result.Clarification = clar
			result.Validation = check
			result.ClarifiedQuestion = clar.ClarifiedQuestion
			break
		}

		rejection := &UnforecastableError{Question: clar.ClarifiedQuestion, Reasoning: check.Reasoning}
		p.buf.Writef(buffer.SectionUser, "This question cannot be forecast: %s", check.Reasoning)
		p.buf.Write(buffer.SectionUser, ExpectedFormat)

		if !interactive {
			finish(model.RunStatusRejected, rejection)
			return nil, rejection
		}

		answer, err := input.Input(ctx, "Would you like to try again with a reformulated question? (yes/no): ")
		if err != nil {
			return fail(eris.Wrap(err, "forecast: read retry answer"))
		}
		if !isYes(answer) {
			p.buf.Write(buffer.SectionUser, "Forecast canceled.")
			finish(model.RunStatusCanceled, rejection)
			return nil, nil
		}

		next, err := input.Input(ctx, "Please enter a reformulated question: ")
		if err != nil {
			return fail(eris.Wrap(err, "forecast: read reformulated question"))
		}
		next = strings.TrimSpace(next)
		if next == "" {
			p.buf.Write(buffer.SectionUser, "No question provided. Forecast canceled.")
			finish(model.RunStatusCanceled, rejection)
			return nil, nil
		}
		log.Info("forecast: retrying with reformulated question", zap.String("reformulated", next))
		question = next
	}

	clarified := result.ClarifiedQuestion

	// Phase 2: background, strictly before reference classes.
	setStatus(model.RunStatusResearching)
	p.buf.Write(buffer.SectionUser, "Gathering background information...")
	if err := trackPhase(PhaseBackground, func() (map[string]any, error) {
		bg, bgErr := p.collab.Background.Background(ctx, clarified, p.now())
		if bgErr != nil {
			return nil, eris.Wrap(bgErr, "forecast: background")
		}
		result.Background = bg
		return map[string]any{"events": len(bg.MajorRecentEvents), "trends": len(bg.KeyTrends)}, nil
	}); err != nil {
		return fail(err)
	}
	p.writeBackground(result.Background)

	// Phase 3: reference classes.
	p.buf.Write(buffer.SectionUser, "Finding reference classes...")
	var class model.ReferenceClass
	if err := trackPhase(PhaseReferences, func() (map[string]any, error) {
		out, rcErr := p.collab.References.FindReferenceClasses(ctx, clarified, result.Background)
		if rcErr != nil {
			return nil, eris.Wrap(rcErr, "forecast: reference classes")
		}
		rec, recErr := out.Recommended()
		if recErr != nil {
			return nil, eris.Wrap(recErr, "forecast: reference classes")
		}
		if vErr := rec.Validate(); vErr != nil {
			return nil, eris.Wrap(vErr, "forecast: reference classes")
		}
		result.ReferenceClasses = out
		class = rec
		return map[string]any{"classes": len(out.Classes), "recommended": out.RecommendedIndex, "base_rate": rec.BaseRate}, nil
	}); err != nil {
		return fail(err)
	}

	// Phase 4: parameter design around the recommended class.
	p.buf.Write(buffer.SectionUser, "Designing forecast parameters...")
	if err := trackPhase(PhaseDesign, func() (map[string]any, error) {
		params, pdErr := p.collab.Designer.DesignParameters(ctx, clarified, result.Background, class)
		if pdErr != nil {
			return nil, eris.Wrap(pdErr, "forecast: parameter design")
		}
		if uErr := params.ValidateUnique(); uErr != nil {
			return nil, eris.Wrap(uErr, "forecast: parameter design")
		}
		result.Parameters = params.Parameters
		return map[string]any{"parameters": len(params.Parameters)}, nil
	}); err != nil {
		return fail(err)
	}
	p.writeParameterSpecs(result.Parameters)

	// Phase 5: research every parameter concurrently; all must succeed.
	p.buf.Writef(buffer.SectionUser, "Researching %d parameters...", len(result.Parameters))
	if err := trackPhase(PhaseResearch, func() (map[string]any, error) {
		samples, rErr := p.research(ctx, clarified, result.Background, class, result.Parameters)
		if rErr != nil {
			return nil, rErr
		}
		result.Samples = samples
		return map[string]any{"samples": len(samples)}, nil
	}); err != nil {
		return fail(err)
	}
	p.writeSamples(result.Samples)

	// Phase 6: calibration.
	setStatus(model.RunStatusCalibrating)
	if err := trackPhase(PhaseCalibrate, func() (map[string]any, error) {
		cal, cErr := p.policy.Calibrate(class.BaseRate, result.Parameters, result.Samples)
		if cErr != nil {
			return nil, eris.Wrap(cErr, "forecast: calibrate")
		}
		result.Calibration = cal
		return map[string]any{
			"final_probability":    cal.FinalProbability,
			"scaling_factor":       cal.ScalingFactor,
			"conservatism_applied": cal.ConservatismApplied,
		}, nil
	}); err != nil {
		return fail(err)
	}
	metrics.ObserveCalibration(result.Calibration)

	// Phase 7: synthesis draft; numbers always come from the calibration.
	p.buf.Write(buffer.SectionUser, "Synthesizing forecast...")
	if err := trackPhase(PhaseSynthesize, func() (map[string]any, error) {
		draft, sErr := p.collab.Synthesizer.Synthesize(ctx, SynthesisRequest{
			Question:       clarified,
			Background:     result.Background,
			ReferenceClass: class,
			Parameters:     result.Parameters,
			Samples:        result.Samples,
			Calibration:    result.Calibration,
		})
		if sErr != nil {
			return nil, eris.Wrap(sErr, "forecast: synthesize")
		}
		meta := map[string]any{"draft_estimate": draft.FinalEstimate}
		if draft.Question == "" {
			draft.Question = clarified
		}
		draft.ApplyCalibration(result.Calibration)
		result.Forecast = draft
		return meta, nil
	}); err != nil {
		return fail(err)
	}

	// Phase 8: red team against a copy of the calibrated forecast.
	setStatus(model.RunStatusRedTeaming)
	p.buf.Write(buffer.SectionUser, "Red-teaming the forecast...")
	if err := trackPhase(PhaseRedTeam, func() (map[string]any, error) {
		rt, rtErr := p.collab.RedTeam.Challenge(ctx, RedTeamRequest{
			Question:       clarified,
			Background:     result.Background,
			References:     result.ReferenceClasses,
			ReferenceClass: class,
			Parameters:     result.Parameters,
			Samples:        result.Samples,
			Calibration:    cloneCalibration(result.Calibration),
			Forecast:       *result.Forecast,
		})
		if rtErr != nil {
			return nil, eris.Wrap(rtErr, "forecast: red team")
		}
		result.RedTeam = rt
		return map[string]any{"alternate_estimate": rt.AlternateEstimate}, nil
	}); err != nil {
		return fail(err)
	}

	// Phase 9: report and persistence.
	result.TokenUsage = tracker.Total()
	result.TotalCost = result.TokenUsage.Cost
	result.CompletedAt = p.now().UTC()
	result.Report = Render(result)
	p.buf.Write(buffer.SectionReport, result.Report)

	if err := p.store.UpdateRunResult(storeCtx, run.ID, result); err != nil {
		return fail(eris.Wrap(err, "forecast: persist result"))
	}
	metrics.ObserveRun(model.RunStatusComplete)
	for modelID, usage := range tracker.ByModel() {
		metrics.ObserveTokens(modelID, usage)
	}

	p.buf.Write(buffer.SectionUser, "Forecast completed.")
	log.Info("forecast: run complete",
		zap.Float64("probability", result.Calibration.FinalProbability),
		zap.Float64("cost_usd", result.TotalCost),
	)
	return result, nil
}

type phaseFunc func(name string, fn func() (map[string]any, error)) error

// clarifyAndValidate clarifies question, asking the user at most once for
// follow-up answers, then validates the clarified text.
func (p *Pipeline) clarifyAndValidate(ctx context.Context, question string, input InputProvider, interactive bool, track phaseFunc) (*model.QuestionClarification, *model.ForecastabilityCheck, error) {
	p.buf.Writef(buffer.SectionUser, "Question: %s", question)

	var clar *model.QuestionClarification
	err := track(PhaseClarify, func() (map[string]any, error) {
		c, err := p.collab.Clarifier.Clarify(ctx, question, "")
		if err != nil {
			return nil, eris.Wrap(err, "forecast: clarify")
		}
		asked := false
		if c.NeedsClarification && len(c.FollowUpQuestions) > 0 {
			asked = true
			answer := ""
			if interactive {
				p.buf.Write(buffer.SectionUser, "A few details would sharpen this question:")
				for i, q := range c.FollowUpQuestions {
					p.buf.Writef(buffer.SectionUser, "  %d. %s", i+1, q)
				}
				answer, err = input.Input(ctx, "Your answers (leave empty to use default assumptions): ")
				if err != nil {
					return nil, eris.Wrap(err, "forecast: read follow-up answers")
				}
			}
			answer = strings.TrimSpace(answer)
			if answer == "" {
				answer = DefaultFollowUpAnswer
			}
			c, err = p.collab.Clarifier.Clarify(ctx, question, answer)
			if err != nil {
				return nil, eris.Wrap(err, "forecast: clarify follow-up")
			}
		}
		if strings.TrimSpace(c.ClarifiedQuestion) == "" {
			c.ClarifiedQuestion = question
		}
		if c.OriginalQuestion == "" {
			c.OriginalQuestion = question
		}
		clar = c
		return map[string]any{"follow_up_asked": asked}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if clar.ClarifiedQuestion != question {
		p.buf.Writef(buffer.SectionUser, "Clarified question: %s", clar.ClarifiedQuestion)
	}

	var check *model.ForecastabilityCheck
	err = track(PhaseValidate, func() (map[string]any, error) {
		c, err := p.collab.Validator.Validate(ctx, clar.ClarifiedQuestion)
		if err != nil {
			return nil, eris.Wrap(err, "forecast: validate")
		}
		check = c
		return map[string]any{"forecastable": c.IsForecastable}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return clar, check, nil
}

// research fans out one researcher call per spec. Each goroutine owns its
// slot in the result slice; the first failure cancels the rest.
func (p *Pipeline) research(ctx context.Context, question string, bg *model.BackgroundInfo, class model.ReferenceClass, specs []model.ParameterSpec) ([]model.ParameterSample, error) {
	samples := make([]model.ParameterSample, len(specs))

	g, gCtx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			s, err := p.collab.Researcher.ResearchParameter(gCtx, ResearchRequest{
				Question:       question,
				Background:     bg,
				ReferenceClass: class,
				Parameter:      spec,
				AllParameters:  specs,
			})
			if err != nil {
				return eris.Wrapf(err, "forecast: research parameter %q", spec.Name)
			}
			if s == nil {
				return eris.Errorf("forecast: research parameter %q: empty sample", spec.Name)
			}
			if s.Name == "" {
				s.Name = spec.Name
			}
			if s.Name != spec.Name {
				return eris.Errorf("forecast: research parameter %q: sample named %q", spec.Name, s.Name)
			}
			samples[i] = *s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

func (p *Pipeline) writeBackground(bg *model.BackgroundInfo) {
	var b strings.Builder
	fmt.Fprintf(&b, "Background as of %s\n", bg.CurrentDate)
	writeList(&b, "Major recent events", bg.MajorRecentEvents)
	writeList(&b, "Key trends", bg.KeyTrends)
	writeList(&b, "Notable changes", bg.NotableChanges)
	if bg.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", bg.Summary)
	}
	p.buf.Write(buffer.SectionBackground, b.String())
}

func (p *Pipeline) writeParameterSpecs(specs []model.ParameterSpec) {
	var b strings.Builder
	b.WriteString("Parameters\n")
	for _, s := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		if s.ScaleDescription != "" {
			fmt.Fprintf(&b, "    scale: %s\n", s.ScaleDescription)
		}
		if len(s.InteractsWith) > 0 {
			fmt.Fprintf(&b, "    interacts with %s (%s)\n", strings.Join(s.InteractsWith, ", "), s.InteractionType)
		}
	}
	p.buf.Write(buffer.SectionParameters, b.String())
}

func (p *Pipeline) writeSamples(samples []model.ParameterSample) {
	var b strings.Builder
	b.WriteString("Research\n")
	for _, s := range samples {
		fmt.Fprintf(&b, "- %s: %.1f [%.1f, %.1f]", s.Name, s.Value, s.Low, s.High)
		if s.DeltaLogOdds != nil {
			fmt.Fprintf(&b, " delta %+.2f (%s)", *s.DeltaLogOdds, calibrate.EvidenceStrength(*s.DeltaLogOdds))
		}
		b.WriteString("\n")
		if s.Reasoning != "" {
			fmt.Fprintf(&b, "    %s\n", s.Reasoning)
		}
	}
	p.buf.Write(buffer.SectionParameters, b.String())
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func usageSince(before, after model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         after.InputTokens - before.InputTokens,
		OutputTokens:        after.OutputTokens - before.OutputTokens,
		CacheCreationTokens: after.CacheCreationTokens - before.CacheCreationTokens,
		CacheReadTokens:     after.CacheReadTokens - before.CacheReadTokens,
		Cost:                after.Cost - before.Cost,
	}
}

func cloneCalibration(c *model.CalibrationResult) model.CalibrationResult {
	cp := *c
	cp.ParameterContributions = make(map[string]float64, len(c.ParameterContributions))
	for k, v := range c.ParameterContributions {
		cp.ParameterContributions[k] = v
	}
	return cp
}

// IsRejection reports whether err is a validation rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnforecastable)
}
