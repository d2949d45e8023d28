package forecast

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/forecast-cli/internal/calibrate"
	"github.com/sells-group/forecast-cli/internal/logodds"
	"github.com/sells-group/forecast-cli/internal/model"
)

const rule = "------------------------------------------------------------"

// Render formats a finished forecast as plain text: the final estimate,
// the log-odds walk from base rate to result, the reference classes and
// the red team critique.
func Render(res *model.ForecastResult) string {
	var b strings.Builder

	question := res.ClarifiedQuestion
	if question == "" {
		question = res.Question
	}
	fmt.Fprintf(&b, "FORECAST\n%s\n%s\n\n", rule, question)

	if f := res.Forecast; f != nil {
		fmt.Fprintf(&b, "Final estimate: %s (90%% CI %s to %s)\n", pct(f.FinalEstimate), pct(f.FinalLow), pct(f.FinalHigh))
		fmt.Fprintf(&b, "Base rate:      %s\n", pct(f.BaseRate))
		if len(f.KeyParameters) > 0 {
			fmt.Fprintf(&b, "Key parameters: %s\n", strings.Join(f.KeyParameters, ", "))
		}
		if f.Rationale != "" {
			fmt.Fprintf(&b, "\n%s\n", f.Rationale)
		}
	}

	if c := res.Calibration; c != nil {
		renderCalibration(&b, c)
	}
	if rc := res.ReferenceClasses; rc != nil {
		renderReferenceClasses(&b, rc)
	}
	if rt := res.RedTeam; rt != nil {
		renderRedTeam(&b, rt, res.Forecast)
	}
	if res.TotalCost > 0 || res.TokenUsage.Total() > 0 {
		fmt.Fprintf(&b, "\nTokens: %d in / %d out, cost $%.4f\n", res.TokenUsage.InputTokens, res.TokenUsage.OutputTokens, res.TotalCost)
	}
	return b.String()
}

func renderCalibration(b *strings.Builder, c *model.CalibrationResult) {
	fmt.Fprintf(b, "\nLOG-ODDS CALCULATION\n%s\n", rule)
	fmt.Fprintf(b, "Base rate %s -> log-odds %+.3f\n", pct(c.BaseRate), c.BaseLogOdds)

	steps := calibrate.Steps(c)
	if len(steps) == 0 {
		b.WriteString("No parameter adjustments.\n")
	}
	for _, s := range steps {
		fmt.Fprintf(b, "  %-28s %+.3f  %s -> %s  (%s)\n",
			s.Name, s.Delta, pct(s.ProbBefore), pct(s.ProbAfter), calibrate.EvidenceStrength(s.Delta))
	}

	if c.ScalingFactor < 1 {
		fmt.Fprintf(b, "Total shift exceeded the cap; contributions scaled by %.3f.\n", c.ScalingFactor)
	}
	if c.ConservatismApplied {
		pre := preConservatism(c)
		fmt.Fprintf(b, "Extreme log-odds %+.3f damped to %+.3f for conservatism.\n", pre, c.FinalLogOdds)
	}
	fmt.Fprintf(b, "Final log-odds %+.3f -> %s\n", c.FinalLogOdds, pct(c.FinalProbability))
}

// preConservatism recovers the aggregated log-odds before damping.
func preConservatism(c *model.CalibrationResult) float64 {
	l := c.BaseLogOdds
	for _, d := range c.ParameterContributions {
		l += d
	}
	return l
}

func renderReferenceClasses(b *strings.Builder, rc *model.ReferenceClassOutput) {
	fmt.Fprintf(b, "\nREFERENCE CLASSES\n%s\n", rule)
	for i, cls := range rc.Classes {
		marker := " "
		if i == rc.RecommendedIndex {
			marker = "*"
		}
		fmt.Fprintf(b, "%s %d. %s\n     base rate %s (%s to %s), n=%d\n",
			marker, i+1, cls.Description, pct(cls.BaseRate), pct(cls.Low), pct(cls.High), cls.SampleSize)
	}
	if rc.SelectionReasoning != "" {
		fmt.Fprintf(b, "Selection: %s\n", rc.SelectionReasoning)
	}
}

func renderRedTeam(b *strings.Builder, rt *model.RedTeamOutput, f *model.FinalForecast) {
	fmt.Fprintf(b, "\nRED TEAM\n%s\n", rule)
	fmt.Fprintf(b, "Alternate estimate: %s (%s to %s)", pct(rt.AlternateEstimate), pct(rt.AlternateLow), pct(rt.AlternateHigh))
	if f != nil {
		gap := logodds.Logit(rt.AlternateEstimate) - logodds.Logit(f.FinalEstimate)
		fmt.Fprintf(b, ", %+.2f log-odds from the forecast", gap)
	}
	b.WriteString("\n")
	if rt.StrongestObjection != "" {
		fmt.Fprintf(b, "Strongest objection: %s\n", rt.StrongestObjection)
	}
	for _, d := range rt.KeyDisagreements {
		fmt.Fprintf(b, "- %s\n", d)
	}
	if rt.Rationale != "" {
		fmt.Fprintf(b, "\n%s\n", rt.Rationale)
	}
}

func pct(p float64) string {
	v := p * 100
	if math.Abs(v-math.Round(v)) < 0.05 {
		return fmt.Sprintf("%.0f%%", v)
	}
	return fmt.Sprintf("%.1f%%", v)
}
