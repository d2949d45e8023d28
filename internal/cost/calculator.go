// Package cost prices the provider calls made during a forecast run.
package cost

import "github.com/sells-group/forecast-cli/internal/model"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       QueryRate            `yaml:"jina" mapstructure:"jina"`
	Perplexity QueryRate            `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// QueryRate is a flat per-request price.
type QueryRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude returns the USD cost of usage on model. Unknown models cost 0.
func (c *Calculator) Claude(modelID string, usage model.TokenUsage) float64 {
	rate, ok := c.rates.Anthropic[modelID]
	if !ok {
		return 0
	}

	in := (float64(usage.InputTokens) / 1e6) * rate.Input
	out := (float64(usage.OutputTokens) / 1e6) * rate.Output
	cw := (float64(usage.CacheCreationTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	cr := (float64(usage.CacheReadTokens) / 1e6) * rate.Input * rate.CacheReadMul
	return in + out + cw + cr
}

// PerplexityQuery returns the flat cost per Perplexity request.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.Perplexity.PerQuery
}

// JinaSearch returns the flat cost per Jina search.
func (c *Calculator) JinaSearch() float64 {
	return c.rates.Jina.PerQuery
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Jina:       QueryRate{PerQuery: 0.001},
		Perplexity: QueryRate{PerQuery: 0.005},
	}
}
