package cost

import (
	"context"
	"sync"

	"github.com/sells-group/forecast-cli/internal/model"
)

// Tracker accumulates token usage and spend for a single run. It is safe
// for concurrent use by parallel research calls.
type Tracker struct {
	calc *Calculator

	mu      sync.Mutex
	total   model.TokenUsage
	byModel map[string]model.TokenUsage
}

// NewTracker creates a Tracker that prices usage with calc. A nil calc
// records tokens without cost.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc, byModel: make(map[string]model.TokenUsage)}
}

// AddClaude records usage for an Anthropic call and returns the priced usage.
func (t *Tracker) AddClaude(modelID string, usage model.TokenUsage) model.TokenUsage {
	if t.calc != nil {
		usage.Cost = t.calc.Claude(modelID, usage)
	}
	t.add(modelID, usage)
	return usage
}

// AddFlat records a flat-priced call such as a search query.
func (t *Tracker) AddFlat(provider string, price float64) {
	t.add(provider, model.TokenUsage{Cost: price})
}

func (t *Tracker) add(key string, usage model.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.Add(usage)
	m := t.byModel[key]
	m.Add(usage)
	t.byModel[key] = m
}

// Total returns the accumulated usage.
func (t *Tracker) Total() model.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByModel returns a copy of usage keyed by model or provider.
func (t *Tracker) ByModel() map[string]model.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]model.TokenUsage, len(t.byModel))
	for k, v := range t.byModel {
		out[k] = v
	}
	return out
}

// Calculator returns the tracker's pricing calculator, or nil.
func (t *Tracker) Calculator() *Calculator {
	return t.calc
}

type trackerKey struct{}

// WithTracker returns a context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the Tracker in ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
