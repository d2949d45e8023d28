// Package agent implements the forecast collaborators on top of Claude,
// with optional Perplexity background research and Jina search snippets.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/cost"
	"github.com/sells-group/forecast-cli/internal/forecast"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/pkg/anthropic"
	"github.com/sells-group/forecast-cli/pkg/jina"
	"github.com/sells-group/forecast-cli/pkg/perplexity"
)

// ErrMalformedResponse is wrapped by MalformedError.
var ErrMalformedResponse = eris.New("agent: malformed response")

// MalformedError reports model output that is not valid JSON or does not
// match the stage's schema.
type MalformedError struct {
	Stage string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("agent: %s: malformed response: %v", e.Stage, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedResponse
}

// Config selects models and generation settings.
type Config struct {
	Model         string
	FastModel     string
	MaxTokens     int64
	Temperature   float64
	SearchResults int
	CacheSize     int
}

// Agents implements every forecast collaborator.
type Agents struct {
	llm     anthropic.Client
	pplx    perplexity.Client
	search  jina.Client
	cfg     Config
	schemas schemas
	bgCache *lru.Cache[string, *model.BackgroundInfo]
}

// Option configures Agents.
type Option func(*Agents)

// WithPerplexity routes background research through Perplexity.
func WithPerplexity(c perplexity.Client) Option {
	return func(a *Agents) { a.pplx = c }
}

// WithSearch enables Jina search snippets in research prompts.
func WithSearch(c jina.Client) Option {
	return func(a *Agents) { a.search = c }
}

// New creates Agents backed by llm.
func New(llm anthropic.Client, cfg Config, opts ...Option) (*Agents, error) {
	if llm == nil {
		return nil, eris.New("agent: anthropic client is required")
	}
	if cfg.Model == "" {
		return nil, eris.New("agent: model is required")
	}
	if cfg.FastModel == "" {
		cfg.FastModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.SearchResults <= 0 {
		cfg.SearchResults = 5
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}

	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *model.BackgroundInfo](cfg.CacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "agent: create background cache")
	}

	a := &Agents{llm: llm, cfg: cfg, schemas: compiled, bgCache: cache}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Collaborators returns a bundle with a in every slot.
func (a *Agents) Collaborators() forecast.Collaborators {
	return forecast.Collaborators{
		Validator:   a,
		Clarifier:   a,
		Background:  a,
		References:  a,
		Designer:    a,
		Researcher:  a,
		Synthesizer: a,
		RedTeam:     a,
	}
}

// complete sends one system+user exchange to Claude and decodes the JSON
// answer into out after schema validation.
func (a *Agents) complete(ctx context.Context, stage, modelID, system, user, schema string, out any) error {
	temp := a.cfg.Temperature
	resp, err := a.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       modelID,
		MaxTokens:   a.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return eris.Wrapf(err, "agent: %s", stage)
	}

	a.recordUsage(ctx, stage, modelID, resp.Usage)

	text := cleanJSON(resp.Text())
	if text == "" {
		return &MalformedError{Stage: stage, Err: eris.New("empty response")}
	}
	if err := a.schemas.decode(schema, []byte(text), out); err != nil {
		zap.L().Debug("agent: rejected response",
			zap.String("stage", stage),
			zap.String("text", truncate(text, 500)),
			zap.Error(err),
		)
		return &MalformedError{Stage: stage, Err: err}
	}
	return nil
}

func (a *Agents) recordUsage(ctx context.Context, stage, modelID string, u anthropic.TokenUsage) {
	u.LogCost(modelID, stage)
	if t := cost.FromContext(ctx); t != nil {
		t.AddClaude(modelID, model.TokenUsage{
			InputTokens:         int(u.InputTokens),
			OutputTokens:        int(u.OutputTokens),
			CacheCreationTokens: int(u.CacheCreationInputTokens),
			CacheReadTokens:     int(u.CacheReadInputTokens),
		})
	}
}

// snippets searches the web for query and formats the results for a
// prompt. Search is an enrichment: failures are logged and yield "".
func (a *Agents) snippets(ctx context.Context, query string) string {
	if a.search == nil {
		return ""
	}
	resp, err := a.search.Search(ctx, query, jina.WithLimit(a.cfg.SearchResults))
	if t := cost.FromContext(ctx); t != nil {
		price := 0.0
		if calc := t.Calculator(); calc != nil {
			price = calc.JinaSearch()
		}
		t.AddFlat("jina", price)
	}
	if err != nil {
		zap.L().Warn("agent: search failed", zap.String("query", query), zap.Error(err))
		return ""
	}
	if len(resp.Data) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Web search results:\n")
	for i, r := range resp.Data {
		body := r.Description
		if body == "" {
			body = r.Content
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, truncate(body, 600))
	}
	return b.String()
}

// contextBlock renders a labelled JSON section for a user prompt.
func contextBlock(label string, v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%s: %v\n", label, v)
	}
	return fmt.Sprintf("%s:\n%s\n", label, data)
}

// cleanJSON extracts a JSON object from text that may contain markdown
// code fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
