package model

import "time"

// RunStatus represents the current state of a forecast run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusClarifying  RunStatus = "clarifying"
	RunStatusResearching RunStatus = "researching"
	RunStatusCalibrating RunStatus = "calibrating"
	RunStatusRedTeaming  RunStatus = "red_teaming"
	RunStatusComplete    RunStatus = "complete"
	RunStatusRejected    RunStatus = "rejected"
	RunStatusCanceled    RunStatus = "canceled"
	RunStatusFailed      RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusComplete, RunStatusRejected, RunStatusCanceled, RunStatusFailed:
		return true
	}
	return false
}

// Run represents a single forecast run for a question.
type Run struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Status     RunStatus       `json:"status"`
	Result     *ForecastResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Resolution *Resolution     `json:"resolution,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Resolution records how a forecast question actually turned out.
type Resolution struct {
	Outcome    bool      `json:"outcome"`
	Note       string    `json:"note,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}

// Total returns input plus output tokens.
func (t TokenUsage) Total() int {
	return t.InputTokens + t.OutputTokens
}
