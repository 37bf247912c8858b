package domain

import "time"

// TermFilter narrows the eligible term set for an operation
type TermFilter struct {
	HasContent    *bool      `json:"has_content,omitempty" toml:"has_content"`
	AIGenerated   *bool      `json:"ai_generated,omitempty" toml:"ai_generated"`
	UpdatedBefore *time.Time `json:"updated_before,omitempty" toml:"updated_before"`
	UpdatedAfter  *time.Time `json:"updated_after,omitempty" toml:"updated_after"`
}

// ProcessingOptions control how batches are generated and dispatched
type ProcessingOptions struct {
	BatchSize            int     `json:"batch_size" toml:"batch_size"`
	Model                string  `json:"model" toml:"model"`
	Temperature          float64 `json:"temperature" toml:"temperature"`
	MaxOutputTokens      int     `json:"max_output_tokens" toml:"max_output_tokens"`
	Regenerate           bool    `json:"regenerate" toml:"regenerate"`
	MaxConcurrentBatches int     `json:"max_concurrent_batches" toml:"max_concurrent_batches"`
}

// CostLimits bound what an operation may spend
type CostLimits struct {
	MaxTotalCost   float64 `json:"max_total_cost" toml:"max_total_cost"`
	MaxCostPerTerm float64 `json:"max_cost_per_term" toml:"max_cost_per_term"`
	WarnThreshold  float64 `json:"warn_threshold" toml:"warn_threshold"`
}

// NotifyOptions select which outcomes trigger a notification
type NotifyOptions struct {
	OnComplete bool   `json:"on_complete" toml:"on_complete"`
	OnError    bool   `json:"on_error" toml:"on_error"`
	Webhook    string `json:"webhook,omitempty" toml:"webhook"`
}

// BatchRequest is the immutable configuration for a batch operation.
// It is validated once at submission and never mutated afterwards.
type BatchRequest struct {
	Section     string             `json:"section" toml:"section"`
	TermIDs     []string           `json:"term_ids,omitempty" toml:"term_ids"`
	Category    string             `json:"category,omitempty" toml:"category"`
	Filter      TermFilter         `json:"filter" toml:"filter"`
	Options     *ProcessingOptions `json:"options" toml:"options"`
	Limits      CostLimits         `json:"limits" toml:"limits"`
	Notify      NotifyOptions      `json:"notify" toml:"notify"`
	RequestedBy string             `json:"requested_by" toml:"requested_by"`
	SubmittedAt time.Time          `json:"submitted_at" toml:"submitted_at"`
}

// ConcurrentBatches returns the configured group width, defaulting to 2
func (r *BatchRequest) ConcurrentBatches() int {
	if r.Options == nil || r.Options.MaxConcurrentBatches <= 0 {
		return 2
	}
	return r.Options.MaxConcurrentBatches
}

// CostEstimate is a derived, read-only prediction for a request.
// It is recomputed on demand and never persisted as mutable state.
type CostEstimate struct {
	Section         string             `json:"section"`
	EligibleTerms   int                `json:"eligible_terms"`
	TokensPerTerm   int                `json:"tokens_per_term"`
	CostPerTerm     float64            `json:"cost_per_term"`
	TotalCost       float64            `json:"total_cost"`
	WorstCase       float64            `json:"worst_case"`
	BestCase        float64            `json:"best_case"`
	CostBreakdown   map[string]float64 `json:"cost_breakdown"`
	Recommendations []string           `json:"recommendations,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}
