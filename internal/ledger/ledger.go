// Package ledger records per-term AI usage and serves the historical
// averages the cost estimator refines its static baselines with.
package ledger

import (
	"context"
	"time"
)

// UsageRecord is one unit of recorded AI spend
type UsageRecord struct {
	Operation    string            `json:"operation"`
	OperationRef string            `json:"operation_ref,omitempty"`
	Model        string            `json:"model"`
	Section      string            `json:"section"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	Cost         float64           `json:"cost"`
	RequestedBy  string            `json:"requested_by"`
	Success      bool              `json:"success"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Summary aggregates today's ledger activity
type Summary struct {
	TodayCost    float64            `json:"today_cost"`
	TodayTokens  int                `json:"today_tokens"`
	TodayRecords int                `json:"today_records"`
	ByModel      map[string]float64 `json:"by_model"`
}

// Ledger is the cost-accounting contract consumed by the engine
type Ledger interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error

	// AverageTokensPerTerm returns the mean total tokens per term over
	// successful prior records for the section, or 0 with no history
	AverageTokensPerTerm(ctx context.Context, section string) (float64, error)

	Summary(ctx context.Context) (*Summary, error)
}
