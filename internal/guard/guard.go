// Package guard validates batch requests and enforces global rate
// limits before any operation state is created. Rejection never mutates
// shared state.
package guard

import (
	"fmt"
	"time"

	"github.com/glosshq/glossgen/internal/domain"
)

// Limits configures the guard's global bounds
type Limits struct {
	MaxBatchSize            int `toml:"max_batch_size"`
	MaxConcurrentOperations int `toml:"max_concurrent_operations"`
	MaxOperationsPerHour    int `toml:"max_operations_per_hour"`
}

// DefaultLimits returns the stock global bounds
func DefaultLimits() Limits {
	return Limits{
		MaxBatchSize:            50,
		MaxConcurrentOperations: 5,
		MaxOperationsPerHour:    20,
	}
}

// ActivityCounter is the live registry view the rate limiter reads.
// Counts must come from the registry itself, never a cache.
type ActivityCounter interface {
	ActiveCount() int
	CountStartedSince(cutoff time.Time) int
}

// ModelChecker reports whether a model identifier is supported
type ModelChecker interface {
	SupportedModel(model string) bool
}

// Guard validates requests and enforces rate limits
type Guard struct {
	limits  Limits
	counter ActivityCounter
	models  ModelChecker
	now     func() time.Time
}

// New creates a Guard. Zero-valued limits fall back to defaults.
func New(limits Limits, counter ActivityCounter, models ModelChecker) *Guard {
	def := DefaultLimits()
	if limits.MaxBatchSize <= 0 {
		limits.MaxBatchSize = def.MaxBatchSize
	}
	if limits.MaxConcurrentOperations <= 0 {
		limits.MaxConcurrentOperations = def.MaxConcurrentOperations
	}
	if limits.MaxOperationsPerHour <= 0 {
		limits.MaxOperationsPerHour = def.MaxOperationsPerHour
	}
	return &Guard{limits: limits, counter: counter, models: models, now: time.Now}
}

// MaxBatchSize exposes the configured global batch-size cap
func (g *Guard) MaxBatchSize() int {
	return g.limits.MaxBatchSize
}

// Validate checks the request shape. It fails with ValidationError and
// touches nothing.
func (g *Guard) Validate(req *domain.BatchRequest) error {
	if req.Section == "" {
		return &domain.ValidationError{Field: "section", Reason: "must not be empty"}
	}
	if req.Options == nil {
		return &domain.ValidationError{Field: "options", Reason: "processing options are required"}
	}
	if req.Options.BatchSize < 1 || req.Options.BatchSize > g.limits.MaxBatchSize {
		return &domain.ValidationError{
			Field:  "options.batch_size",
			Reason: fmt.Sprintf("must be in [1, %d]", g.limits.MaxBatchSize),
		}
	}
	if g.models != nil && !g.models.SupportedModel(req.Options.Model) {
		return &domain.ValidationError{
			Field:  "options.model",
			Reason: fmt.Sprintf("unsupported model %q", req.Options.Model),
		}
	}
	if req.Options.Temperature < 0 || req.Options.Temperature > 2 {
		return &domain.ValidationError{Field: "options.temperature", Reason: "must be in [0, 2]"}
	}
	if req.Options.MaxOutputTokens < 1 || req.Options.MaxOutputTokens > 4000 {
		return &domain.ValidationError{Field: "options.max_output_tokens", Reason: "must be in [1, 4000]"}
	}
	if req.RequestedBy == "" {
		return &domain.ValidationError{Field: "requested_by", Reason: "requester identity is required"}
	}
	return nil
}

// CheckRateLimits fails with RateLimitError when global concurrency or
// hourly bounds are exhausted
func (g *Guard) CheckRateLimits() error {
	if active := g.counter.ActiveCount(); active >= g.limits.MaxConcurrentOperations {
		return &domain.RateLimitError{
			Reason: fmt.Sprintf("%d operations already active (max %d)", active, g.limits.MaxConcurrentOperations),
		}
	}
	cutoff := g.now().Add(-time.Hour)
	if recent := g.counter.CountStartedSince(cutoff); recent >= g.limits.MaxOperationsPerHour {
		return &domain.RateLimitError{
			Reason: fmt.Sprintf("%d operations started in the last hour (max %d)", recent, g.limits.MaxOperationsPerHour),
		}
	}
	return nil
}
