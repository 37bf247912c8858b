// Package estimator predicts token usage and dollar cost for a batch
// request before any operation is created.
package estimator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/glosshq/glossgen/internal/catalog"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/ledger"
)

// ModelRate prices one model in dollars per 1K tokens
type ModelRate struct {
	InputPer1K  float64 `toml:"input_per_1k"`
	OutputPer1K float64 `toml:"output_per_1k"`
}

// DefaultRates covers the models the engine supports out of the box
var DefaultRates = map[string]ModelRate{
	"gpt-4o":       {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":  {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4.1-mini": {InputPer1K: 0.0004, OutputPer1K: 0.0016},
	"o4-mini":      {InputPer1K: 0.0011, OutputPer1K: 0.0044},
	"gemini-flash": {InputPer1K: 0.000075, OutputPer1K: 0.0003},
}

// sectionBaselines holds static per-section token estimates; sections
// not listed fall back to defaultBaselineTokens
var sectionBaselines = map[string]int{
	"definition": 150,
	"example":    200,
	"usage":      180,
	"etymology":  220,
	"faq":        300,
}

const defaultBaselineTokens = 250

// Input and output token shares of a per-term estimate
const (
	inputShare  = 0.3
	outputShare = 0.7
)

// Estimator computes cost estimates from static baselines refined by
// ledger history
type Estimator struct {
	catalog catalog.Catalog
	ledger  ledger.Ledger
	rates   map[string]ModelRate
}

// New creates an Estimator. A nil rates map uses DefaultRates.
func New(cat catalog.Catalog, led ledger.Ledger, rates map[string]ModelRate) *Estimator {
	if rates == nil {
		rates = DefaultRates
	}
	return &Estimator{catalog: cat, ledger: led, rates: rates}
}

// SupportedModel reports whether a model has a rate entry
func (e *Estimator) SupportedModel(model string) bool {
	_, ok := e.rates[model]
	return ok
}

// BaselineTokens returns the static per-term token estimate for a section
func BaselineTokens(section string) int {
	if t, ok := sectionBaselines[section]; ok {
		return t
	}
	return defaultBaselineTokens
}

// Estimate predicts the cost of running the request. Fails with
// NoEligibleTermsError when the filtered term set is empty.
func (e *Estimator) Estimate(ctx context.Context, req *domain.BatchRequest) (*domain.CostEstimate, error) {
	terms, err := e.catalog.ListTerms(ctx, catalog.QueryForRequest(req))
	if err != nil {
		return nil, fmt.Errorf("listing eligible terms: %w", err)
	}
	if len(terms) == 0 {
		return nil, &domain.NoEligibleTermsError{Section: req.Section}
	}

	tokens := float64(BaselineTokens(req.Section))
	if e.ledger != nil {
		hist, err := e.ledger.AverageTokensPerTerm(ctx, req.Section)
		if err != nil {
			return nil, fmt.Errorf("reading historical usage: %w", err)
		}
		// Never refine downwards: underestimating is worse than leaving
		// the baseline alone
		tokens = math.Max(hist, tokens)
	}

	model := ""
	if req.Options != nil {
		model = req.Options.Model
	}
	rate, ok := e.rates[model]
	if !ok {
		return nil, &domain.ValidationError{Field: "options.model", Reason: fmt.Sprintf("unsupported model %q", model)}
	}

	costPerTerm := tokens*inputShare*rate.InputPer1K/1000 + tokens*outputShare*rate.OutputPer1K/1000
	total := costPerTerm * float64(len(terms))

	est := &domain.CostEstimate{
		Section:       req.Section,
		EligibleTerms: len(terms),
		TokensPerTerm: int(math.Round(tokens)),
		CostPerTerm:   costPerTerm,
		TotalCost:     total,
		WorstCase:     total * 1.5,
		BestCase:      total * 0.7,
		CostBreakdown: map[string]float64{model: total},
		GeneratedAt:   time.Now(),
	}
	est.Recommendations = e.recommend(req, est)
	return est, nil
}

// recommend emits non-binding advisory strings; nothing here is enforced
func (e *Estimator) recommend(req *domain.BatchRequest, est *domain.CostEstimate) []string {
	var recs []string

	if est.EligibleTerms > 500 {
		recs = append(recs, fmt.Sprintf("%d terms is a large run; consider smaller batches or an explicit term list", est.EligibleTerms))
	}
	if est.TotalCost > 100 {
		recs = append(recs, fmt.Sprintf("estimated cost $%.2f exceeds $100; consider a cheaper model", est.TotalCost))
	}
	if limit := req.Limits.MaxTotalCost; limit > 0 && est.TotalCost > limit {
		recs = append(recs, fmt.Sprintf("estimated cost $%.2f exceeds the configured limit $%.2f; the operation will stop early", est.TotalCost, limit))
	}
	return recs
}
