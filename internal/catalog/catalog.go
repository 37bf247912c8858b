// Package catalog provides read-only access to the term catalog. The
// engine only ever needs {id, name} pairs matching a filter; content
// itself lives with the CMS.
package catalog

import (
	"context"

	"github.com/glosshq/glossgen/internal/domain"
)

// MaxQueryRows caps any single eligible-term query
const MaxQueryRows = 10000

// TermRef identifies one catalog term
type TermRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Query selects eligible terms for a batch operation
type Query struct {
	Section    string
	TermIDs    []string
	Category   string
	Filter     domain.TermFilter
	Regenerate bool
}

// Catalog is the read-only term catalog contract. Results are ordered
// deterministically by name and capped at MaxQueryRows.
type Catalog interface {
	ListTerms(ctx context.Context, q Query) ([]TermRef, error)
}

// QueryForRequest builds the catalog query for a batch request
func QueryForRequest(req *domain.BatchRequest) Query {
	q := Query{
		Section:  req.Section,
		TermIDs:  req.TermIDs,
		Category: req.Category,
		Filter:   req.Filter,
	}
	if req.Options != nil {
		q.Regenerate = req.Options.Regenerate
	}
	return q
}
