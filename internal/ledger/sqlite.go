package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT NOT NULL,
    operation_ref TEXT,
    model TEXT NOT NULL,
    section TEXT,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0,
    requested_by TEXT,
    success BOOLEAN DEFAULT TRUE,
    metadata TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_usage_section ON usage_records(section);
CREATE INDEX IF NOT EXISTS idx_usage_created_at ON usage_records(created_at);
`

// Store provides SQLite-backed cost accounting
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordUsage appends one usage record
func (s *Store) RecordUsage(ctx context.Context, rec UsageRecord) error {
	var metaJSON sql.NullString
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return err
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (operation, operation_ref, model, section, input_tokens, output_tokens, cost, requested_by, success, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Operation,
		rec.OperationRef,
		rec.Model,
		rec.Section,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Cost,
		rec.RequestedBy,
		rec.Success,
		metaJSON,
		createdAt,
	)
	return err
}

// AverageTokensPerTerm returns the mean of input+output tokens over
// successful records for the section, 0 when no history exists
func (s *Store) AverageTokensPerTerm(ctx context.Context, section string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(input_tokens + output_tokens)
		FROM usage_records
		WHERE section = ? AND success = TRUE
	`, section).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// Summary aggregates today's ledger activity
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	dayStart := time.Now().Truncate(24 * time.Hour)

	sum := &Summary{ByModel: make(map[string]float64)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0), COALESCE(SUM(input_tokens + output_tokens), 0), COUNT(*)
		FROM usage_records WHERE created_at >= ?
	`, dayStart).Scan(&sum.TodayCost, &sum.TodayTokens, &sum.TodayRecords)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COALESCE(SUM(cost), 0)
		FROM usage_records WHERE created_at >= ?
		GROUP BY model
	`, dayStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var cost float64
		if err := rows.Scan(&model, &cost); err != nil {
			return nil, err
		}
		sum.ByModel[model] = cost
	}
	return sum, rows.Err()
}

var _ Ledger = (*Store)(nil)
