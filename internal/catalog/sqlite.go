package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS terms (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_terms_name ON terms(name);
CREATE INDEX IF NOT EXISTS idx_terms_category ON terms(category);

CREATE TABLE IF NOT EXISTS term_sections (
    term_id TEXT NOT NULL REFERENCES terms(id),
    section TEXT NOT NULL,
    content TEXT,
    ai_generated BOOLEAN DEFAULT FALSE,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (term_id, section)
);

CREATE INDEX IF NOT EXISTS idx_term_sections_section ON term_sections(section);
`

// Store provides SQLite-backed catalog access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
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

// ListTerms returns {id, name} pairs matching the query, ordered by name
// and capped at MaxQueryRows
func (s *Store) ListTerms(ctx context.Context, q Query) ([]TermRef, error) {
	query := `
		SELECT t.id, t.name FROM terms t
		LEFT JOIN term_sections s ON s.term_id = t.id AND s.section = ?
		WHERE 1=1`
	args := []interface{}{q.Section}

	if len(q.TermIDs) > 0 {
		query += " AND t.id IN (?" // at least one placeholder
		args = append(args, q.TermIDs[0])
		for _, id := range q.TermIDs[1:] {
			query += ", ?"
			args = append(args, id)
		}
		query += ")"
	}
	if q.Category != "" {
		query += " AND t.category = ?"
		args = append(args, q.Category)
	}
	if q.Filter.HasContent != nil {
		if *q.Filter.HasContent {
			query += " AND s.content IS NOT NULL AND s.content != ''"
		} else {
			query += " AND (s.content IS NULL OR s.content = '')"
		}
	}
	if q.Filter.AIGenerated != nil {
		query += " AND COALESCE(s.ai_generated, 0) = ?"
		args = append(args, *q.Filter.AIGenerated)
	}
	if q.Filter.UpdatedAfter != nil {
		query += " AND s.updated_at > ?"
		args = append(args, *q.Filter.UpdatedAfter)
	}
	if q.Filter.UpdatedBefore != nil {
		query += " AND s.updated_at < ?"
		args = append(args, *q.Filter.UpdatedBefore)
	}
	if !q.Regenerate && q.Filter.HasContent == nil {
		// Without the regenerate flag, terms that already carry content
		// for the section are skipped
		query += " AND (s.content IS NULL OR s.content = '')"
	}

	query += fmt.Sprintf(" ORDER BY t.name LIMIT %d", MaxQueryRows)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []TermRef
	for rows.Next() {
		var t TermRef
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// UpsertTerm inserts or updates a catalog term
func (s *Store) UpsertTerm(id, name, category string) error {
	_, err := s.db.Exec(`
		INSERT INTO terms (id, name, category, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			updated_at = excluded.updated_at
	`, id, name, category, time.Now())
	return err
}

// UpsertSection inserts or updates one term's section content
func (s *Store) UpsertSection(termID, section, content string, aiGenerated bool) error {
	_, err := s.db.Exec(`
		INSERT INTO term_sections (term_id, section, content, ai_generated, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(term_id, section) DO UPDATE SET
			content = excluded.content,
			ai_generated = excluded.ai_generated,
			updated_at = excluded.updated_at
	`, termID, section, content, aiGenerated, time.Now())
	return err
}

// DeleteTerm removes a term and its sections
func (s *Store) DeleteTerm(id string) error {
	if _, err := s.db.Exec(`DELETE FROM term_sections WHERE term_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM terms WHERE id = ?`, id)
	return err
}

var _ Catalog = (*Store)(nil)
