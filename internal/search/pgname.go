package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgName implements Searcher with a case-insensitive name match in
// PostgreSQL as a fallback.
type PgName struct {
	db *sql.DB
}

// NewPgName creates a PostgreSQL name searcher.
func NewPgName(db *sql.DB) *PgName {
	return &PgName{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgName) Healthy() bool {
	return true
}

// Search matches shared project names with ILIKE. Only shared projects
// (those with a non-empty shared name) are searchable.
func (p *PgName) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "p.shared_name <> '' AND p.shared_name ILIKE $1"
	if q.PublicOnly {
		where += " AND p.public"
	}
	pattern := "%" + escapeLike(q.Text) + "%"

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM projects p WHERE %s", where)
	if err := p.db.QueryRowContext(ctx, countSQL, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("name search count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.proj_id, p.shared_name, p.public,
			coalesce((SELECT min(user_name) FROM project_owners o WHERE o.proj_id = p.proj_id), '') AS owner
		FROM projects p
		WHERE %s
		ORDER BY p.shared_name
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("name search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ProjID, &r.SharedName, &r.Public, &r.Owner); err != nil {
			return nil, 0, fmt.Errorf("name search scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all shared projects for full reindexing.
func (p *PgName) LoadAllRecords(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.proj_id, p.shared_name, p.public,
			coalesce((SELECT min(user_name) FROM project_owners o WHERE o.proj_id = p.proj_id), '') AS owner
		FROM projects p
		WHERE p.shared_name <> ''
	`)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	defer rows.Close()

	records := make([]ProjectRecord, 0)
	for rows.Next() {
		var rec ProjectRecord
		if err := rows.Scan(&rec.ProjID, &rec.SharedName, &rec.Public, &rec.Owner); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
