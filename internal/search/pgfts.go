package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the entries fts column with ts_headline
// snippets, ranked by ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM entries e
		WHERE e.user_id = $1 AND e.fts @@ plainto_tsquery('english', $2)`,
		q.UserID, q.Text,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT e.id, e.title,
			ts_headline('english', coalesce(e.content, ''), plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM entries e
		WHERE e.user_id = $1 AND e.fts @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(e.fts, plainto_tsquery('english', $2)) DESC
		LIMIT %d OFFSET %d`, limit, offset),
		q.UserID, q.Text,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.EntryID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every entry with its tag names, used to rebuild the
// Meilisearch index when it comes back empty.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EntryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.user_id, e.title, e.content,
			coalesce(array_to_string(array_agg(t.name) FILTER (WHERE t.name IS NOT NULL), ','), '')
		FROM entries e
		LEFT JOIN entry_tags et ON et.entry_id = e.id
		LEFT JOIN tags t ON t.id = et.tag_id
		GROUP BY e.id`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	records := make([]EntryRecord, 0)
	for rows.Next() {
		var r EntryRecord
		var tagCSV string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Title, &r.Content, &tagCSV); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if tagCSV != "" {
			r.Tags = strings.Split(tagCSV, ",")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return records, nil
}
