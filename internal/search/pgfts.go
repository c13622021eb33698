package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"billdesk/api/internal/importer"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. Without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches every term as a prefix against the customer fts column and
// falls back to a substring match on the name.
func (p *PgFTS) Search(q Query) ([]CustomerRecord, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	where := "(c.name ILIKE '%' || $2 || '%' OR c.customer_number ILIKE $2 || '%')"
	tsQuery := prefixQuery(text)
	if tsQuery != "" {
		where = "(c.fts @@ to_tsquery('simple', $1) OR " + where + ")"
	}
	if q.ActiveOnly {
		where += " AND c.active"
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.customer_number, c.name, c.address, c.active
		FROM customers c
		WHERE %s
		ORDER BY ts_rank(c.fts, to_tsquery('simple', $1)) DESC, c.name
		LIMIT %d`, where, limit)
	if tsQuery == "" {
		tsQuery = "''"
	}

	rows, err := p.db.QueryContext(context.Background(), query, tsQuery, escapeLike(text))
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []CustomerRecord
	for rows.Next() {
		var r CustomerRecord
		var address string
		if err := rows.Scan(&r.ID, &r.CustomerNumber, &r.Name, &address, &r.Active); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		r.City = importer.DeriveCity(address)
		results = append(results, r)
	}
	return results, rows.Err()
}

// prefixQuery turns "acme gm" into "acme:* & gm:*".
func prefixQuery(text string) string {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, term := range terms {
		terms[i] = term + ":*"
	}
	return strings.Join(terms, " & ")
}

func escapeLike(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(text)
}

// LoadAllRecords returns all customers for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CustomerRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, customer_number, name, address, active
		FROM customers
	`)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	defer rows.Close()

	records := make([]CustomerRecord, 0)
	for rows.Next() {
		var r CustomerRecord
		var address string
		if err := rows.Scan(&r.ID, &r.CustomerNumber, &r.Name, &address, &r.Active); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		r.City = importer.DeriveCity(address)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return records, nil
}
