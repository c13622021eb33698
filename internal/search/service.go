package search

import (
	"context"
	"log"
	"strings"

	"billdesk/api/internal/importer"
)

type recordSource interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]CustomerRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili    *Meili
	fallback recordSource
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{meili: meili}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

// SearchCustomers never fails: backend errors are logged and reported as no
// results so a resolver keeps working while search is degraded.
func (s *Service) SearchCustomers(ctx context.Context, term string, activeOnly bool) []importer.CustomerSearchResult {
	q := Query{Text: strings.TrimSpace(term), ActiveOnly: activeOnly}
	if q.Text == "" {
		return []importer.CustomerSearchResult{}
	}

	if s.meili != nil && s.meili.Healthy() {
		records, err := s.meili.Search(q)
		if err == nil {
			return toResults(records)
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil || ctx.Err() != nil {
		return []importer.CustomerSearchResult{}
	}
	records, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return []importer.CustomerSearchResult{}
	}
	return toResults(records)
}

// ReindexFromPG pushes every customer from PostgreSQL into Meilisearch.
func (s *Service) ReindexFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexCustomers(records); err != nil {
		log.Printf("search: reindex customers: %v", err)
		return
	}
	log.Printf("search: reindexed %d customers", len(records))
}

func toResults(records []CustomerRecord) []importer.CustomerSearchResult {
	results := make([]importer.CustomerSearchResult, 0, len(records))
	for _, r := range records {
		results = append(results, r.result())
	}
	return results
}
