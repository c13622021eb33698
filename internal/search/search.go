package search

import "billdesk/api/internal/importer"

// Query describes a customer lookup.
type Query struct {
	Text       string
	ActiveOnly bool
	Limit      int
}

// CustomerRecord is the data we index for a customer.
type CustomerRecord struct {
	ID             string `json:"id"`
	CustomerNumber string `json:"customerNumber"`
	Name           string `json:"name"`
	City           string `json:"city"`
	Active         bool   `json:"active"`
}

func (r CustomerRecord) result() importer.CustomerSearchResult {
	return importer.CustomerSearchResult{ID: r.ID, Name: r.Name, City: r.City}
}

// Searcher can execute a customer search.
type Searcher interface {
	Search(q Query) ([]CustomerRecord, error)
	Healthy() bool
}

const defaultLimit = 20
