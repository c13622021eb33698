package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type MatchStatus string

const (
	StatusMatched  MatchStatus = "matched"
	StatusReview   MatchStatus = "review"
	StatusNotFound MatchStatus = "not_found"
)

// Match is the matcher's verdict for one proposal. It is one of Matched,
// NeedsReview or NotFound; a nil Match means the row was never matched.
type Match interface {
	Status() MatchStatus
	Score() float64
	Extracted() string
	isMatch()
}

// Candidate is a ranked customer suggestion.
type Candidate struct {
	CustomerID string  `json:"customerId"`
	Name       string  `json:"name"`
	City       string  `json:"city"`
	Confidence float64 `json:"confidence"`
}

// Matched carries the customer the matcher is confident about.
type Matched struct {
	CustomerID   string
	Name         string
	City         string
	Confidence   float64
	OriginalName string
}

func (Matched) Status() MatchStatus { return StatusMatched }
func (m Matched) Score() float64 { return m.Confidence }
func (m Matched) Extracted() string { return m.OriginalName }
func (Matched) isMatch() {}

// NeedsReview carries ranked alternatives, highest confidence first.
type NeedsReview struct {
	Confidence   float64
	OriginalName string
	Alternatives []Candidate
}

func (NeedsReview) Status() MatchStatus { return StatusReview }
func (m NeedsReview) Score() float64 { return m.Confidence }
func (m NeedsReview) Extracted() string { return m.OriginalName }
func (NeedsReview) isMatch() {}

// Top returns the best alternative.
func (m NeedsReview) Top() (Candidate, bool) {
	if len(m.Alternatives) == 0 {
		return Candidate{}, false
	}
	return m.Alternatives[0], true
}

type NotFound struct {
	OriginalName string
}

func (NotFound) Status() MatchStatus { return StatusNotFound }
func (NotFound) Score() float64 { return 0 }
func (m NotFound) Extracted() string { return m.OriginalName }
func (NotFound) isMatch() {}

// NewNeedsReview builds a review verdict with alternatives sorted by
// descending confidence. The verdict confidence is the top alternative's.
func NewNeedsReview(originalName string, alternatives []Candidate) NeedsReview {
	ranked := append([]Candidate(nil), alternatives...)
	sortCandidates(ranked)
	review := NeedsReview{OriginalName: originalName, Alternatives: ranked}
	if len(ranked) > 0 {
		review.Confidence = ranked[0].Confidence
	}
	return review
}

func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
}

var ErrInvalidMatch = errors.New("invalid match result")

type matchJSON struct {
	Status       MatchStatus `json:"status"`
	CustomerID   *string     `json:"customerId"`
	CustomerName *string     `json:"customerName"`
	CustomerCity *string     `json:"customerCity"`
	Confidence   float64     `json:"confidence"`
	OriginalName string      `json:"originalName"`
	Alternatives []Candidate `json:"alternatives"`
}

func encodeMatch(m Match) *matchJSON {
	switch v := m.(type) {
	case Matched:
		return &matchJSON{
			Status:       StatusMatched,
			CustomerID:   &v.CustomerID,
			CustomerName: &v.Name,
			CustomerCity: &v.City,
			Confidence:   v.Confidence,
			OriginalName: v.OriginalName,
			Alternatives: []Candidate{},
		}
	case NeedsReview:
		alternatives := v.Alternatives
		if alternatives == nil {
			alternatives = []Candidate{}
		}
		return &matchJSON{
			Status:       StatusReview,
			Confidence:   v.Confidence,
			OriginalName: v.OriginalName,
			Alternatives: alternatives,
		}
	case NotFound:
		return &matchJSON{
			Status:       StatusNotFound,
			OriginalName: v.OriginalName,
			Alternatives: []Candidate{},
		}
	default:
		return nil
	}
}

func decodeMatch(raw *matchJSON) (Match, error) {
	if raw == nil {
		return nil, nil
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrInvalidMatch, raw.Confidence)
	}
	switch raw.Status {
	case StatusMatched:
		if raw.CustomerID == nil || *raw.CustomerID == "" {
			return nil, fmt.Errorf("%w: matched without customer id", ErrInvalidMatch)
		}
		m := Matched{
			CustomerID:   *raw.CustomerID,
			Confidence:   raw.Confidence,
			OriginalName: raw.OriginalName,
		}
		if raw.CustomerName != nil {
			m.Name = *raw.CustomerName
		}
		if raw.CustomerCity != nil {
			m.City = *raw.CustomerCity
		}
		return m, nil
	case StatusReview:
		review := NewNeedsReview(raw.OriginalName, raw.Alternatives)
		review.Confidence = raw.Confidence
		return review, nil
	case StatusNotFound:
		return NotFound{OriginalName: raw.OriginalName}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidMatch, raw.Status)
	}
}

// MarshalJSON writes the match verdict under "matchResult".
func (p Proposal) MarshalJSON() ([]byte, error) {
	type plain Proposal
	return json.Marshal(struct {
		plain
		MatchResult *matchJSON `json:"matchResult"`
	}{plain: plain(p), MatchResult: encodeMatch(p.Match)})
}

func (p *Proposal) UnmarshalJSON(data []byte) error {
	type plain Proposal
	aux := struct {
		*plain
		MatchResult *matchJSON `json:"matchResult"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m, err := decodeMatch(aux.MatchResult)
	if err != nil {
		return fmt.Errorf("proposal %s: %w", p.ID, err)
	}
	p.Match = m
	return nil
}
