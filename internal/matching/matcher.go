// Package matching scores extracted customer names against existing
// customers. The score is advisory; callers only rely on its ordering and on
// the threshold split into matched, review and not found.
package matching

import (
	"strings"
	"unicode"

	"billdesk/api/internal/importer"
)

const (
	// ReviewFloor is the lowest score that still yields a review suggestion.
	ReviewFloor = 0.5
	// MaxAlternatives caps the ranked suggestions attached to a review row.
	MaxAlternatives = 5
)

// Customer is a match target.
type Customer struct {
	ID     string
	Number string
	Name   string
	City   string
}

type Matcher struct {
	customers []Customer
	names     []string
}

func New(customers []Customer) *Matcher {
	names := make([]string, len(customers))
	for i, c := range customers {
		names[i] = normalizeName(c.Name)
	}
	return &Matcher{customers: customers, names: names}
}

// Match returns Matched when the best score reaches threshold, NeedsReview
// when it reaches ReviewFloor and NotFound otherwise.
func (m *Matcher) Match(customerNumber, customerName string, threshold float64) importer.Match {
	if number := strings.TrimSpace(customerNumber); number != "" {
		for _, c := range m.customers {
			if c.Number != "" && strings.EqualFold(c.Number, number) {
				return importer.Matched{
					CustomerID:   c.ID,
					Name:         c.Name,
					City:         c.City,
					Confidence:   1,
					OriginalName: customerName,
				}
			}
		}
	}

	target := normalizeName(customerName)
	var candidates []importer.Candidate
	for i, c := range m.customers {
		score := similarity(target, m.names[i])
		if score < ReviewFloor {
			continue
		}
		candidates = append(candidates, importer.Candidate{
			CustomerID: c.ID,
			Name:       c.Name,
			City:       c.City,
			Confidence: score,
		})
	}
	if len(candidates) == 0 {
		return importer.NotFound{OriginalName: customerName}
	}

	review := importer.NewNeedsReview(customerName, candidates)
	best := review.Alternatives[0]
	if best.Confidence >= threshold && unambiguous(review.Alternatives) {
		return importer.Matched{
			CustomerID:   best.CustomerID,
			Name:         best.Name,
			City:         best.City,
			Confidence:   best.Confidence,
			OriginalName: customerName,
		}
	}
	if len(review.Alternatives) > MaxAlternatives {
		review.Alternatives = review.Alternatives[:MaxAlternatives]
	}
	return review
}

// unambiguous rejects an auto-match when two customers tie for the top score.
func unambiguous(ranked []importer.Candidate) bool {
	return len(ranked) < 2 || ranked[0].Confidence > ranked[1].Confidence
}

var legalSuffixes = map[string]struct{}{
	"gmbh": {}, "ag": {}, "kg": {}, "co": {}, "ug": {}, "ohg": {}, "ev": {},
	"ltd": {}, "limited": {}, "inc": {}, "llc": {}, "corp": {}, "sa": {}, "sarl": {}, "bv": {},
}

func normalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := fields[:0]
	for _, f := range fields {
		if _, ok := legalSuffixes[f]; ok {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// similarity is the Dice coefficient over character bigrams.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ab := bigrams(a)
	bb := bigrams(b)
	if len(ab) == 0 || len(bb) == 0 {
		return 0
	}
	counts := make(map[string]int, len(ab))
	for _, g := range ab {
		counts[g]++
	}
	shared := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			shared++
		}
	}
	return float64(2*shared) / float64(len(ab)+len(bb))
}

func bigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}
