package importer

import (
	"fmt"
	"strings"
	"unicode"
)

// Summary counts proposals by bucket. AutoMatched, NeedsReview, NotFound and
// AlreadyImported partition TotalProposals; already imported rows are counted
// only in AlreadyImported.
type Summary struct {
	TotalProposals  int `json:"totalProposals"`
	AutoMatched     int `json:"autoMatched"`
	NeedsReview     int `json:"needsReview"`
	NotFound        int `json:"notFound"`
	TotalItems      int `json:"totalItems"`
	AlreadyImported int `json:"alreadyImported"`
}

func Summarize(proposals []Proposal) Summary {
	summary := Summary{TotalProposals: len(proposals)}
	for _, p := range proposals {
		summary.TotalItems += len(p.Items)
		if p.AlreadyImported() {
			summary.AlreadyImported++
			continue
		}
		switch m := p.Match; {
		case m == nil:
			summary.NotFound++
		case m.Status() == StatusMatched:
			summary.AutoMatched++
		case m.Status() == StatusReview:
			summary.NeedsReview++
		default:
			summary.NotFound++
		}
	}
	return summary
}

// Validate checks that the buckets account for every proposal.
func (s Summary) Validate() error {
	sum := s.AutoMatched + s.NeedsReview + s.NotFound + s.AlreadyImported
	if sum != s.TotalProposals {
		return fmt.Errorf("summary buckets add up to %d, want %d", sum, s.TotalProposals)
	}
	return nil
}

// DeriveCity extracts a display city from a postal address such as
// "Hauptstr. 1, 10115 Berlin" or "12 Main St\nSpringfield".
func DeriveCity(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	parts := strings.FieldsFunc(address, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	if len(parts) == 0 {
		return ""
	}
	last := strings.TrimSpace(parts[len(parts)-1])
	fields := strings.Fields(last)
	for len(fields) > 1 && isPostalCode(fields[0]) {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func isPostalCode(token string) bool {
	hasDigit := false
	for _, r := range token {
		if unicode.IsDigit(r) {
			hasDigit = true
			continue
		}
		if r != '-' && !unicode.IsUpper(r) {
			return false
		}
	}
	return hasDigit
}
