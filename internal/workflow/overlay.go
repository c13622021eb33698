package workflow

import "billdesk/api/internal/importer"

// LocalApproval is the reviewer's uncommitted decision for one proposal. The
// cached customer name and city are only used for display.
type LocalApproval struct {
	Approved           bool
	SelectedCustomerID string
	CustomerName       string
	CustomerCity       string
}

// Overlay holds local decisions keyed by proposal id on top of an immutable
// session snapshot. A proposal without an entry is undecided.
type Overlay struct {
	entries map[string]LocalApproval
}

func NewOverlay() Overlay {
	return Overlay{entries: map[string]LocalApproval{}}
}

// Seed approves every proposal the matcher resolved with at least threshold
// confidence, unless it was imported before.
func Seed(item importer.ImportSession, threshold float64) Overlay {
	o := NewOverlay()
	for _, p := range item.Proposals {
		if p.AlreadyImported() {
			continue
		}
		m, ok := p.Match.(importer.Matched)
		if !ok || m.Confidence < threshold {
			continue
		}
		o.entries[p.ID] = LocalApproval{
			Approved:           true,
			SelectedCustomerID: m.CustomerID,
			CustomerName:       m.Name,
			CustomerCity:       m.City,
		}
	}
	return o
}

// Entry returns the raw overlay entry for a proposal.
func (o Overlay) Entry(proposalID string) (LocalApproval, bool) {
	entry, ok := o.entries[proposalID]
	return entry, ok
}

// Effective is the decision the reviewer currently sees for p.
func (o Overlay) Effective(p importer.Proposal) LocalApproval {
	entry, ok := o.entries[p.ID]
	if !ok {
		return LocalApproval{}
	}
	if p.AlreadyImported() {
		entry.Approved = false
	}
	return entry
}

// Toggle flips the effective approval of p. Approving without a customer is
// allowed here and rejected when the import is applied.
func (o *Overlay) Toggle(p importer.Proposal) error {
	if p.AlreadyImported() {
		return ErrDuplicateProposal
	}
	o.ensure()
	entry := o.Effective(p)
	entry.Approved = !entry.Approved
	o.entries[p.ID] = entry
	return nil
}

// Resolve picks a customer for p, which always approves it.
func (o *Overlay) Resolve(p importer.Proposal, customer importer.CustomerSearchResult) error {
	if p.AlreadyImported() {
		return ErrDuplicateProposal
	}
	o.ensure()
	o.entries[p.ID] = LocalApproval{
		Approved:           true,
		SelectedCustomerID: customer.ID,
		CustomerName:       customer.Name,
		CustomerCity:       customer.City,
	}
	return nil
}

func (o *Overlay) ensure() {
	if o.entries == nil {
		o.entries = map[string]LocalApproval{}
	}
}

// Project turns the overlay into review commands in proposal order. Rows that
// were imported before are never sent.
func (o Overlay) Project(item importer.ImportSession) []importer.Review {
	reviews := make([]importer.Review, 0, len(o.entries))
	for _, p := range item.Proposals {
		if p.AlreadyImported() {
			continue
		}
		entry, ok := o.entries[p.ID]
		if !ok {
			continue
		}
		reviews = append(reviews, importer.Review{
			ProposalID:         p.ID,
			Approved:           entry.Approved,
			SelectedCustomerID: entry.SelectedCustomerID,
		})
	}
	return reviews
}

func (o Overlay) ApprovedCount(item importer.ImportSession) int {
	count := 0
	for _, p := range item.Proposals {
		if o.Effective(p).Approved {
			count++
		}
	}
	return count
}

// PendingReviewCount counts rows the matcher flagged for review that have no
// decision yet.
func (o Overlay) PendingReviewCount(item importer.ImportSession) int {
	count := 0
	for _, p := range item.Proposals {
		if p.AlreadyImported() || p.Match == nil || p.Match.Status() != importer.StatusReview {
			continue
		}
		if _, ok := o.entries[p.ID]; !ok {
			count++
		}
	}
	return count
}

// Unresolved lists approved proposals that have no customer to attach the
// contract to.
func (o Overlay) Unresolved(item importer.ImportSession) map[string]string {
	missing := map[string]string{}
	for _, p := range item.Proposals {
		entry := o.Effective(p)
		if !entry.Approved {
			continue
		}
		if entry.SelectedCustomerID == "" && p.ResolvedCustomerID() == "" {
			missing[p.ID] = "approved without a customer"
		}
	}
	return missing
}
