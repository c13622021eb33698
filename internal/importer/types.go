// Package importer holds the bulk contract import data model shared by the
// server collaborator and the review workflow.
package importer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ImportSession groups every proposal parsed from one uploaded file. It lives
// until the proposals are applied or the session is cancelled.
type ImportSession struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	Threshold float64    `json:"autoApproveThreshold"`
	Proposals []Proposal `json:"proposals"`
	Summary   Summary    `json:"summary"`
	Errors    []string   `json:"errors"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Proposal returns the proposal with the given id.
func (s ImportSession) Proposal(id string) (Proposal, bool) {
	for _, p := range s.Proposals {
		if p.ID == id {
			return p, true
		}
	}
	return Proposal{}, false
}

// Proposal is one parsed row group representing a candidate contract.
type Proposal struct {
	ID                    string     `json:"id"`
	CustomerNumber        string     `json:"customerNumber"`
	CustomerName          string     `json:"customerName"`
	SalesOrderNumber      string     `json:"salesOrderNumber"`
	ContractNumber        string     `json:"contractNumber"`
	StartDate             *time.Time `json:"startDate,omitempty"`
	EndDate               *time.Time `json:"endDate,omitempty"`
	InvoicingInstructions string     `json:"invoicingInstructions"`
	Match                 Match      `json:"-"`
	SelectedCustomerID    string     `json:"selectedCustomerId,omitempty"`
	Items                 []LineItem `json:"items"`
	DiscountAmount        float64    `json:"discountAmount"`
	TotalMonthlyRate      float64    `json:"totalMonthlyRate"`
	Approved              bool       `json:"approved"`
	Rejected              bool       `json:"rejected"`
	Error                 string     `json:"error,omitempty"`
	NeedsReview           bool       `json:"needsReview"`
	ExistingContractID    string     `json:"existingContractId,omitempty"`
}

// AlreadyImported reports whether a previous import produced a contract for
// this row. Such proposals can never be approved again.
func (p Proposal) AlreadyImported() bool {
	return p.ExistingContractID != ""
}

// ResolvedCustomerID returns the manual override when present, otherwise the
// customer picked by the matcher. Empty means no customer is resolvable.
func (p Proposal) ResolvedCustomerID() string {
	if p.SelectedCustomerID != "" {
		return p.SelectedCustomerID
	}
	if m, ok := p.Match.(Matched); ok {
		return m.CustomerID
	}
	return ""
}

// SourceKey identifies the spreadsheet row group across uploads so a second
// import of the same file can be recognised.
func (p Proposal) SourceKey() string {
	if v := normalizeKey(p.ContractNumber); v != "" {
		return "contract:" + v
	}
	if v := normalizeKey(p.SalesOrderNumber); v != "" {
		return "order:" + v
	}
	var b strings.Builder
	b.WriteString(normalizeKey(p.CustomerNumber))
	b.WriteString("|")
	b.WriteString(normalizeKey(p.CustomerName))
	b.WriteString("|")
	if p.StartDate != nil {
		b.WriteString(p.StartDate.Format("2006-01-02"))
	}
	for _, item := range p.Items {
		fmt.Fprintf(&b, "|%s=%.2f", normalizeKey(item.ItemName), item.MonthlyRate)
	}
	sum := sha1.Sum([]byte(b.String()))
	return "row:" + hex.EncodeToString(sum[:])
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// LineItem is one billable position of a proposal. A missing ProductID means
// the product is created (or looked up by name) when the proposal is applied.
type LineItem struct {
	ItemName    string  `json:"itemName"`
	MonthlyRate float64 `json:"monthlyRate"`
	ProductID   string  `json:"productId,omitempty"`
	ProductName string  `json:"productName,omitempty"`
}

// Review is the committed decision for one proposal.
type Review struct {
	ProposalID         string `json:"proposalId"`
	Approved           bool   `json:"approved"`
	SelectedCustomerID string `json:"selectedCustomerId,omitempty"`
}

// CreatedContract describes a contract produced by an apply.
type CreatedContract struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CustomerName string `json:"customerName"`
	ProposalID   string `json:"proposalId,omitempty"`
}

// ApplyResult is the aggregated outcome of applying a session. Success can be
// true while ErrorsByProposal is non-empty.
type ApplyResult struct {
	Success          bool              `json:"success"`
	Error            string            `json:"error,omitempty"`
	CreatedContracts []CreatedContract `json:"createdContracts"`
	ErrorsByProposal map[string]string `json:"errorsByProposal"`
}

// CustomerSearchResult is a transient lookup hit used for manual resolution.
type CustomerSearchResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}
