// Package workflow drives one bulk contract import from upload to apply or
// cancel: it holds the session snapshot, the reviewer's approval overlay and
// one customer resolver per proposal.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"billdesk/api/internal/importer"
	"billdesk/api/internal/resolver"
)

// Collaborator is the server side of an import.
type Collaborator interface {
	UploadImport(ctx context.Context, data []byte, filename string, threshold float64) (importer.ImportSession, error)
	ReviewProposals(ctx context.Context, sessionID string, reviews []importer.Review) (importer.ImportSession, error)
	ApplyProposals(ctx context.Context, sessionID string, autoCreateProducts bool) (importer.ApplyResult, error)
	CancelSession(ctx context.Context, sessionID string) error
}

var supportedExtensions = map[string]struct{}{
	".xlsx": {},
	".xlsm": {},
	".csv":  {},
}

// ApplyOutcome is what a finished apply reports. ErrorsByProposal can be
// non-empty even when the apply succeeded overall.
type ApplyOutcome struct {
	CreatedContracts []importer.CreatedContract
	ErrorsByProposal map[string]string
}

type Workflow struct {
	api          Collaborator
	search       resolver.Searcher
	resolverOpts []resolver.Option

	mu        sync.Mutex
	state     State
	session   *importer.ImportSession
	overlay   Overlay
	rowErrors map[string]string
	resolvers map[string]*resolver.Resolver
}

func New(api Collaborator, search resolver.Searcher, resolverOpts ...resolver.Option) *Workflow {
	return &Workflow{
		api:          api,
		search:       search,
		resolverOpts: resolverOpts,
		state:        StateIdle,
		overlay:      NewOverlay(),
		rowErrors:    map[string]string{},
		resolvers:    map[string]*resolver.Resolver{},
	}
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) setState(to State) {
	if !canTransition(w.state, to) {
		panic(fmt.Sprintf("workflow: illegal transition %s -> %s", w.state, to))
	}
	w.state = to
}

// Submit uploads a file and opens a session for review. threshold 0 uses
// the server default.
func (w *Workflow) Submit(ctx context.Context, data []byte, filename string, threshold float64) (importer.ImportSession, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := supportedExtensions[ext]; !ok {
		return importer.ImportSession{}, &UploadError{Filename: filename, Err: fmt.Errorf("unsupported file type %q", ext)}
	}
	if len(data) == 0 {
		return importer.ImportSession{}, &UploadError{Filename: filename, Err: errors.New("file is empty")}
	}
	if threshold < 0 || threshold > 1 {
		return importer.ImportSession{}, &UploadError{Filename: filename, Err: fmt.Errorf("threshold %v out of range", threshold)}
	}

	w.mu.Lock()
	switch w.state {
	case StateUploading, StateApplying:
		w.mu.Unlock()
		return importer.ImportSession{}, ErrBusy
	case StateReviewing:
		w.mu.Unlock()
		return importer.ImportSession{}, ErrSessionOpen
	}
	w.setState(StateUploading)
	w.mu.Unlock()

	item, err := w.api.UploadImport(ctx, data, filename, threshold)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.setState(StateIdle)
		return importer.ImportSession{}, &UploadError{Filename: filename, Err: err}
	}
	if threshold == 0 {
		threshold = item.Threshold
	}
	w.session = &item
	w.overlay = Seed(item, threshold)
	w.rowErrors = map[string]string{}
	w.setState(StateReviewing)
	return item, nil
}

// Session returns the current snapshot.
func (w *Workflow) Session() (importer.ImportSession, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return importer.ImportSession{}, false
	}
	return *w.session, true
}

// editable returns the proposal when the session accepts overlay edits.
// Callers hold w.mu.
func (w *Workflow) editable(proposalID string) (importer.Proposal, error) {
	switch w.state {
	case StateReviewing:
	case StateApplying, StateUploading:
		return importer.Proposal{}, ErrBusy
	default:
		return importer.Proposal{}, ErrNoSession
	}
	p, ok := w.session.Proposal(proposalID)
	if !ok {
		return importer.Proposal{}, fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	return p, nil
}

func (w *Workflow) Toggle(proposalID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, err := w.editable(proposalID)
	if err != nil {
		return err
	}
	return w.overlay.Toggle(p)
}

// Resolve approves the proposal for customer and clears its resolver.
func (w *Workflow) Resolve(proposalID string, customer importer.CustomerSearchResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, err := w.editable(proposalID)
	if err != nil {
		return err
	}
	if err := w.overlay.Resolve(p, customer); err != nil {
		return err
	}
	if r, ok := w.resolvers[proposalID]; ok {
		r.Reset()
	}
	return nil
}

func (w *Workflow) Effective(proposalID string) (LocalApproval, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return LocalApproval{}, ErrNoSession
	}
	p, ok := w.session.Proposal(proposalID)
	if !ok {
		return LocalApproval{}, fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	return w.overlay.Effective(p), nil
}

func (w *Workflow) ApprovedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return 0
	}
	return w.overlay.ApprovedCount(*w.session)
}

func (w *Workflow) PendingReviewCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return 0
	}
	return w.overlay.PendingReviewCount(*w.session)
}

// Reviews is the review payload the next apply would send.
func (w *Workflow) Reviews() []importer.Review {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return []importer.Review{}
	}
	return w.overlay.Project(*w.session)
}

// RowError returns the failure reported for a proposal by the last apply.
func (w *Workflow) RowError(proposalID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowErrors[proposalID]
}

// Resolver returns the customer resolver for a proposal, creating it on
// first use.
func (w *Workflow) Resolver(proposalID string) (*resolver.Resolver, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return nil, ErrNoSession
	}
	if _, ok := w.session.Proposal(proposalID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	if r, ok := w.resolvers[proposalID]; ok {
		return r, nil
	}
	r := resolver.New(w.search, w.resolverOpts...)
	w.resolvers[proposalID] = r
	return r, nil
}

// Apply commits the overlay as reviews and then creates the contracts. On
// any failure the session and overlay stay as they were and Apply can be
// called again.
func (w *Workflow) Apply(ctx context.Context, autoCreateProducts bool) (ApplyOutcome, error) {
	w.mu.Lock()
	switch w.state {
	case StateReviewing:
	case StateApplying, StateUploading:
		w.mu.Unlock()
		return ApplyOutcome{}, ErrBusy
	default:
		w.mu.Unlock()
		return ApplyOutcome{}, ErrNoSession
	}
	item := *w.session
	if w.overlay.ApprovedCount(item) == 0 {
		w.mu.Unlock()
		return ApplyOutcome{}, &ValidationError{Message: "no proposals are approved"}
	}
	if missing := w.overlay.Unresolved(item); len(missing) > 0 {
		w.mu.Unlock()
		return ApplyOutcome{}, &ValidationError{Message: "approved proposals need a customer", Proposals: missing}
	}
	reviews := w.overlay.Project(item)
	w.setState(StateApplying)
	w.mu.Unlock()

	updated, err := w.api.ReviewProposals(ctx, item.ID, reviews)
	if err != nil {
		return ApplyOutcome{}, w.failApply(&SessionError{Phase: "review", Err: err, Proposals: detailsOf(err)})
	}

	w.mu.Lock()
	w.session = &updated
	w.mu.Unlock()

	result, err := w.api.ApplyProposals(ctx, item.ID, autoCreateProducts)
	if err != nil {
		return ApplyOutcome{}, w.failApply(&SessionError{Phase: "apply", Err: err, Proposals: detailsOf(err)})
	}
	outcome := ApplyOutcome{
		CreatedContracts: result.CreatedContracts,
		ErrorsByProposal: result.ErrorsByProposal,
	}
	if outcome.ErrorsByProposal == nil {
		outcome.ErrorsByProposal = map[string]string{}
	}
	if !result.Success {
		message := result.Error
		if message == "" {
			message = "server reported failure"
		}
		return outcome, w.failApply(&SessionError{Phase: "apply", Message: message, Proposals: outcome.ErrorsByProposal})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.setState(StateClosedSuccess)
	w.clearLocked()
	return outcome, nil
}

func (w *Workflow) failApply(err *SessionError) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rowErrors = map[string]string{}
	for id, reason := range err.Proposals {
		w.rowErrors[id] = reason
	}
	w.setState(StateReviewing)
	return err
}

func detailsOf(err error) map[string]string {
	var d proposalDetailer
	if errors.As(err, &d) {
		return d.ProposalDetails()
	}
	return nil
}

// Cancel closes the open session. Local state is dropped even when the
// server cannot be reached.
func (w *Workflow) Cancel(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateReviewing:
	case StateApplying, StateUploading:
		w.mu.Unlock()
		return ErrBusy
	default:
		w.mu.Unlock()
		return ErrNoSession
	}
	sessionID := w.session.ID
	w.setState(StateClosedCancelled)
	w.clearLocked()
	w.mu.Unlock()

	if err := w.api.CancelSession(ctx, sessionID); err != nil {
		log.Printf("workflow: cancel session %s on server: %v", sessionID, err)
	}
	return nil
}

func (w *Workflow) clearLocked() {
	w.session = nil
	w.overlay = NewOverlay()
	w.rowErrors = map[string]string{}
	for id, r := range w.resolvers {
		r.Close()
		delete(w.resolvers, id)
	}
}
