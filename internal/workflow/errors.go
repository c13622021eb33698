package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateProposal is returned when approving a row that an earlier
	// import already turned into a contract.
	ErrDuplicateProposal = errors.New("proposal was already imported")
	ErrBusy              = errors.New("a change to this import is already in progress")
	ErrNoSession         = errors.New("no open import session")
	ErrSessionOpen       = errors.New("an import session is already open")
	ErrUnknownProposal   = errors.New("unknown proposal")
)

// UploadError means no session was created.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ValidationError blocks an apply before anything is sent to the server.
// Proposals maps proposal id to the reason it is invalid.
type ValidationError struct {
	Message   string
	Proposals map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Proposals) == 0 {
		return e.Message
	}
	return e.Message + ": " + formatDetails(e.Proposals)
}

// SessionError is a failed review or apply call. The session stays open and
// the call can be retried.
type SessionError struct {
	Phase     string
	Message   string
	Proposals map[string]string
	Err       error
}

func (e *SessionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Proposals) > 0 {
		msg += ": " + formatDetails(e.Proposals)
	}
	return e.Phase + " failed: " + msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// proposalDetailer is implemented by collaborator errors that carry
// per-proposal reasons.
type proposalDetailer interface {
	ProposalDetails() map[string]string
}

func formatDetails(details map[string]string) string {
	ids := make([]string, 0, len(details))
	for id := range details {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+": "+details[id])
	}
	return strings.Join(parts, "; ")
}
