package app

import (
	"fmt"
	"net/http"
	"strings"
)

// DomainError carries the HTTP status and machine-readable code for errors
// the client is expected to act on.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// uploadFailed reports a rejected upload. Row errors of the form
// "row N: reason" become details keyed by "row N".
func uploadFailed(message string, rowErrors []string) *DomainError {
	var details any
	if len(rowErrors) > 0 {
		rows := make(map[string]string, len(rowErrors))
		for _, rowErr := range rowErrors {
			key, reason, ok := strings.Cut(rowErr, ": ")
			if !ok {
				key, reason = "file", rowErr
			}
			rows[key] = reason
		}
		details = rows
	}
	return domainError(http.StatusUnprocessableEntity, "UPLOAD_FAILED", message, details)
}

// reviewRejected lists the reason for every rejected review by proposal id.
func reviewRejected(reasons map[string]string) *DomainError {
	return domainError(
		http.StatusUnprocessableEntity,
		"REVIEW_REJECTED",
		fmt.Sprintf("%d review(s) rejected", len(reasons)),
		reasons,
	)
}
