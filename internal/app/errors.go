package app

import (
	"fmt"
	"net/http"
)

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

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func errInvalidParameters(param string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_PARAMETERS", param+" is missing or invalid", nil)
}

// errSyncDisabled mirrors the feature-gate contract: a generic 422 failure
// payload, distinct from validation errors, with no side effects.
func errSyncDisabled() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "SYNC_DISABLED", "failed", nil)
}

func errUpstream(err error) *DomainError {
	return domainError(http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), nil)
}
