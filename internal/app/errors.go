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

func errNeedAuthentication() *DomainError {
	return domainError(http.StatusUnauthorized, "NEED_AUTHENTICATION", "Authentication required", nil)
}

func errIncorrectPassword() *DomainError {
	return domainError(http.StatusUnauthorized, "INCORRECT_PASSWORD", "Incorrect username or password", nil)
}

func errNotAuthorized() *DomainError {
	return domainError(http.StatusForbidden, "NOT_AUTHORIZED", "Not authorized", nil)
}

func errNotPermitted(message string) *DomainError {
	return domainError(http.StatusForbidden, "NOT_PERMITTED", message, nil)
}

func errUserLogicError(message string) *DomainError {
	return domainError(http.StatusConflict, "USER_LOGIC_ERROR", message, nil)
}

func errMissingParameter(name string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "MISSING_PARAMETER",
		fmt.Sprintf("Missing required parameter %q", name), nil)
}

func errCorruptChain(revID string) *DomainError {
	return domainError(http.StatusInternalServerError, "CORRUPT_CHAIN",
		"Revision chain is broken", map[string]any{"revId": revID})
}

func errNoSuchUser() *DomainError {
	return domainError(http.StatusNotFound, "NO_SUCH_USER", "User does not exist", nil)
}

func errNoSuchProject() *DomainError {
	return domainError(http.StatusNotFound, "NO_SUCH_PROJECT", "Project does not exist", nil)
}

func errNoSuchCourse() *DomainError {
	return domainError(http.StatusNotFound, "NO_SUCH_COURSE", "Course does not exist", nil)
}

func errNoSuchAssignment() *DomainError {
	return domainError(http.StatusNotFound, "NO_SUCH_ASSIGNMENT", "Assignment does not exist", nil)
}

func errNoSuchRevision() *DomainError {
	return domainError(http.StatusNotFound, "NO_SUCH_REVISION", "Revision does not exist", nil)
}
