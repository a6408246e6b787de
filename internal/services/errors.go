package services

import (
	"errors"

	"github.com/soaringjerry/Mindwell/internal/assessment"
)

// ErrDuplicateReport is returned by SessionStore.CreateReport when the
// session already has a stored report.
var ErrDuplicateReport = errors.New("session already has a report")

type ErrorCode string

const (
	ErrorInvalid                 ErrorCode = "invalid"
	ErrorForbidden               ErrorCode = "forbidden"
	ErrorNotFound                ErrorCode = "not_found"
	ErrorConflict                ErrorCode = "conflict"
	ErrorUnauthorized            ErrorCode = "unauthorized"
	ErrorBadGateway              ErrorCode = "bad_gateway"
	ErrorNotAuthenticated        ErrorCode = "not_authenticated"
	ErrorSessionNotFound         ErrorCode = "session_not_found"
	ErrorAlreadyCompleted        ErrorCode = "already_completed"
	ErrorPrerequisitesIncomplete ErrorCode = "prerequisites_incomplete"
	ErrorValidationFailed        ErrorCode = "validation_failed"
	ErrorPersistenceFailed       ErrorCode = "persistence_failed"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
	// Details lists per-question problems for validation failures.
	Details []assessment.Problem
	cause   error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.cause }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewBadGatewayError(msg string) error { return &ServiceError{Code: ErrorBadGateway, Message: msg} }

func NewNotAuthenticatedError() error {
	return &ServiceError{Code: ErrorNotAuthenticated, Message: "authentication required"}
}

func NewSessionNotFoundError() error {
	return &ServiceError{Code: ErrorSessionNotFound, Message: "session not found"}
}

func NewAlreadyCompletedError() error {
	return &ServiceError{Code: ErrorAlreadyCompleted, Message: "session already completed"}
}

func NewPrerequisitesIncompleteError(msg string) error {
	return &ServiceError{Code: ErrorPrerequisitesIncomplete, Message: msg}
}

func NewValidationError(problems []assessment.Problem) error {
	return &ServiceError{Code: ErrorValidationFailed, Message: "responses are incomplete or invalid", Details: problems}
}

// NewPersistenceError wraps a store failure. The cause stays reachable through errors.Unwrap.
func NewPersistenceError(msg string, cause error) error {
	return &ServiceError{Code: ErrorPersistenceFailed, Message: msg, cause: cause}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == code
}
