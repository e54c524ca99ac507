package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid             ErrorCode = "invalid"
	ErrorForbidden           ErrorCode = "forbidden"
	ErrorNotFound            ErrorCode = "not_found"
	ErrorConflict            ErrorCode = "conflict"
	ErrorUnauthorized        ErrorCode = "unauthorized"
	ErrorBadGateway          ErrorCode = "bad_gateway"
	ErrorInsufficientCredits ErrorCode = "insufficient_credits"
	ErrorNotReady            ErrorCode = "not_ready"
	ErrorAlreadyCompleted    ErrorCode = "already_completed"
	ErrorAlreadyReported     ErrorCode = "already_reported"
	ErrorFrozen              ErrorCode = "frozen"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewBadGatewayError(msg string) error { return &ServiceError{Code: ErrorBadGateway, Message: msg} }

func NewInsufficientCreditsError(msg string) error {
	return &ServiceError{Code: ErrorInsufficientCredits, Message: msg}
}

func NewNotReadyError(msg string) error { return &ServiceError{Code: ErrorNotReady, Message: msg} }

func NewAlreadyCompletedError(msg string) error {
	return &ServiceError{Code: ErrorAlreadyCompleted, Message: msg}
}

func NewAlreadyReportedError(msg string) error {
	return &ServiceError{Code: ErrorAlreadyReported, Message: msg}
}

func NewFrozenError(msg string) error { return &ServiceError{Code: ErrorFrozen, Message: msg} }

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Store-level sentinels. Stores return these from guarded updates so the
// services can translate them into the taxonomy above.
var (
	// ErrInsufficientCredits is returned when a debit would push a balance negative.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrAlreadyCompleted is returned when a request token was completed concurrently.
	ErrAlreadyCompleted = errors.New("request already completed")
	// ErrAlreadyReported is returned when a report was persisted concurrently.
	ErrAlreadyReported = errors.New("report already exists")
)
