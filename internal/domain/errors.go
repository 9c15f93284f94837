package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// IsCode reports whether err is (or wraps) an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Error codes surfaced across the engine and the server API.
const (
	CodeInvalidRanking     = "INVALID_RANKING"
	CodeInvalidHoleNumber  = "INVALID_HOLE_NUMBER"
	CodeMatchDecided       = "MATCH_ALREADY_DECIDED"
	CodeStaleRevision      = "STALE_REVISION"
	CodeQueuePersistence   = "QUEUE_PERSISTENCE_FAILURE"
	CodeSyncTransport      = "SYNC_TRANSPORT_FAILURE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeForbidden          = "FORBIDDEN"
	CodeInternal           = "INTERNAL_ERROR"
)

// Standard domain error constructors.

func ErrInvalidRanking(msg string) *AppError {
	return &AppError{Code: CodeInvalidRanking, Message: msg, Status: 400}
}

func ErrInvalidHoleNumber(hole int) *AppError {
	return &AppError{Code: CodeInvalidHoleNumber, Message: fmt.Sprintf("hole number %d outside 1-18", hole), Status: 400}
}

func ErrMatchAlreadyDecided(matchID string) *AppError {
	return &AppError{Code: CodeMatchDecided, Message: fmt.Sprintf("match %s is decided; reopen before scoring", matchID), Status: 409}
}

// ErrStaleRevision reports a submission rejected because the authoritative
// store holds a newer revision. The current revision rides along so callers
// can surface the conflict.
func ErrStaleRevision(entityID string, currentRevision int64) *AppError {
	return &AppError{
		Code:    CodeStaleRevision,
		Message: fmt.Sprintf("entity %s rejected as stale; authoritative revision is %d", entityID, currentRevision),
		Status:  409,
	}
}

// ErrQueuePersistence is the one fatal error class: the durable append itself
// failed, so the edit must not be reported as saved.
func ErrQueuePersistence(cause error) *AppError {
	return &AppError{Code: CodeQueuePersistence, Message: "durable queue write failed", Status: 500, Cause: cause}
}

func ErrSyncTransport(cause error) *AppError {
	return &AppError{Code: CodeSyncTransport, Message: "remote submission failed", Status: 502, Cause: cause}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}
