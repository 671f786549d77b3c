package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an Inkwell error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrUnauthenticated   ErrorCode = "UNAUTHENTICATED"    // 401
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrNotHydrated       ErrorCode = "NOT_HYDRATED"       // 409
	ErrInFlight          ErrorCode = "IN_FLIGHT"          // 409
	ErrResultDiscarded   ErrorCode = "RESULT_DISCARDED"   // 409
	ErrSelectionStale    ErrorCode = "SELECTION_STALE"    // 409
	ErrHydrationFailure  ErrorCode = "HYDRATION_FAILURE"  // 500
	ErrInternal          ErrorCode = "INTERNAL"           // 500
	ErrGenerationFailure ErrorCode = "GENERATION_FAILURE" // 502
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE" // 503
	ErrQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"     // 507
)

// InkError represents a structured error with code, status, and details.
type InkError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is the underlying error, if any. Not exposed to tool clients.
	cause error
}

// Error implements the error interface.
func (e *InkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *InkError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *InkError {
	return &InkError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthenticated creates a 401 error for calls made without a user identity.
func NewUnauthenticated() *InkError {
	return &InkError{
		Code:    ErrUnauthenticated,
		Status:  401,
		Message: "no user identity in context",
	}
}

// NewNotFound creates a 404 error for a missing entity.
func NewNotFound(kind, identifier string) *InkError {
	return &InkError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewNotHydrated creates a 409 error for reads of persisted state before hydration completes.
func NewNotHydrated() *InkError {
	return &InkError{
		Code:    ErrNotHydrated,
		Status:  409,
		Message: "session is still loading persisted state",
	}
}

// NewInFlight creates a 409 error when a generation for the same section is outstanding.
func NewInFlight(documentID string, sectionIndex int) *InkError {
	return &InkError{
		Code:    ErrInFlight,
		Status:  409,
		Message: fmt.Sprintf("generation already running for section %d of document %s", sectionIndex, documentID),
		Details: map[string]any{"document_id": documentID, "section_index": sectionIndex},
	}
}

// NewResultDiscarded creates a 409 error when a completed generation no longer
// applies to the current session.
func NewResultDiscarded(documentID, reason string) *InkError {
	return &InkError{
		Code:    ErrResultDiscarded,
		Status:  409,
		Message: fmt.Sprintf("result for document %s discarded: %s", documentID, reason),
		Details: map[string]any{"document_id": documentID, "reason": reason},
	}
}

// NewSelectionStale creates a 409 error when a captured selection range no longer
// matches the document content.
func NewSelectionStale(from, to int, reason string) *InkError {
	return &InkError{
		Code:    ErrSelectionStale,
		Status:  409,
		Message: fmt.Sprintf("selection [%d,%d) is stale: %s", from, to, reason),
		Details: map[string]any{"from": from, "to": to, "reason": reason},
	}
}

// NewHydrationFailure creates a 500 error for an unreadable local cache at startup.
func NewHydrationFailure(err error) *InkError {
	return &InkError{
		Code:    ErrHydrationFailure,
		Status:  500,
		Message: "could not load persisted session; starting empty",
		cause:   err,
	}
}

// NewGenerationFailure creates a 502 error for a failed or timed-out generation call.
func NewGenerationFailure(err error) *InkError {
	msg := "generation failed"
	if err != nil {
		msg = fmt.Sprintf("generation failed: %v", err)
	}
	return &InkError{
		Code:    ErrGenerationFailure,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewRemoteUnavailable creates a 503 error for an unreachable or rejecting remote store.
func NewRemoteUnavailable(err error) *InkError {
	msg := "remote store unavailable"
	if err != nil {
		msg = fmt.Sprintf("remote store unavailable: %v", err)
	}
	return &InkError{
		Code:    ErrRemoteUnavailable,
		Status:  503,
		Message: msg,
		cause:   err,
	}
}

// NewQuotaExceeded creates a 507 error when the local cache is full.
func NewQuotaExceeded(max, needed int64) *InkError {
	return &InkError{
		Code:    ErrQuotaExceeded,
		Status:  507,
		Message: fmt.Sprintf("local storage is full: need %d bytes (max %d)", needed, max),
		Details: map[string]any{"max_bytes": max, "needed_bytes": needed},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *InkError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &InkError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// NewCorruptRecord creates a 500 error for a stored record that could not be
// decoded. The store that holds it answered, so it is not an availability
// failure.
func NewCorruptRecord(key string, err error) *InkError {
	return &InkError{
		Code:    ErrInternal,
		Status:  500,
		Message: fmt.Sprintf("corrupt record %s: %v", key, err),
		Details: map[string]any{"key": key, "corrupt": true},
		cause:   err,
	}
}

// IsCorrupt reports whether err is (or wraps) a corrupt-record error.
func IsCorrupt(err error) bool {
	inkErr, ok := As(err)
	return ok && inkErr.Code == ErrInternal && inkErr.Details["corrupt"] == true
}

// Is checks if an error is (or wraps) an InkError with the given code.
func Is(err error, code ErrorCode) bool {
	var inkErr *InkError
	if stderrors.As(err, &inkErr) {
		return inkErr.Code == code
	}
	return false
}

// As extracts the InkError from err, if any.
func As(err error) (*InkError, bool) {
	var inkErr *InkError
	if stderrors.As(err, &inkErr) {
		return inkErr, true
	}
	return nil, false
}

// Retryable reports whether the caller may retry the failed operation unchanged.
func Retryable(err error) bool {
	return Is(err, ErrGenerationFailure) || Is(err, ErrRemoteUnavailable)
}
