package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned sentinels compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrTooManyRequests    = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "too many requests")

	ErrInvalidTransition   = New("INVALID_TRANSITION", http.StatusConflict, "invalid certificate state transition")
	ErrFourEyes            = New("FOUR_EYES_VIOLATION", http.StatusForbidden, "approver must differ from the submitter")
	ErrGatewayUnavailable  = New("GATEWAY_UNAVAILABLE", http.StatusBadGateway, "sis gateway unavailable")
	ErrAnchorFailed        = New("ANCHOR_FAILED", http.StatusBadGateway, "blockchain anchoring failed")
	ErrManualIntervention  = New("MANUAL_INTERVENTION_REQUIRED", http.StatusConflict, "anchoring retries exhausted, manual intervention required")
	ErrIntegrity           = New("INTEGRITY_ERROR", http.StatusConflict, "certificate integrity check failed")
	ErrOverrideNotAllowed  = New("OVERRIDE_NOT_ALLOWED", http.StatusForbidden, "unanchored issuance override is not permitted")
	ErrDocumentUnavailable = New("DOCUMENT_UNAVAILABLE", http.StatusConflict, "certificate document unavailable")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails returns a copy of err carrying the provided details.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

// FieldError builds a validation error naming the offending field.
func FieldError(field, message string) *Error {
	return WithDetails(ErrValidation, message, map[string]interface{}{"field": field})
}

// InvalidTransition reports a rejected state change with both states attached.
func InvalidTransition(from, to string) *Error {
	return WithDetails(ErrInvalidTransition,
		fmt.Sprintf("cannot transition certificate from %s to %s", from, to),
		map[string]interface{}{"from": from, "to": to},
	)
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
