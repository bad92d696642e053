package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrConflict           = NewError("CONFLICT", "resource already exists", http.StatusConflict)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)

	// Broker errors
	ErrConnection   = NewError("CONNECTION_ERROR", "broker connection failed", http.StatusServiceUnavailable)
	ErrNotConnected = NewError("NOT_CONNECTED", "broker is not connected", http.StatusServiceUnavailable)
	ErrPublish      = NewError("PUBLISH_ERROR", "failed to publish event", http.StatusServiceUnavailable)

	// Event model errors
	ErrSerialization    = NewError("SERIALIZATION_ERROR", "failed to serialize event", http.StatusInternalServerError)
	ErrDeserialization  = NewError("DESERIALIZATION_ERROR", "unknown event type", http.StatusUnprocessableEntity)
	ErrMalformedPayload = NewError("MALFORMED_PAYLOAD", "malformed event payload", http.StatusBadRequest)

	// Collaborator errors
	ErrExtraction          = NewError("EXTRACTION_ERROR", "task extraction failed", http.StatusBadGateway)
	ErrPlatform            = NewError("PLATFORM_ERROR", "platform task creation failed", http.StatusBadGateway)
	ErrUnsupportedPlatform = NewError("UNSUPPORTED_PLATFORM", "unsupported platform", http.StatusBadRequest)
	ErrCircuitOpen         = NewError("CIRCUIT_OPEN", "circuit breaker is open", http.StatusServiceUnavailable)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches coded errors by code, so a sentinel with extra details or a
// cause still satisfies errors.Is against the bare sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrNotFound.Code, ErrSerialization.Code,
		ErrDeserialization.Code, ErrMalformedPayload.Code, ErrUnsupportedPlatform.Code, ErrConflict.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) WithMessage(message string) *Error {
	return e.WithDetail("message", message)
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// Code returns the code of the outermost coded error in the chain, or an
// empty string when err carries none.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func hasCode(err error, code string) bool {
	for err != nil {
		var appErr *Error
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsConnection(err error) bool {
	return hasCode(err, ErrConnection.Code) || hasCode(err, ErrNotConnected.Code)
}

func IsPublish(err error) bool {
	return hasCode(err, ErrPublish.Code)
}

func IsDeserialization(err error) bool {
	return hasCode(err, ErrDeserialization.Code)
}

func IsMalformedPayload(err error) bool {
	return hasCode(err, ErrMalformedPayload.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if msg, ok := appErr.Details["message"].(string); ok && msg != "" {
		response["error"] = msg
	}

	return response
}

// Is, As and New forward to the standard library so callers that import this
// package as "errors" keep the usual helpers.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }
