package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into a fatal internal error
// carrying the stack trace of the panicking goroutine.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = fmt.Errorf("panic: %w", v)
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}

// IsPanic reports whether err was produced by RecoverPanic.
func IsPanic(err error) bool {
	var appErr *Error
	if !As(err, &appErr) {
		return false
	}
	panicked, _ := appErr.Details["panic"].(bool)
	return panicked
}

// StackTrace returns the stack captured by RecoverPanic, if any.
func StackTrace(err error) string {
	var appErr *Error
	if !As(err, &appErr) {
		return ""
	}
	stack, _ := appErr.Details["stack_trace"].(string)
	return stack
}
