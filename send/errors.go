package send

import (
	"errors"
	"fmt"
)

// Error codes carried by the Error envelope. Callers pattern-match on these
// rather than on message text.
const (
	// CodeUnknown marks an error whose origin could not be classified.
	CodeUnknown = "unknown_error"
	// CodeSendFailed marks a send attempt that failed at the gateway or in a
	// plugin hook.
	CodeSendFailed = "send_failed"
	// CodeStopped marks a send attempt cancelled through Stop or StopAll.
	CodeStopped = "send_stopped"
)

// Error is the uniform envelope wrapped around everything a send attempt can
// fail with: gateway rejections, plugin hook errors and cancellations. Its
// fields are unexported so it serializes structurally to an empty object,
// matching the store's snapshot semantics for error values.
type Error struct {
	code    string
	message string
	cause   error
}

// NewError creates an error envelope with an explicit code.
func NewError(code, msg string) *Error {
	return &Error{code: code, message: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the error's classification code.
func (e *Error) Code() string { return e.code }

// Message returns the human-readable error text.
func (e *Error) Message() string { return e.message }

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Wrap normalizes err into an Error envelope. An envelope with an explicit
// code passes through unchanged; one with CodeUnknown is rewritten to
// CodeSendFailed so callers can match on a sender-specific code. Any other
// error is wrapped under CodeSendFailed.
func Wrap(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		if se.code == CodeUnknown {
			return &Error{code: CodeSendFailed, message: se.message, cause: se}
		}
		return se
	}
	return &Error{code: CodeSendFailed, message: err.Error(), cause: err}
}

// wrapStopped marks err as the outcome of a deliberate cancellation.
func wrapStopped(err error) *Error {
	return &Error{code: CodeStopped, message: err.Error(), cause: err}
}
