package errors

import "errors"

// This package defines a centralized set of sentinel errors for the application.
// Services return errors that wrap one of these kinds, and the API layer uses
// `errors.Is()` to map them to HTTP responses without knowing where they came from.

var (
	// ErrNotFound signifies that a requested resource could not be located,
	// e.g. a conversation id that is not in the conversation set.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation signifies that input data provided by a caller was missing
	// or failed validation.
	// This is typically mapped to a 400 Bad Request HTTP status.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signifies that an operation could not be started because
	// another one is still in progress on the same resource.
	ErrConflict = errors.New("resource conflict")

	// ErrConfiguration signifies that the server is missing required
	// configuration. It is never the caller's fault.
	// This is typically mapped to a 500 Internal Server Error HTTP status.
	ErrConfiguration = errors.New("server misconfigured")

	// ErrUpstream signifies that the third-party generative API rejected or
	// failed a call.
	ErrUpstream = errors.New("upstream request failed")

	// ErrStorageCorruption signifies that persisted state could not be parsed.
	// Callers recover from it locally; it is never fatal.
	ErrStorageCorruption = errors.New("persisted state is corrupted")

	// ErrInternal signifies an unexpected error on the server. This is a generic
	// error used to prevent leaking sensitive implementation details to the client.
	ErrInternal = errors.New("internal server error")
)

// Error pairs an error kind (one of the sentinels above) with a message that is
// safe to show to the end user.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// New returns an error of the given kind carrying a client-facing message.
func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}
