package invoker

import "errors"

// ErrorKind classifies invoker failures so callers can branch without
// string matching (where the CLI allows it).
type ErrorKind int

const (
	// ErrSpawn means the child process could not be started.
	ErrSpawn ErrorKind = iota

	// ErrCancelled means the call's context was cancelled.
	ErrCancelled

	// ErrTimeout means the call-scoped timeout fired.
	ErrTimeout

	// ErrRateLimit means the CLI failed with a rate-limit error.
	ErrRateLimit

	// ErrCLI covers all other CLI failures (non-zero exit, empty output).
	ErrCLI
)

// CallError is the only error type the invoker returns for call failures.
type CallError struct {
	Kind    ErrorKind
	Message string
}

func (e *CallError) Error() string { return e.Message }

func kindIs(err error, kind ErrorKind) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool { return kindIs(err, ErrCancelled) }

// IsTimeout reports whether err is a call timeout.
func IsTimeout(err error) bool { return kindIs(err, ErrTimeout) }

// IsRateLimit reports whether err is a CLI rate-limit failure.
func IsRateLimit(err error) bool { return kindIs(err, ErrRateLimit) }
