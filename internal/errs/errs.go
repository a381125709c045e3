// Package errs defines the error taxonomy shared across polychat's
// subsystems (storage, rate limiting, LLM dispatch, tools). Components wrap
// these sentinels with fmt.Errorf("...: %w") so callers can classify with
// errors.Is/errors.As without depending on subsystem internals.
package errs

import "errors"

// Storage errors (§7 StorageError, subdivided).
var (
	ErrNotFound       = errors.New("storage: not found")
	ErrConflict       = errors.New("storage: conflict")
	ErrReadOnlySource = errors.New("storage: read-only source")
	ErrConnectionLost = errors.New("storage: connection lost")
)

// Configuration errors are fatal at startup.
var ErrConfiguration = errors.New("invalid configuration")

// Rate limiting.
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrCanceled          = errors.New("canceled")
	ErrShuttingDown      = errors.New("shutting down")
)

// LLM provider errors.
var (
	ErrProviderTransient = errors.New("provider: transient error")
	ErrProviderFatal     = errors.New("provider: fatal error")
	ErrToolLoopLimit     = errors.New("provider: tool loop limit exceeded")
)

// Tool and validation errors.
var (
	ErrTool       = errors.New("tool error")
	ErrValidation = errors.New("invalid input")
)

// ErrInternal marks an unexpected error that should be logged with a stack
// and surfaced to the user as a generic message.
var ErrInternal = errors.New("internal error")
