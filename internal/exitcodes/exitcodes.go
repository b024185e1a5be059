// Package exitcodes defines the process exit codes of the search-replace CLI
// so cron, Airflow and Kubernetes callers can tell a yielded invocation from
// a failure and decide whether to retry.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/db-search-replace/internal/checkpoint"
)

const (
	// Success - the job finished every table
	Success = 0

	// ConfigError - configuration/YAML parsing or validation errors (don't retry)
	ConfigError = 1

	// ConnectionError - database, Redis or state store connection errors (recoverable)
	ConnectionError = 2

	// RewriteError - a page query or row UPDATE failed (non-recoverable)
	RewriteError = 3

	// ValidationError - table introspection rejected a table (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM; the checkpoint was saved (recoverable)
	Cancelled = 5

	// StateError - invalid checkpoint, or config changed since the job started (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7

	// Incomplete - the invocation yielded on its budget; invoke again to continue
	Incomplete = 8
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// messageRule maps error text to a code. Rules are tried in order; a rule
// does not apply when the message also contains one of its unless words.
type messageRule struct {
	code   int
	words  []string
	unless []string
}

var messageRules = []messageRule{
	{code: IOError, words: []string{"no such file", "file not found", "permission denied", "is a directory", "not a directory"}},
	{
		code:   ConfigError,
		words:  []string{"yaml:", "json:", "unmarshal", "invalid config", "parsing config", "loading env file"},
		unless: []string{"connection", "connect", "dial"},
	},
	{code: ConnectionError, words: []string{
		"connection", "connect", "dial", "refused", "timeout", "unreachable",
		"no such host", "network", "ping", "login failed", "authentication",
	}},
	{code: ValidationError, words: []string{"introspecting", "has no columns", "no such table", "primary key"}},
	{code: Cancelled, words: []string{"cancel", "interrupt", "context deadline"}},
	{code: StateError, words: []string{"state", "checkpoint", "resume", "job not found", "config changed"}},
}

// FromError determines the appropriate exit code for an error. Known
// sentinels win; anything else is classified by its message and defaults
// to RewriteError.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var pathErr *os.PathError
	switch {
	case errors.Is(err, checkpoint.ErrInvalidCheckpoint), errors.Is(err, checkpoint.ErrNotFound):
		return StateError
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.As(err, &pathErr):
		return IOError
	}

	msg := strings.ToLower(err.Error())
	for _, r := range messageRules {
		if containsAny(msg, r.words) && !containsAny(msg, r.unless) {
			return r.code
		}
	}
	return RewriteError
}

// IsRecoverable returns true if invoking again is expected to make progress.
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError, Incomplete:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case RewriteError:
		return "rewrite error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	case Incomplete:
		return "incomplete, invoke again (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
