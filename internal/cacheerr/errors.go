// Package cacheerr defines the error taxonomy shared by every layer of
// btdt: storage, the local and remote caches, the HTTP server, and the
// CLI orchestrator. Every operation returns a Go error; the sentinel
// values below let callers classify a failure with errors.Is instead of
// string matching, the same way the teacher wraps os.ErrNotExist.
package cacheerr

import "errors"

// Kind classifies a failure the way the rest of btdt needs to react to
// it: map it to an HTTP status, map it to a CLI exit code, or decide
// whether it is safe to self-heal.
type Kind int

const (
	// KindOther is any failure that doesn't fit a more specific kind below.
	KindOther Kind = iota
	// KindNotFound means the named key or entry does not exist.
	KindNotFound
	// KindCorrupt means an internal invariant was violated, e.g. a key
	// mapping pointing at a missing entry. Safe to self-heal by removing
	// the dangling mapping; callers see KindNotFound afterwards.
	KindCorrupt
	// KindIO is a transient or persistent storage failure.
	KindIO
	// KindProtocol is a wire-level framing error (bad HTTP, bad stream record).
	KindProtocol
	// KindUnauthorized means no credential, or an invalid one, was presented.
	KindUnauthorized
	// KindForbidden means the credential was valid but insufficient.
	KindForbidden
	// KindTimeout means an operation exceeded a configured deadline.
	KindTimeout
	// KindInvalidInput means bad CLI flags or unparseable configuration.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindCorrupt:
		return "corrupt"
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindTimeout:
		return "timeout"
	case KindInvalidInput:
		return "invalid-input"
	default:
		return "other"
	}
}

// Error is a classified error with an optional path/context message and
// an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message != "" {
			return e.Message + ": " + e.Cause.Error()
		}
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error with a message only.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error, attaching context.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or KindOther if err isn't a classified error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindOther
}

var (
	// ErrNotFound is a sentinel for errors.Is comparisons against a bare KindNotFound.
	ErrNotFound = New(KindNotFound, "not found")
)
