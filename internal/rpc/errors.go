package rpc

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call so callers can tell a retryable network
// hiccup from a dead session. The poll loop retries KindTransport, the UI
// redirects to login on KindAuth, everything else surfaces as an error
// state.
type Kind int

const (
	// KindTransport covers network failures, timeouts and non-2xx statuses.
	KindTransport Kind = iota
	// KindAuth covers rejected or expired sessions.
	KindAuth
	// KindMalformed covers bodies that do not decode as JSON-RPC envelopes.
	KindMalformed
	// KindBackend covers well-formed JSON-RPC error responses.
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Error is the only error type the transport returns.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s: %s error: %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies any error. Errors that did not originate in this
// package are treated as transport failures.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransport
}

// IsAuth reports whether err is a session-fatal auth failure.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}
