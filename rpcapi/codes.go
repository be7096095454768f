// Package rpcapi defines the wire-level request/response shapes and the
// status-code vocabulary shared by the Replication Service and the KV
// Front-End. It is deliberately transport-agnostic: transport is the
// only package that knows how a Status crosses the wire.
package rpcapi

import "fmt"

// Code mirrors a small, closed vocabulary of RPC outcomes. It is not
// tied to any particular transport.
type Code int

const (
	OK Code = iota
	Cancelled
	NotFound
	Aborted
	DeadlineExceeded
	Unavailable
	Internal
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Cancelled:
		return "CANCELLED"
	case NotFound:
		return "NOT_FOUND"
	case Aborted:
		return "ABORTED"
	case DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case Unavailable:
		return "UNAVAILABLE"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Status is a gob-encodable error carrying one of the Codes above plus a
// human-readable reason. It travels over the wire as an ordinary field on
// every response struct (see messages.go) rather than as a distinct RPC
// error, because net/rpc only preserves the error *string* of a failed
// call, which loses the Code.
type Status struct {
	Code    Code
	Message string
}

func (s *Status) Error() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%v: %s", s.Code, s.Message)
}

// New builds a Status. A nil *Status (returned when code == OK) means
// success.
func New(code Code, format string, args ...interface{}) *Status {
	if code == OK {
		return nil
	}
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError adapts a Status to the standard error interface, returning nil
// for a nil receiver so callers can write `return resp.Status.AsError()`
// unconditionally.
func (s *Status) AsError() error {
	if s == nil {
		return nil
	}
	return s
}

// CodeOf extracts the Code from an error produced by this package,
// defaulting to Internal for any other error and OK for nil.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if st, ok := err.(*Status); ok && st != nil {
		return st.Code
	}
	return Internal
}
