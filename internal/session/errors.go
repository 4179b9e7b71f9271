package session

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is() to check for these in calling code.
var (
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("session: no active session")

	// ErrInvalidInput is recorded on a publish with an empty topic or payload.
	ErrInvalidInput = errors.New("session: topic and payload are required")

	// ErrPolicyViolation is recorded on a publish the local ACL mirror refused.
	// It is an expected outcome, not a fault, and never ends the session.
	ErrPolicyViolation = errors.New("session: publish not permitted")

	// ErrDispatch is recorded when the transport refused to send a message.
	ErrDispatch = errors.New("session: dispatch failed")

	// ErrConnectionLost is recorded on entries outstanding when the
	// connection dropped.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrSessionEnded is recorded on entries outstanding at logout or when
	// a new login replaced the session.
	ErrSessionEnded = errors.New("session ended")

	// ErrAckTimeout is recorded on entries that waited longer than the
	// configured pending timeout.
	ErrAckTimeout = errors.New("session: acknowledgment timeout")

	// ErrProtocolAssumption marks an acknowledgment that matched nothing in
	// the pending queue. It is logged and otherwise ignored.
	ErrProtocolAssumption = errors.New("session: acknowledgment without pending publish")

	// Transport adapters wrap their connect errors with one of these so
	// Connect can classify them.
	ErrInvalidCredentials   = errors.New("session: invalid credentials")
	ErrTransportUnreachable = errors.New("session: transport unreachable")
	ErrConnectTimeout       = errors.New("session: connect timed out")
)

// ErrorKind classifies a failed connect.
type ErrorKind int

// Connect error kinds.
const (
	KindUnknown ErrorKind = iota
	KindInvalidCredentials
	KindTransportUnreachable
	KindTimeout
)

// String returns the kind name used in events and logs.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindTransportUnreachable:
		return "transport_unreachable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ConnectError is returned by Manager.Connect. A failed connect never leaves
// a session behind.
type ConnectError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// Error implements error.
func (e *ConnectError) Error() string {
	if e.Detail == "" {
		return "connect failed: " + e.Kind.String()
	}
	return fmt.Sprintf("connect failed: %s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying transport error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Guidance returns an operator-facing hint for the failure.
func (e *ConnectError) Guidance() string {
	switch e.Kind {
	case KindInvalidCredentials:
		return "Wrong username or password."
	case KindTransportUnreachable:
		return "Socket or TLS error. Check the broker address and that its certificate is trusted, then try again."
	case KindTimeout:
		return "The broker did not answer in time. Check the address and network, then try again."
	default:
		if e.Detail != "" {
			return e.Detail
		}
		return "Could not connect."
	}
}

// classifyConnectError maps a dial error onto the connect taxonomy.
func classifyConnectError(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		kind = KindInvalidCredentials
	case errors.Is(err, ErrConnectTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrTransportUnreachable):
		kind = KindTransportUnreachable
	}
	return &ConnectError{Kind: kind, Detail: err.Error(), Err: err}
}
