package errors

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Code classifies an error into one of the driver's failure kinds. Codes
// are stable strings so callers can switch on them without importing
// concrete error types.
type Code string

const (
	// ServiceUnavailable covers DNS/TCP failure, handshake version
	// mismatch and socket timeouts.
	ServiceUnavailable Code = "ServiceUnavailable"
	// AuthenticationError is fatal and never retried.
	AuthenticationError Code = "AuthenticationError"
	// ProtocolError marks a malformed or out-of-order message. Fatal to
	// the connection that observed it.
	ProtocolError Code = "ProtocolError"
	// EncodingError marks a value the wire codec cannot represent.
	EncodingError Code = "EncodingError"
	// ClientError is a server-reported statement problem (syntax error,
	// constraint violation). The connection survives after a reset.
	ClientError Code = "ClientError"
	// TransientError is a server-reported retriable condition (deadlock,
	// leader switch). The driver does not retry it internally.
	TransientError Code = "TransientError"
	// DatabaseError is an unexpected server-side failure.
	DatabaseError Code = "DatabaseError"
	// PoolExhausted is returned when a connection acquire times out.
	PoolExhausted Code = "PoolExhausted"
	// TransactionFinished marks use of a transaction after it reached a
	// terminal state. A programming error, never retried.
	TransactionFinished Code = "TransactionFinished"
	// Ignored marks a statement the server skipped because an earlier
	// request in the same pipeline failed.
	Ignored Code = "Ignored"
)

// Error is the base error type. It adds a classification code, a stack
// trace and error wrapping.
type Error struct {
	code    Code
	msg     string
	wrapped error
	stack   []byte
}

// New makes a new error with the given code.
func New(code Code, msg string, args ...interface{}) *Error {
	return &Error{
		code:  code,
		msg:   fmt.Sprintf(msg, args...),
		stack: debug.Stack(),
	}
}

// Wrap wraps an error with a new message. The code of the wrapped error
// is preserved unless a non-empty code is given.
func Wrap(err error, code Code, msg string, args ...interface{}) *Error {
	if e, ok := err.(*Error); ok {
		if code == "" {
			code = e.code
		}
		return &Error{
			code:    code,
			msg:     fmt.Sprintf(msg, args...),
			wrapped: e,
		}
	}

	return &Error{
		code:    code,
		msg:     fmt.Sprintf(msg, args...),
		wrapped: err,
		stack:   debug.Stack(),
	}
}

// Code returns the classification of the error.
func (e *Error) Code() Code {
	return e.code
}

// Error gets the error output.
func (e *Error) Error() string {
	return e.error(0)
}

// Unwrap returns the inner error wrapped by this error.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Inner returns the inner error wrapped by this error.
func (e *Error) Inner() error {
	return e.wrapped
}

// InnerMost returns the innermost error wrapped by this error.
func (e *Error) InnerMost() error {
	if e.wrapped == nil {
		return e
	}

	if inner, ok := e.wrapped.(*Error); ok {
		return inner.InnerMost()
	}

	return e.wrapped
}

func (e *Error) error(level int) string {
	msg := fmt.Sprintf("%s[%s] %s", strings.Repeat("\t", level), e.code, e.msg)
	if e.wrapped != nil {
		if wrappedErr, ok := e.wrapped.(*Error); ok {
			msg += fmt.Sprintf("\n%s", wrappedErr.error(level+1))
		} else {
			msg += fmt.Sprintf("\nInternal Error(%T):%s", e.wrapped, e.wrapped.Error())
		}
	}

	if len(e.stack) > 0 {
		msg += fmt.Sprintf("\n\n Stack Trace:\n\n%s", e.stack)
	}

	return msg
}

// CodeOf returns the code of err, walking the wrap chain until a
// classified error is found. Unclassified errors report an empty code.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.code != "" {
				return e.code
			}
			err = e.wrapped
			continue
		}
		if u, ok := err.(interface{ Unwrap() error }); ok {
			err = u.Unwrap()
			continue
		}
		return ""
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// ClassifyServerCode maps a server failure code string, e.g.
// "Neo.TransientError.Transaction.DeadlockDetected", onto a driver Code.
func ClassifyServerCode(serverCode string) Code {
	parts := strings.SplitN(serverCode, ".", 3)
	if len(parts) < 2 {
		return DatabaseError
	}
	switch parts[1] {
	case "TransientError":
		return TransientError
	case "ClientError":
		if len(parts) == 3 && strings.HasPrefix(parts[2], "Security.") {
			return AuthenticationError
		}
		return ClientError
	case "DatabaseError":
		return DatabaseError
	default:
		return DatabaseError
	}
}
