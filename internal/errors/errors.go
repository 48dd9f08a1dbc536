// Package errors provides the HTTP-facing errors of the job service and the
// middleware that turns panics and failed requests into log entries.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/eskit/internal/optimization"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// Implementation-defined server errors.
	CodeNotFound    = -32004
	CodeUnavailable = -32003
	CodeConflict    = -32009
)

// Error is an error with the HTTP status it maps to. Errors with a server
// status carry the stack where they were created.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// Status is the HTTP status code
	Status int
	// The stack trace, for 5xx errors only
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// New creates a new error with a status and a message.
func New(status int, msg string) *Error {
	return &Error{
		Message: msg,
		Status:  status,
		Stack:   stackFor(status),
	}
}

// Errorf creates a new error with a status and a formatted message.
func Errorf(status int, format string, args ...interface{}) *Error {
	return New(status, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a message. The status is derived from err.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	status := StatusOf(err)
	return &Error{
		Err:     err,
		Message: msg,
		Status:  status,
		Stack:   stackFor(status),
	}
}

// StatusOf maps err to an HTTP status: the status of the first *Error in the
// chain, 400 for rejected optimization settings, 500 otherwise.
func StatusOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	for _, sentinel := range []error{
		optimization.ErrInvalidDimension,
		optimization.ErrInvalidPopulation,
		optimization.ErrInvalidCovariance,
		optimization.ErrUnknownWeights,
		optimization.ErrUnknownStrategy,
		optimization.ErrUnknownFunction,
	} {
		if stderrors.Is(err, sentinel) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// RPCCode maps err to a JSON-RPC error code through its HTTP status.
func RPCCode(err error) int {
	switch StatusOf(err) {
	case http.StatusBadRequest:
		return CodeInvalidParams
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return CodeUnavailable
	default:
		return CodeInternalError
	}
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

func stackFor(status int) []string {
	if status < http.StatusInternalServerError {
		return nil
	}
	return getStackTrace()
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(4, pcs[:]) // Skip runtime.Callers, getStackTrace, stackFor and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		own := strings.Contains(frame.File, "internal/errors/") && !strings.HasSuffix(frame.File, "_test.go")
		if !strings.Contains(frame.File, "runtime/") && !own {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}
