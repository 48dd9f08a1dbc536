package optimization

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by configuration errors. Match them with errors.Is.
var (
	ErrInvalidDimension  = errors.New("dimension must be at least 1")
	ErrInvalidPopulation = errors.New("invalid population size")
	ErrInvalidCovariance = errors.New("covariance must be symmetric positive definite")
	ErrUnknownWeights    = errors.New("unknown mean weight generator")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrUnknownFunction   = errors.New("unknown benchmark function")
)

// Error is a configuration or setup failure annotated with the operation and
// component that produced it. The numeric core never returns errors from its
// generation loop; those conditions surface as a StopReason instead.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error, e.g. "Optimizer.New".
	Op string
	// Component is the package or subsystem, e.g. "cma".
	Component string
	// Err is the underlying cause, if any.
	Err error
}

// Error returns "component: op: message: cause", omitting empty parts.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	s := e.Message
	if e.Err != nil {
		if s == "" {
			s = e.Err.Error()
		} else {
			s = fmt.Sprintf("%s: %v", s, e.Err)
		}
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Component != "" {
		s = e.Component + ": " + s
	}
	return s
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation sets the operation context.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent sets the component context.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates an error with the given message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewErrorf creates an error with a formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with a message. It returns nil when err is nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// WrapErrorf wraps err with a formatted message. It returns nil when err is nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsOptimizationError reports whether err, or an error it wraps, is an *Error
// and returns it.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
