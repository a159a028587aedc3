package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"time"
)

// Error carries a code, a human message, an optional cause and free-form context
type Error struct {
	Code      Code
	Message   string
	Cause     error
	Context   map[string]string
	Stack     []Frame
	Timestamp time.Time
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates an error; cause may be nil
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Stack:     captureStackTrace(),
	}
}

// Newf creates an error without cause from a format string
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// AddContext attaches a key/value pair and returns the same error for chaining
func (e *Error) AddContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any *Error in err's chain carries code
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code.Equals(code) {
			return true
		}
		err = e.Cause
	}
	return false
}

// As is the standard library As, re-exported so callers need a single errors import
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func captureStackTrace() []Frame {
	var frames []Frame
	for i := 2; i < 12; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		name := ""
		if fn != nil {
			name = fn.Name()
		}
		frames = append(frames, Frame{
			Function: name,
			File:     file,
			Line:     line,
		})
	}
	return frames
}
