package sandbox

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindMemoryExceeded     ErrorKind = "memory_exceeded"
	ErrorKindSyntaxError        ErrorKind = "syntax_error"
	ErrorKindRuntimeException   ErrorKind = "runtime_exception"
	ErrorKindSerializationError ErrorKind = "serialization_error"
	ErrorKindCancelled          ErrorKind = "cancelled"
)

// Error describes why a script did not produce a result. Cause holds the host
// error for exceptions raised by a binding and left uncaught by the script.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorKindTimeout, ErrorKindMemoryExceeded, ErrorKindCancelled:
		return e.Message
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func IsKind(err error, kind ErrorKind) bool {
	var sandboxErr *Error
	return errors.As(err, &sandboxErr) && sandboxErr.Kind == kind
}

// interruption is the value handed to Runtime.Interrupt so the engine can tell
// the watchdogs apart once RunProgram returns.
type interruption struct {
	kind    ErrorKind
	message string
}

var (
	interruptTimeout   = &interruption{kind: ErrorKindTimeout, message: "Timeout exceeded"}
	interruptMemory    = &interruption{kind: ErrorKindMemoryExceeded, message: "Memory limit exceeded"}
	interruptCancelled = &interruption{kind: ErrorKindCancelled, message: "Execution cancelled"}
)
