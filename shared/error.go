package shared

import (
	"errors"
	"fmt"
)

type ErrorSource int

const (
	ErrorSourceTool ErrorSource = iota
	ErrorSourceAgent
	ErrorSourceSystem
	ErrorSourceUser
	ErrorSourceUnknown
)

func (s ErrorSource) String() string {
	switch s {
	case ErrorSourceTool:
		return "tool"
	case ErrorSourceAgent:
		return "agent"
	case ErrorSourceSystem:
		return "system"
	case ErrorSourceUser:
		return "user"
	default:
		return "unknown"
	}
}

type DispatchError struct {
	Source  ErrorSource
	Message string
	Err     error
}

func Errorf(source ErrorSource, format string, a ...any) *DispatchError {
	return &DispatchError{
		Source:  source,
		Message: fmt.Sprintf(format, a...),
	}
}

func Wrap(source ErrorSource, err error, format string, a ...any) *DispatchError {
	return &DispatchError{
		Source:  source,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

func (e *DispatchError) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func (e *DispatchError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func (e *DispatchError) As(target interface{}) bool {
	return errors.As(e.Err, target)
}

// SourceOf reports where err originated. Errors that were never classified
// are attributed to ErrorSourceUnknown.
func SourceOf(err error) ErrorSource {
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Source
	}
	return ErrorSourceUnknown
}
