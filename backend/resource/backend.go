package resource

import (
	"context"
	"errors"
	"fmt"
)

// Backend answers the queries scripts may issue against the cloud
// environment. Implementations may block on the network.
type Backend interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	ListRegions(ctx context.Context) ([]Region, error)
	QueryResources(ctx context.Context, query ResourceQuery) ([]Resource, error)
	QueryLogEvents(ctx context.Context, query LogQuery) (*LogQueryResult, error)
	LookupAuditEvents(ctx context.Context, query AuditQuery) (*AuditQueryResult, error)
}

type ErrorKind string

const (
	ErrorKindInvalidArgument    ErrorKind = "invalid_argument"
	ErrorKindNotFound           ErrorKind = "not_found"
	ErrorKindExpiredCredentials ErrorKind = "expired_credentials"
	ErrorKindAccessDenied       ErrorKind = "access_denied"
	ErrorKindUnreachable        ErrorKind = "unreachable"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindThrottled          ErrorKind = "throttled"
	ErrorKindUnknown            ErrorKind = "unknown"
)

type Error struct {
	Kind      ErrorKind
	Operation string
	Err       error
}

func NewError(kind ErrorKind, operation string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Err: err}
}

func Errorf(kind ErrorKind, operation string, format string, a ...any) *Error {
	return &Error{Kind: kind, Operation: operation, Err: fmt.Errorf(format, a...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message describes the failure in terms a user can act on.
func (e *Error) Message() string {
	switch e.Kind {
	case ErrorKindExpiredCredentials:
		return "Your AWS session has expired. Please log in again"
	case ErrorKindAccessDenied:
		return "Access denied by AWS. Check the permissions of the selected role"
	case ErrorKindUnreachable:
		return "The AWS service could not be reached. Check your network connection"
	case ErrorKindTimeout:
		return "The AWS request timed out"
	case ErrorKindThrottled:
		return "AWS is throttling requests. Try again with a narrower query"
	case ErrorKindNotFound:
		return "The requested AWS resource was not found"
	case ErrorKindInvalidArgument:
		return "The query arguments are invalid"
	default:
		return "The AWS request failed"
	}
}

func IsKind(err error, kind ErrorKind) bool {
	var resourceErr *Error
	return errors.As(err, &resourceErr) && resourceErr.Kind == kind
}
