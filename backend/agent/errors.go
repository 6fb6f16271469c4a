package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/furisto/dispatch/backend/model"
	"github.com/furisto/dispatch/backend/resource"
	"github.com/furisto/dispatch/shared"
)

var (
	ErrAgentTerminated   = errors.New("agent is terminated")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrParentNotFound    = errors.New("parent agent not found")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRegistryRunning   = errors.New("agent registry is already running")
)

const cancelledByParent = "Cancelled by parent agent"

// UserMessage describes err in terms a user can act on. Failures of the
// resource backend and the model provider carry their own description; the
// rest is passed through.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var resourceErr *resource.Error
	if errors.As(err, &resourceErr) {
		return resourceErr.Message()
	}

	var providerErr *model.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Message()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timeout"
	case errors.Is(err, context.Canceled):
		return "Request canceled"
	}
	return err.Error()
}

// failureReason is the text stored in Failed(reason) for err.
func failureReason(err error) string {
	message := UserMessage(err)
	switch shared.SourceOf(err) {
	case shared.ErrorSourceTool:
		return fmt.Sprintf("Tool failed: %s", message)
	case shared.ErrorSourceSystem:
		return fmt.Sprintf("Model call failed: %s", message)
	default:
		return message
	}
}
