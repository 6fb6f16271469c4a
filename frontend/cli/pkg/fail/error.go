package fail

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/furisto/dispatch/frontend/cli/pkg/terminal"
	"github.com/furisto/dispatch/shared"
)

type UserError struct {
	Cause       error
	UserMessage string
	Solutions   []string
	TechDetails string
}

func (e *UserError) Error() string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("%s %s\n", terminal.ErrorSymbol, terminal.Bold(e.UserMessage)))

	if len(e.Solutions) > 0 {
		msg.WriteString(fmt.Sprintf("\n%s Try these solutions:\n", terminal.InfoSymbol))
		for i, solution := range e.Solutions {
			msg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
	}

	if e.TechDetails != "" {
		msg.WriteString(fmt.Sprintf("\nTechnical details: %s\n", e.TechDetails))
	}

	return msg.String()
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func NewMissingAPIKeyError(service, key string, err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: "No Anthropic API key configured",
		Solutions: []string{
			"Export the key: export ANTHROPIC_API_KEY=sk-ant-...",
			fmt.Sprintf("Store the key in the system keyring under service %q and key %q", service, key),
			fmt.Sprintf("Write the key to ~/.dispatch/secrets/%s", key),
		},
	}
}

func NewFixturesError(path string, err error) *UserError {
	solutions := []string{
		"Check resources.fixtures in ~/.dispatch/config.yaml",
		"Unset DISPATCH_RESOURCES_FIXTURES to use the built-in regions only",
	}
	if errors.Is(err, os.ErrNotExist) {
		solutions = append([]string{fmt.Sprintf("Create %s or point resources.fixtures at an existing file", path)}, solutions...)
	}

	return &UserError{
		Cause:       err,
		UserMessage: fmt.Sprintf("Cannot load resource fixtures from %s", path),
		Solutions:   solutions,
		TechDetails: err.Error(),
	}
}

// EnhanceError turns errors with a known remedy into a UserError. Other
// errors are returned unchanged.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}

	var userErr *UserError
	if errors.As(err, &userErr) {
		return err
	}

	if os.IsPermission(err) || errors.Is(err, os.ErrPermission) {
		return &UserError{
			Cause:       err,
			UserMessage: "Permission denied",
			Solutions: []string{
				"Check permissions of ~/.dispatch and the files it contains",
				"Verify the path exists and is accessible",
			},
			TechDetails: err.Error(),
		}
	}

	switch shared.SourceOf(err) {
	case shared.ErrorSourceAgent:
		return &UserError{
			Cause:       err,
			UserMessage: err.Error(),
			Solutions: []string{
				"Rephrase the request or split it into smaller questions",
				"Run again with --log-level debug and inspect the logs in ~/.dispatch/logs",
			},
		}
	case shared.ErrorSourceSystem:
		return &UserError{
			Cause:       err,
			UserMessage: "Dispatch hit an internal error",
			Solutions:   []string{"Run again with --log-level debug and inspect the logs in ~/.dispatch/logs"},
			TechDetails: err.Error(),
		}
	}

	return err
}
