package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/cancellation"
	"github.com/furisto/dispatch/backend/event"
	"github.com/furisto/dispatch/backend/model"
	"github.com/furisto/dispatch/backend/sandbox"
	"github.com/furisto/dispatch/backend/subtask"
	"github.com/invopop/jsonschema"
)

type Kind string

const (
	KindReason        Kind = "reason"
	KindSpawnWorker   Kind = "spawn_worker"
	KindExecuteScript Kind = "execute_script"
	KindReadTaskList  Kind = "read_task_list"
	KindWriteTaskList Kind = "write_task_list"
)

const (
	ToolThink             = "think"
	ToolStartTask         = "start_task"
	ToolExecuteJavaScript = "execute_javascript"
	ToolTodoRead          = "todo_read"
	ToolTodoWrite         = "todo_write"
)

// Tool is one of Reason, SpawnWorker, ExecuteScript, ReadTaskList or
// WriteTaskList. The set is closed.
//
// Execute returns a Result for everything the model should see, including
// domain failures, which are marked with IsError. A non-nil error means the
// calling agent cannot go on.
type Tool interface {
	Kind() Kind
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, session *Session, input json.RawMessage) (*Result, error)

	sealed()
}

// Session is the calling agent as seen by a tool.
type Session struct {
	AgentID   types.AgentID
	AgentType types.AgentType
	TaskList  *TaskList
	// Emit reports an event on the agent's outbound channel. It must not
	// block.
	Emit func(event.AgentEvent)
}

func (s *Session) emit(e event.AgentEvent) {
	if s.Emit != nil {
		s.Emit(e)
	}
}

type Result struct {
	Output  string
	IsError bool
	// Cause is the host error behind a failed result, if any. The agent maps
	// it to text the user can act on.
	Cause error
}

func success(output any) (*Result, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool output: %w", err)
	}
	return &Result{Output: string(encoded)}, nil
}

// failure builds an error result with suggestions on how the model can
// recover.
func failure(message string, suggestions ...string) *Result {
	if len(suggestions) == 0 {
		return &Result{Output: message, IsError: true}
	}

	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\nSuggestions:")
	for _, suggestion := range suggestions {
		b.WriteString("\n- ")
		b.WriteString(suggestion)
	}
	return &Result{Output: b.String(), IsError: true}
}

func decodeInput[T any](tool string, input json.RawMessage) (T, *Result) {
	var decoded T
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, &decoded); err != nil {
		return decoded, failure(fmt.Sprintf("Failed to parse %s input: %s", tool, err),
			"Ensure that you provide the input arguments as specified in the tool schema")
	}
	return decoded, nil
}

func inputSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var input T
	schema := reflector.Reflect(input)
	paramSchema := map[string]any{
		"type":       "object",
		"properties": schema.Properties,
	}
	if len(schema.Required) > 0 {
		paramSchema["required"] = schema.Required
	}
	return paramSchema
}

// Specs describes tools to the model.
func Specs(tools []Tool) []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(tools))
	for _, tool := range tools {
		specs = append(specs, model.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return specs
}

// Dependencies are the collaborators tools reach out to.
type Dependencies struct {
	Sandbox      *sandbox.Engine
	Creation     *subtask.CreationChannel
	Completions  *subtask.CompletionRegistry
	Cancellation *cancellation.Registry

	CreationTimeout   time.Duration
	CompletionTimeout time.Duration
}

var ErrMissingDependency = errors.New("missing tool dependency")

// ForAgentType returns the tools installed for agentType. Managers plan and
// delegate, workers run scripts.
func ForAgentType(agentType types.AgentType, deps Dependencies) ([]Tool, error) {
	if agentType.IsWorker() {
		if deps.Sandbox == nil {
			return nil, fmt.Errorf("%w: worker tools need a sandbox", ErrMissingDependency)
		}
		return []Tool{
			NewExecuteScript(deps.Sandbox),
		}, nil
	}

	if deps.Creation == nil || deps.Completions == nil || deps.Cancellation == nil {
		return nil, fmt.Errorf("%w: manager tools need the creation channel, completion and cancellation registries", ErrMissingDependency)
	}
	return []Tool{
		NewReason(),
		NewSpawnWorker(deps),
		NewReadTaskList(),
		NewWriteTaskList(),
	}, nil
}

// Find returns the tool called name.
func Find(tools []Tool, name string) (Tool, bool) {
	for _, tool := range tools {
		if tool.Name() == name {
			return tool, true
		}
	}
	return nil, false
}
