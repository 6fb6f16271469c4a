package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/event"
	"github.com/furisto/dispatch/backend/subtask"
)

const startTaskDescription = `Spawn a worker agent to execute an AWS task using JavaScript APIs. Blocks until the worker finished and returns its result.

**CRITICAL**: The worker cannot see this conversation. Include comprehensive context in your task description:
- What the user asked for and why
- The accounts, regions and resource types involved
- What the worker should report back

## Good example
'User asked: "Find all production EC2 instances with high CPU usage"
Task: List all EC2 instances in accounts with "prod" in the name. Report instance id, type, state and tags.'

## Bad example
'Use queryResources() to call EC2' (too implementation-focused, lacks context)

## Expected Output
%[1]s
{
  "result": "worker's final answer",
  "execution_time_ms": 1234
}
%[1]s`

type StartTaskInput struct {
	TaskDescription      string `json:"task_description" jsonschema:"description=High-level description of WHAT to accomplish (verb + subject + constraints). Do NOT specify implementation details."`
	ExpectedOutputFormat string `json:"expected_output_format,omitempty" jsonschema:"description=Optional description of the expected output format"`
}

type StartTaskResult struct {
	Result          string `json:"result"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// WorkerMessage is the first message a worker receives for input.
func (input StartTaskInput) WorkerMessage() string {
	task := strings.TrimSpace(input.TaskDescription)
	format := strings.TrimSpace(input.ExpectedOutputFormat)
	if format == "" {
		return task
	}
	return fmt.Sprintf("%s\n\nExpected output format: %s", task, format)
}

// SpawnWorker delegates a task to a new worker and waits for its completion.
// The worker is cancelled when the wait gives up, so no worker outlives the
// call that created it.
type SpawnWorker struct {
	deps   Dependencies
	schema map[string]any
}

func NewSpawnWorker(deps Dependencies) *SpawnWorker {
	return &SpawnWorker{
		deps:   deps,
		schema: inputSchema[StartTaskInput](),
	}
}

func (*SpawnWorker) sealed()                  {}
func (*SpawnWorker) Kind() Kind               { return KindSpawnWorker }
func (*SpawnWorker) Name() string             { return ToolStartTask }
func (t *SpawnWorker) Schema() map[string]any { return t.schema }

func (*SpawnWorker) Description() string {
	return fmt.Sprintf(startTaskDescription, "```")
}

func (t *SpawnWorker) Execute(ctx context.Context, session *Session, raw json.RawMessage) (*Result, error) {
	input, failed := decodeInput[StartTaskInput](ToolStartTask, raw)
	if failed != nil {
		return failed, nil
	}
	if strings.TrimSpace(input.TaskDescription) == "" {
		return failure("task_description cannot be empty",
			"Describe what the worker should accomplish, including the context of the user's request",
		), nil
	}
	if !session.AgentType.IsManager() {
		return failure("only managers can start tasks"), nil
	}

	message := input.WorkerMessage()
	workerID, err := t.deps.Creation.Request(ctx, message, types.Worker(session.AgentID), t.deps.CreationTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.WarnContext(ctx, "failed to create worker", "agent_id", session.AgentID, "error", err)
		return failure(fmt.Sprintf("Failed to create worker: %s", creationFailure(err)),
			"Wait for running tasks to finish before starting another one",
		), nil
	}

	slog.InfoContext(ctx, "worker started", "agent_id", session.AgentID, "worker_id", workerID)
	session.emit(event.WorkerSpawned{
		Header:   event.NewHeader(session.AgentID),
		WorkerID: workerID,
		Task:     message,
	})

	completion, err := t.deps.Completions.Wait(ctx, workerID, t.deps.CompletionTimeout)
	if err != nil {
		t.deps.Cancellation.Cancel(workerID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.WarnContext(ctx, "worker did not complete", "agent_id", session.AgentID, "worker_id", workerID, "error", err)
		var timeoutErr *subtask.WaitTimeoutError
		if errors.As(err, &timeoutErr) {
			return failure(fmt.Sprintf("Worker execution timeout after %.0f seconds", timeoutErr.Timeout.Seconds()),
				"Split the task into smaller tasks",
			), nil
		}
		return failure(fmt.Sprintf("Failed to collect worker result: %s", err)), nil
	}

	if !completion.Success {
		return failure(fmt.Sprintf("Worker failed: %s", completion.Error)), nil
	}

	return success(StartTaskResult{
		Result:          completion.Result,
		ExecutionTimeMs: completion.ExecutionTimeMs(),
	})
}

func creationFailure(err error) string {
	var creationErr *subtask.CreationError
	if errors.As(err, &creationErr) {
		return creationErr.Message
	}
	return err.Error()
}
