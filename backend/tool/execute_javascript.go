package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/furisto/dispatch/backend/sandbox"
	"github.com/furisto/dispatch/shared/conv"
)

const executeJavaScriptDescription = `Execute JavaScript in an isolated sandbox to query the AWS environment.

## Available functions
- **listAccounts()**: accounts available to this session
- **listRegions()**: region codes with display names
- **queryResources({accounts?, regions?, resourceTypes})**: resources of the given types
- **queryCloudWatchLogEvents({logGroupName, accountId, region, startTime?, endTime?, filterPattern?, limit?, logStreamNames?})**: log events with statistics
- **getCloudTrailEvents({accountId, region, startTime?, endTime?, lookupAttributes?, maxResults?, nextToken?})**: audit events
- **console.log/info/warn/debug/error**: captured into stdout and stderr

## IMPORTANT USAGE NOTES
- Every execution starts from an empty environment. Nothing survives between executions.
- The value of the last expression is returned as JSON. Functions and circular structures cannot be returned.
- Execution is limited to %s and %s of memory.

## Expected Output
%[3]s
{
  "success": true,
  "result": "<JSON of the last expression>",
  "stdout": "...",
  "stderr": "",
  "execution_time_ms": 12
}
%[3]s`

type ExecuteJavaScriptInput struct {
	Code string `json:"code" jsonschema:"description=JavaScript source. The value of the last expression is the result."`
}

// ExecuteScript runs model-written JavaScript in the sandbox.
type ExecuteScript struct {
	engine *sandbox.Engine
	schema map[string]any
}

func NewExecuteScript(engine *sandbox.Engine) *ExecuteScript {
	return &ExecuteScript{
		engine: engine,
		schema: inputSchema[ExecuteJavaScriptInput](),
	}
}

func (*ExecuteScript) sealed()                  {}
func (*ExecuteScript) Kind() Kind               { return KindExecuteScript }
func (*ExecuteScript) Name() string             { return ToolExecuteJavaScript }
func (t *ExecuteScript) Schema() map[string]any { return t.schema }

func (t *ExecuteScript) Description() string {
	config := t.engine.Config()
	return fmt.Sprintf(executeJavaScriptDescription, config.Timeout, humanize.IBytes(config.MemoryLimitBytes), "```")
}

func (t *ExecuteScript) Execute(ctx context.Context, session *Session, raw json.RawMessage) (*Result, error) {
	input, failed := decodeInput[ExecuteJavaScriptInput](ToolExecuteJavaScript, raw)
	if failed != nil {
		return failed, nil
	}
	if strings.TrimSpace(input.Code) == "" {
		return failure("code cannot be empty", "Provide the JavaScript source to execute"), nil
	}

	result, err := t.engine.Execute(ctx, input.Code)
	if err == nil {
		return success(result)
	}

	var sandboxErr *sandbox.Error
	if !errors.As(err, &sandboxErr) {
		return nil, fmt.Errorf("sandbox execution failed: %w", err)
	}
	if sandboxErr.Kind == sandbox.ErrorKindCancelled && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.DebugContext(ctx, "script failed", "agent_id", session.AgentID, "kind", sandboxErr.Kind, "error", sandboxErr.Message)

	result.Error = conv.ScriptErrorHint(result.Error)
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool output: %w", err)
	}
	return &Result{
		Output:  string(encoded),
		IsError: true,
		Cause:   sandboxErr.Cause,
	}, nil
}
