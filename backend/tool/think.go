package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

const thinkDescription = `Use this tool when you need to pause and think through complex reasoning or planning. It will not obtain new information or change anything, but will log your thought process.

## When to use
- Before breaking a request down into worker tasks
- After a worker returned, to check whether its result answers the request
- When a worker failed and you need to decide how to rephrase the task`

type ThinkInput struct {
	Thought string `json:"thought" jsonschema:"description=Your reasoning, analysis or planning thoughts"`
}

type ThinkResult struct {
	Thought string `json:"thought"`
}

// Reason lets the model think out loud. It has no side effects.
type Reason struct {
	schema map[string]any
}

func NewReason() *Reason {
	return &Reason{schema: inputSchema[ThinkInput]()}
}

func (*Reason) sealed()                  {}
func (*Reason) Kind() Kind               { return KindReason }
func (*Reason) Name() string             { return ToolThink }
func (*Reason) Description() string      { return thinkDescription }
func (t *Reason) Schema() map[string]any { return t.schema }

func (t *Reason) Execute(ctx context.Context, session *Session, raw json.RawMessage) (*Result, error) {
	input, failed := decodeInput[ThinkInput](ToolThink, raw)
	if failed != nil {
		return failed, nil
	}
	if strings.TrimSpace(input.Thought) == "" {
		return failure("thought cannot be empty"), nil
	}

	slog.DebugContext(ctx, "agent thinking", "agent_id", session.AgentID, "thought", input.Thought)
	return success(ThinkResult{Thought: input.Thought})
}
