package event

import (
	"encoding/json"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
)

type Kind string

const (
	KindToolCallStart    Kind = "tool_call_start"
	KindToolCallComplete Kind = "tool_call_complete"
	KindToolCallFailed   Kind = "tool_call_failed"
	KindSuccess          Kind = "success"
	KindFailed           Kind = "failed"
	KindCancelled        Kind = "cancelled"
	KindWorkerSpawned    Kind = "worker_spawned"
	KindAgentCreated     Kind = "agent_created"
)

// AgentEvent is what an agent reports on its outbound channel. The set of
// implementations is closed.
type AgentEvent interface {
	Kind() Kind
	Agent() types.AgentID
	Timestamp() time.Time

	agentEvent()
}

type Header struct {
	AgentID types.AgentID `json:"agent_id"`
	Time    time.Time     `json:"time"`
}

func NewHeader(agentID types.AgentID) Header {
	return Header{AgentID: agentID, Time: time.Now()}
}

func (h Header) Agent() types.AgentID { return h.AgentID }
func (h Header) Timestamp() time.Time  { return h.Time }
func (Header) agentEvent()             {}

type ToolCallStart struct {
	Header
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

func (ToolCallStart) Kind() Kind { return KindToolCallStart }

type ToolCallComplete struct {
	Header
	CallID   string        `json:"call_id"`
	ToolName string        `json:"tool_name"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

func (ToolCallComplete) Kind() Kind { return KindToolCallComplete }

// ToolCallFailed reports a tool call whose failure was handed back to the
// model. The agent keeps running.
type ToolCallFailed struct {
	Header
	CallID   string        `json:"call_id"`
	ToolName string        `json:"tool_name"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (ToolCallFailed) Kind() Kind { return KindToolCallFailed }

type Success struct {
	Header
	FinalText string `json:"final_text"`
}

func (Success) Kind() Kind { return KindSuccess }

type Failed struct {
	Header
	Reason string `json:"reason"`
}

func (Failed) Kind() Kind { return KindFailed }

type Cancelled struct {
	Header
}

func (Cancelled) Kind() Kind { return KindCancelled }

// WorkerSpawned is reported by the manager whose tool call created WorkerID.
type WorkerSpawned struct {
	Header
	WorkerID types.AgentID `json:"worker_id"`
	Task     string        `json:"task"`
}

func (WorkerSpawned) Kind() Kind { return KindWorkerSpawned }

type AgentCreated struct {
	Header
	AgentType types.AgentType `json:"agent_type"`
	Name      string          `json:"name"`
}

func (AgentCreated) Kind() Kind { return KindAgentCreated }

// PublishAgentEvent forwards an outbound agent event to the bus. A nil bus
// is ignored.
func PublishAgentEvent(bus *Bus, e AgentEvent) {
	if bus == nil || e == nil {
		return
	}
	Publish(bus, e)
}
