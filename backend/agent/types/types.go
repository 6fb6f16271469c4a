package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AgentID uuid.UUID

var NilAgentID = AgentID(uuid.Nil)

func NewAgentID() AgentID {
	return AgentID(uuid.New())
}

func ParseAgentID(s string) (AgentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilAgentID, fmt.Errorf("invalid agent id %q: %w", s, err)
	}
	return AgentID(id), nil
}

func (id AgentID) String() string {
	return uuid.UUID(id).String()
}

// Short returns the first eight characters of the id, enough to tell
// agents apart in logs and prompts.
func (id AgentID) Short() string {
	return id.String()[:8]
}

func (id AgentID) IsNil() bool {
	return id == NilAgentID
}

func (id AgentID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *AgentID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = AgentID(u)
	return nil
}

type AgentKind int

const (
	AgentKindManager AgentKind = iota
	AgentKindWorker
)

func (k AgentKind) String() string {
	switch k {
	case AgentKindManager:
		return "manager"
	case AgentKindWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// AgentType is either a manager or a worker bound to the manager that
// spawned it. The zero value is a manager.
type AgentType struct {
	kind     AgentKind
	parentID AgentID
}

func Manager() AgentType {
	return AgentType{kind: AgentKindManager}
}

func Worker(parentID AgentID) AgentType {
	return AgentType{kind: AgentKindWorker, parentID: parentID}
}

func (t AgentType) Kind() AgentKind {
	return t.kind
}

func (t AgentType) IsManager() bool {
	return t.kind == AgentKindManager
}

func (t AgentType) IsWorker() bool {
	return t.kind == AgentKindWorker
}

// ParentID returns the spawning manager for workers.
func (t AgentType) ParentID() (AgentID, bool) {
	if t.kind != AgentKindWorker {
		return NilAgentID, false
	}
	return t.parentID, true
}

func (t AgentType) DisplayName() string {
	if t.IsWorker() {
		return "Task Worker"
	}
	return "Task Manager"
}

func (t AgentType) String() string {
	if t.IsWorker() {
		return fmt.Sprintf("worker(parent=%s)", t.parentID.Short())
	}
	return "manager"
}

func (t AgentType) MarshalJSON() ([]byte, error) {
	payload := struct {
		Kind     string   `json:"kind"`
		ParentID *AgentID `json:"parent_id,omitempty"`
	}{Kind: t.kind.String()}
	if parent, ok := t.ParentID(); ok {
		payload.ParentID = &parent
	}
	return json.Marshal(payload)
}

type StatusKind int

const (
	StatusRunning StatusKind = iota
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (k StatusKind) String() string {
	switch k {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type AgentStatus struct {
	Kind StatusKind
	// Reason is only set for failed agents.
	Reason string
}

func Running() AgentStatus   { return AgentStatus{Kind: StatusRunning} }
func Paused() AgentStatus    { return AgentStatus{Kind: StatusPaused} }
func Completed() AgentStatus { return AgentStatus{Kind: StatusCompleted} }
func Cancelled() AgentStatus { return AgentStatus{Kind: StatusCancelled} }

func Failed(reason string) AgentStatus {
	return AgentStatus{Kind: StatusFailed, Reason: reason}
}

func (s AgentStatus) IsTerminal() bool {
	switch s.Kind {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether s may move to next. Running and Paused
// alternate, any of them may end in a terminal status and terminal statuses
// never change.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}

	switch s.Kind {
	case StatusRunning:
		return next.Kind == StatusPaused
	case StatusPaused:
		return next.Kind == StatusRunning
	default:
		return false
	}
}

func (s AgentStatus) String() string {
	if s.Kind == StatusFailed && s.Reason != "" {
		return fmt.Sprintf("failed: %s", s.Reason)
	}
	return s.Kind.String()
}

type AgentMetadata struct {
	Name        string
	Description string
	Model       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
