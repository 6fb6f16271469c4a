package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAgentTypeParent(t *testing.T) {
	t.Parallel()

	parent := NewAgentID()

	tests := []struct {
		name       string
		agentType  AgentType
		wantParent AgentID
		wantOK     bool
		wantKind   AgentKind
	}{
		{
			name:      "manager",
			agentType: Manager(),
			wantKind:  AgentKindManager,
		},
		{
			name:       "worker",
			agentType:  Worker(parent),
			wantParent: parent,
			wantOK:     true,
			wantKind:   AgentKindWorker,
		},
		{
			name:      "zero value",
			agentType: AgentType{},
			wantKind:  AgentKindManager,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for range 3 {
				got, ok := tt.agentType.ParentID()
				if ok != tt.wantOK || got != tt.wantParent {
					t.Fatalf("ParentID() = %s, %v; want %s, %v", got, ok, tt.wantParent, tt.wantOK)
				}
			}
			if tt.agentType.Kind() != tt.wantKind {
				t.Errorf("Kind() = %s, want %s", tt.agentType.Kind(), tt.wantKind)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from AgentStatus
		to   AgentStatus
		want bool
	}{
		{Running(), Paused(), true},
		{Paused(), Running(), true},
		{Running(), Completed(), true},
		{Running(), Failed("boom"), true},
		{Paused(), Cancelled(), true},
		{Paused(), Failed("boom"), true},
		{Running(), Running(), false},
		{Paused(), Paused(), false},
		{Completed(), Running(), false},
		{Failed("boom"), Running(), false},
		{Cancelled(), Completed(), false},
		{Cancelled(), Cancelled(), false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			t.Parallel()
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgentIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := NewAgentID()
	parsed, err := ParseAgentID(id.String())
	if err != nil {
		t.Fatalf("ParseAgentID() error = %v", err)
	}
	if diff := cmp.Diff(id, parsed); diff != "" {
		t.Errorf("ParseAgentID() mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseAgentID("not-a-uuid"); err == nil {
		t.Error("ParseAgentID() expected error for invalid input")
	}

	if NewAgentID() == NewAgentID() {
		t.Error("NewAgentID() returned duplicate ids")
	}
}
