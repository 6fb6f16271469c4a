package agent

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/model"
	"github.com/google/go-cmp/cmp"
)

func historyTexts(h *History) []string {
	var texts []string
	for _, message := range h.Messages() {
		texts = append(texts, message.Text())
	}
	return texts
}

func TestHistoryEviction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		limit   int
		inserts int
		want    []string
	}{
		{
			name:    "below limit",
			limit:   3,
			inserts: 2,
			want:    []string{"message 0", "message 1"},
		},
		{
			name:    "at limit",
			limit:   3,
			inserts: 3,
			want:    []string{"message 0", "message 1", "message 2"},
		},
		{
			name:    "one over limit",
			limit:   3,
			inserts: 4,
			want:    []string{"message 1", "message 2", "message 3"},
		},
		{
			name:    "limit of one",
			limit:   1,
			inserts: 5,
			want:    []string{"message 4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			history := NewHistory(tt.limit)
			for i := range tt.inserts {
				history.Append(model.NewUserMessage(fmt.Sprintf("message %d", i)))
			}

			if diff := cmp.Diff(tt.want, historyTexts(history)); diff != "" {
				t.Errorf("Messages() mismatch (-want +got):\n%s", diff)
			}
			if history.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", history.Len(), len(tt.want))
			}
		})
	}
}

func TestHistoryDefaultLimit(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{0, -1} {
		if got := NewHistory(limit).Limit(); got != DefaultHistoryLimit {
			t.Errorf("NewHistory(%d).Limit() = %d, want %d", limit, got, DefaultHistoryLimit)
		}
	}
}

func TestHistoryMessagesAreCopies(t *testing.T) {
	t.Parallel()

	history := NewHistory(2)
	history.Append(model.NewUserMessage("first"))

	messages := history.Messages()
	messages[0] = model.NewUserMessage("changed")

	if diff := cmp.Diff([]string{"first"}, historyTexts(history)); diff != "" {
		t.Errorf("Messages() mismatch (-want +got):\n%s", diff)
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	tests := []struct {
		name      string
		agentType types.AgentType
		contains  string
	}{
		{name: "manager", agentType: types.Manager(), contains: "start_task"},
		{name: "worker", agentType: types.Worker(types.NewAgentID()), contains: "execute_javascript"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prompt := SystemPrompt(tt.agentType, now)
			if strings.Contains(prompt, "{{CURRENT_DATETIME}}") {
				t.Error("prompt still contains the datetime placeholder")
			}
			if !strings.Contains(prompt, "2025-03-14 09:26:53 UTC") {
				t.Error("prompt does not contain the current time")
			}
			if !strings.Contains(prompt, tt.contains) {
				t.Errorf("prompt does not mention %q", tt.contains)
			}
		})
	}
}
