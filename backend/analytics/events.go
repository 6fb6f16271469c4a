package analytics

import (
	"log/slog"
	"time"

	"github.com/posthog/posthog-go"
)

// Enqueuer is the part of posthog.Client the tracker needs.
type Enqueuer interface {
	Enqueue(posthog.Message) error
}

func enqueue(client Enqueuer, capture posthog.Capture) {
	if err := client.Enqueue(capture); err != nil {
		slog.Debug("failed to enqueue analytics event", "event", capture.Event, "error", err)
	}
}

func EmitAgentCreated(client Enqueuer, distinctID string, agentID string, agentKind string) {
	enqueue(client, posthog.Capture{
		DistinctId: distinctID,
		Event:      "agent_created",
		Properties: map[string]interface{}{
			"agent_id":   agentID,
			"agent_kind": agentKind,
		},
	})
}

func EmitWorkerSpawned(client Enqueuer, distinctID string, managerID string, workerID string) {
	enqueue(client, posthog.Capture{
		DistinctId: distinctID,
		Event:      "worker_spawned",
		Properties: map[string]interface{}{
			"manager_id": managerID,
			"worker_id":  workerID,
		},
	})
}

func EmitToolCalled(client Enqueuer, distinctID string, agentID string, toolName string, succeeded bool, duration time.Duration) {
	enqueue(client, posthog.Capture{
		DistinctId: distinctID,
		Event:      "tool_called",
		Properties: map[string]interface{}{
			"agent_id":    agentID,
			"tool_name":   toolName,
			"succeeded":   succeeded,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

func EmitAgentFinished(client Enqueuer, distinctID string, agentID string, outcome string) {
	enqueue(client, posthog.Capture{
		DistinctId: distinctID,
		Event:      "agent_finished",
		Properties: map[string]interface{}{
			"agent_id": agentID,
			"outcome":  outcome,
		},
	})
}
