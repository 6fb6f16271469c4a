package analytics

import (
	"context"

	"github.com/furisto/dispatch/backend/event"
	"github.com/posthog/posthog-go"
)

const DefaultDistinctID = "user"

// NewClient creates a posthog client for apiKey.
func NewClient(apiKey string) (posthog.Client, error) {
	return posthog.NewWithConfig(apiKey, posthog.Config{})
}

// Tracker forwards agent lifecycle events from the bus to posthog. Task
// descriptions and tool output never leave the process.
type Tracker struct {
	client        Enqueuer
	distinctID    string
	subscriptions []*event.Subscription
}

func NewTracker(client Enqueuer, distinctID string) *Tracker {
	if distinctID == "" {
		distinctID = DefaultDistinctID
	}
	return &Tracker{client: client, distinctID: distinctID}
}

func (t *Tracker) Subscribe(bus *event.Bus) {
	t.subscriptions = append(t.subscriptions,
		event.Subscribe(bus, func(_ context.Context, e event.AgentCreated) {
			EmitAgentCreated(t.client, t.distinctID, e.AgentID.String(), e.AgentType.Kind().String())
		}, nil),
		event.Subscribe(bus, func(_ context.Context, e event.WorkerSpawned) {
			EmitWorkerSpawned(t.client, t.distinctID, e.AgentID.String(), e.WorkerID.String())
		}, nil),
		event.Subscribe(bus, func(_ context.Context, e event.ToolCallComplete) {
			EmitToolCalled(t.client, t.distinctID, e.AgentID.String(), e.ToolName, true, e.Duration)
		}, nil),
		event.Subscribe(bus, func(_ context.Context, e event.ToolCallFailed) {
			EmitToolCalled(t.client, t.distinctID, e.AgentID.String(), e.ToolName, false, e.Duration)
		}, nil),
		event.Subscribe(bus, func(_ context.Context, e event.Success) {
			EmitAgentFinished(t.client, t.distinctID, e.AgentID.String(), "success")
		}, nil),
		event.Subscribe(bus, func(_ context.Context, e event.Failed) {
			EmitAgentFinished(t.client, t.distinctID, e.AgentID.String(), "failed")
		}, nil),
		event.Subscribe(bus, func(_ context.Context, e event.Cancelled) {
			EmitAgentFinished(t.client, t.distinctID, e.AgentID.String(), "cancelled")
		}, nil),
	)
}

func (t *Tracker) Unsubscribe() {
	for _, subscription := range t.subscriptions {
		subscription.Unsubscribe()
	}
	t.subscriptions = nil
}
