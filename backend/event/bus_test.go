package event_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/event"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

func TestBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil)
	defer bus.Close()

	agentID := types.NewAgentID()
	received := make(chan event.Success, 1)
	sub := event.Subscribe(bus, func(ctx context.Context, e event.Success) {
		received <- e
	}, nil)
	defer sub.Unsubscribe()

	event.Publish(bus, event.Success{Header: event.NewHeader(agentID), FinalText: "two accounts"})

	select {
	case e := <-received:
		if e.AgentID != agentID || e.FinalText != "two accounts" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBus_FilterAndTypeIsolation(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil)
	defer bus.Close()

	watched := types.NewAgentID()
	var delivered, failures atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	event.Subscribe(bus, func(ctx context.Context, e event.ToolCallStart) {
		delivered.Add(1)
		wg.Done()
	}, func(e event.ToolCallStart) bool {
		return e.AgentID == watched
	})
	event.Subscribe(bus, func(ctx context.Context, e event.Failed) {
		failures.Add(1)
	}, nil)

	event.Publish(bus, event.ToolCallStart{Header: event.NewHeader(types.NewAgentID()), ToolName: "think"})
	event.Publish(bus, event.ToolCallStart{Header: event.NewHeader(watched), ToolName: "start_task"})

	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	if got := delivered.Load(); got != 1 {
		t.Errorf("delivered %d filtered events, want 1", got)
	}
	if got := failures.Load(); got != 0 {
		t.Errorf("Failed subscriber received %d events of another type", got)
	}
}

func TestBus_ChannelSubscriptionKeepsOrderWithSingleWorker(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil, event.WithWorkers(1))
	defer bus.Close()

	ch, sub := event.SubscribeChannel[event.ToolCallComplete](bus, 16, nil)
	defer sub.Unsubscribe()

	agentID := types.NewAgentID()
	want := []string{"1", "2", "3", "4", "5"}
	for _, id := range want {
		event.Publish(bus, event.ToolCallComplete{Header: event.NewHeader(agentID), CallID: id})
	}

	var got []string
	for range want {
		select {
		case e := <-ch:
			got = append(got, e.CallID)
		case <-time.After(time.Second):
			t.Fatalf("received only %v", got)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil)
	defer bus.Close()

	ch, sub := event.SubscribeChannel[event.Cancelled](bus, 1, nil)
	if got := event.SubscriberCount[event.Cancelled](bus); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if got := event.SubscriberCount[event.Cancelled](bus); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
}

func TestBus_CloseIsSafeWithConcurrentPublishers(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil, event.WithQueueSize(4))
	event.Subscribe(bus, func(ctx context.Context, e event.Failed) {}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				event.Publish(bus, event.Failed{Header: event.NewHeader(types.NewAgentID()), Reason: "boom"})
			}
		}()
	}

	bus.Close()
	bus.Close()
	wg.Wait()

	if !bus.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	event.Publish(bus, event.Failed{Reason: "after close"})
}

func TestBus_DropsWhenChannelIsFull(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	bus := event.NewBus(registry, event.WithWorkers(1))
	defer bus.Close()

	ch, sub := event.SubscribeChannel[event.WorkerSpawned](bus, 1, nil)
	defer sub.Unsubscribe()

	for range 3 {
		event.Publish(bus, event.WorkerSpawned{Header: event.NewHeader(types.NewAgentID())})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if droppedTotal(t, registry) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := droppedTotal(t, registry); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if len(ch) != 1 {
		t.Errorf("channel holds %d events, want 1", len(ch))
	}
}

func droppedTotal(t *testing.T, registry *prometheus.Registry) float64 {
	t.Helper()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	total := 0.0
	for _, family := range families {
		if family.GetName() != "dispatch_bus_events_dropped_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestPublishAgentEvent(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil, event.WithWorkers(1))
	defer bus.Close()

	kinds := make(chan event.Kind, 8)
	event.Subscribe(bus, func(ctx context.Context, e event.AgentCreated) { kinds <- e.Kind() }, nil)
	event.Subscribe(bus, func(ctx context.Context, e event.ToolCallFailed) { kinds <- e.Kind() }, nil)

	managerID := types.NewAgentID()
	event.PublishAgentEvent(bus, event.AgentCreated{Header: event.NewHeader(managerID), AgentType: types.Manager()})
	event.PublishAgentEvent(bus, event.ToolCallFailed{Header: event.NewHeader(managerID), ToolName: "start_task"})
	event.PublishAgentEvent(nil, event.Cancelled{})

	var got []event.Kind
	for range 2 {
		select {
		case kind := <-kinds:
			got = append(got, kind)
		case <-time.After(time.Second):
			t.Fatalf("received only %v", got)
		}
	}
	if diff := cmp.Diff([]event.Kind{event.KindAgentCreated, event.KindToolCallFailed}, got); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil)
	bus.Close()

	ch, sub := event.SubscribeChannel[event.Success](bus, 1, nil)
	if _, ok := <-ch; ok {
		t.Error("channel of a closed bus is open")
	}
	sub.Unsubscribe()

	event.Subscribe(bus, func(ctx context.Context, e event.Success) {
		t.Error("handler called on closed bus")
	}, nil)
	if got := event.SubscriberCount[event.Success](bus); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
}
