package subtask_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/subtask"
	"github.com/google/go-cmp/cmp"
)

func TestCompletionDelivery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		completion   func(types.AgentID) subtask.WorkerCompletion
		preRegister  bool
		publishFirst bool
	}{
		{
			name: "publish before wait",
			completion: func(id types.AgentID) subtask.WorkerCompletion {
				return subtask.CompletionSucceeded(id, "found 2 accounts", 120*time.Millisecond)
			},
			preRegister:  true,
			publishFirst: true,
		},
		{
			name: "publish while waiting",
			completion: func(id types.AgentID) subtask.WorkerCompletion {
				return subtask.CompletionSucceeded(id, "done", time.Second)
			},
		},
		{
			name: "failed worker",
			completion: func(id types.AgentID) subtask.WorkerCompletion {
				return subtask.CompletionFailed(id, "Cancelled by parent agent", 0)
			},
			preRegister: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			registry := subtask.NewCompletionRegistry()
			workerID := types.NewAgentID()
			want := tt.completion(workerID)

			if tt.preRegister {
				registry.Register(workerID)
			}

			if tt.publishFirst {
				if !registry.Publish(want) {
					t.Fatal("Publish() = false for registered worker")
				}
			} else {
				go func() {
					for registry.Pending() == 0 {
						time.Sleep(time.Millisecond)
					}
					registry.Publish(want)
				}()
			}

			got, err := registry.Wait(context.Background(), workerID, time.Second)
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
			if diff := cmp.Diff(want, *got); diff != "" {
				t.Errorf("Wait() mismatch (-want +got):\n%s", diff)
			}
			if pending := registry.Pending(); pending != 0 {
				t.Errorf("Pending() = %d, want 0", pending)
			}
		})
	}
}

func TestCompletionTimeoutRemovesEntry(t *testing.T) {
	t.Parallel()

	registry := subtask.NewCompletionRegistry()
	workerID := types.NewAgentID()
	registry.Register(workerID)

	start := time.Now()
	_, err := registry.Wait(context.Background(), workerID, 50*time.Millisecond)
	if !errors.Is(err, subtask.ErrWaitTimeout) {
		t.Fatalf("Wait() error = %v, want ErrWaitTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Wait() returned after %s, before the timeout", elapsed)
	}

	var timeoutErr *subtask.WaitTimeoutError
	if !errors.As(err, &timeoutErr) || timeoutErr.WorkerID != workerID {
		t.Errorf("Wait() error = %#v, want WaitTimeoutError for %s", err, workerID)
	}
	if pending := registry.Pending(); pending != 0 {
		t.Errorf("Pending() = %d, want 0 after timeout", pending)
	}

	if registry.Publish(subtask.CompletionSucceeded(workerID, "late", time.Minute)) {
		t.Error("Publish() after timeout = true, want false")
	}
	if pending := registry.Pending(); pending != 0 {
		t.Errorf("Pending() = %d, want 0 after late publish", pending)
	}
}

func TestCompletionAlreadyConsumed(t *testing.T) {
	t.Parallel()

	registry := subtask.NewCompletionRegistry()
	workerID := types.NewAgentID()
	registry.Register(workerID)
	registry.Publish(subtask.CompletionSucceeded(workerID, "ok", 0))

	if _, err := registry.Wait(context.Background(), workerID, time.Second); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	_, err := registry.Wait(context.Background(), workerID, time.Second)
	if !errors.Is(err, subtask.ErrAlreadyConsumed) {
		t.Fatalf("second Wait() error = %v, want ErrAlreadyConsumed", err)
	}
}

func TestCompletionSingleWaiter(t *testing.T) {
	t.Parallel()

	registry := subtask.NewCompletionRegistry()
	workerID := types.NewAgentID()
	registry.Register(workerID)

	first := make(chan error, 1)
	go func() {
		_, err := registry.Wait(context.Background(), workerID, time.Second)
		first <- err
	}()

	time.Sleep(50 * time.Millisecond)

	_, err := registry.Wait(context.Background(), workerID, 10*time.Millisecond)
	if !errors.Is(err, subtask.ErrAlreadyWaiting) {
		t.Fatalf("concurrent Wait() error = %v, want ErrAlreadyWaiting", err)
	}

	registry.Publish(subtask.CompletionSucceeded(workerID, "ok", 0))
	if err := <-first; err != nil {
		t.Errorf("first Wait() error = %v", err)
	}
}

func TestCompletionPublishWithoutEntry(t *testing.T) {
	t.Parallel()

	registry := subtask.NewCompletionRegistry()
	workerID := types.NewAgentID()

	if registry.Publish(subtask.CompletionSucceeded(workerID, "orphan", 0)) {
		t.Error("Publish() without entry = true, want false")
	}

	registry.Register(workerID)
	if !registry.Publish(subtask.CompletionSucceeded(workerID, "first", 0)) {
		t.Fatal("Publish() = false, want true")
	}
	if registry.Publish(subtask.CompletionSucceeded(workerID, "second", 0)) {
		t.Error("repeated Publish() = true, want false")
	}

	got, err := registry.Wait(context.Background(), workerID, time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got.Result != "first" {
		t.Errorf("Wait() result = %q, want %q", got.Result, "first")
	}
}

func TestCompletionContextCancelled(t *testing.T) {
	t.Parallel()

	registry := subtask.NewCompletionRegistry()
	workerID := types.NewAgentID()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := registry.Wait(ctx, workerID, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	if pending := registry.Pending(); pending != 0 {
		t.Errorf("Pending() = %d, want 0", pending)
	}
}

func TestCompletionForget(t *testing.T) {
	t.Parallel()

	registry := subtask.NewCompletionRegistry()
	workerID := types.NewAgentID()
	registry.Register(workerID)
	registry.Forget(workerID)

	if pending := registry.Pending(); pending != 0 {
		t.Errorf("Pending() = %d, want 0", pending)
	}
}
