package subtask_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/subtask"
	"github.com/furisto/dispatch/shared/resilience"
	"github.com/google/go-cmp/cmp"
)

func serve(t *testing.T, channel *subtask.CreationChannel, handle func(subtask.CreationRequest) subtask.CreationResponse) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case request := <-channel.Requests():
				channel.Respond(handle(request))
			}
		}
	}()
}

func TestCreationRequest(t *testing.T) {
	t.Parallel()

	parent := types.NewAgentID()
	created := types.NewAgentID()

	tests := []struct {
		name    string
		handle  func(subtask.CreationRequest) subtask.CreationResponse
		wantID  types.AgentID
		wantErr string
	}{
		{
			name: "success",
			handle: func(request subtask.CreationRequest) subtask.CreationResponse {
				return subtask.CreationSucceeded(request.RequestID, created)
			},
			wantID: created,
		},
		{
			name: "refused",
			handle: func(request subtask.CreationRequest) subtask.CreationResponse {
				return subtask.CreationFailed(request.RequestID, errors.New("parent agent not found"))
			},
			wantID:  types.NilAgentID,
			wantErr: "agent creation failed: parent agent not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			channel := subtask.NewCreationChannel()
			var seen subtask.CreationRequest
			serve(t, channel, func(request subtask.CreationRequest) subtask.CreationResponse {
				seen = request
				return tt.handle(request)
			})

			id, err := channel.Request(context.Background(), "list accounts", types.Worker(parent), time.Second)
			if tt.wantErr != "" {
				var creationErr *subtask.CreationError
				if !errors.As(err, &creationErr) {
					t.Fatalf("Request() error = %v, want CreationError", err)
				}
				if err.Error() != tt.wantErr {
					t.Errorf("Request() error = %q, want %q", err.Error(), tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Request() unexpected error = %v", err)
			}

			if id != tt.wantID {
				t.Errorf("Request() id = %s, want %s", id, tt.wantID)
			}
			if seen.TaskDescription != "list accounts" {
				t.Errorf("TaskDescription = %q", seen.TaskDescription)
			}
			if got, ok := seen.ParentID(); !ok || got != parent {
				t.Errorf("ParentID() = %s, %v; want %s", got, ok, parent)
			}
			if pending := channel.Pending(); pending != 0 {
				t.Errorf("Pending() = %d, want 0", pending)
			}
		})
	}
}

func TestCreationTimeout(t *testing.T) {
	t.Parallel()

	channel := subtask.NewCreationChannel()

	start := time.Now()
	_, err := channel.Request(context.Background(), "task", types.Manager(), 50*time.Millisecond)
	if !errors.Is(err, subtask.ErrCreationTimeout) {
		t.Fatalf("Request() error = %v, want ErrCreationTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Request() returned after %s, before the timeout", elapsed)
	}
	if pending := channel.Pending(); pending != 0 {
		t.Errorf("Pending() = %d, want 0 after timeout", pending)
	}

	request := <-channel.Requests()
	if channel.Respond(subtask.CreationSucceeded(request.RequestID, types.NewAgentID())) {
		t.Error("Respond() after timeout = true, want false")
	}
}

func TestCreationQueueFull(t *testing.T) {
	t.Parallel()

	channel := subtask.NewCreationChannel(
		subtask.WithQueueSize(1),
		subtask.WithEnqueueRetry(&resilience.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		}),
	)

	go channel.Request(context.Background(), "first", types.Manager(), time.Second)
	deadline := time.After(time.Second)
	for len(channel.Requests()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first request was never queued")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := channel.Request(context.Background(), "second", types.Manager(), time.Second)
	if !errors.Is(err, subtask.ErrQueueUnavailable) {
		t.Fatalf("Request() error = %v, want ErrQueueUnavailable", err)
	}
}

func TestCreationClosed(t *testing.T) {
	t.Parallel()

	channel := subtask.NewCreationChannel()
	channel.Close()
	channel.Close()

	_, err := channel.Request(context.Background(), "task", types.Manager(), time.Second)
	if !errors.Is(err, subtask.ErrQueueUnavailable) {
		t.Fatalf("Request() error = %v, want ErrQueueUnavailable", err)
	}
	if pending := channel.Pending(); pending != 0 {
		t.Errorf("Pending() = %d, want 0", pending)
	}
}

func TestCreationContextCancelled(t *testing.T) {
	t.Parallel()

	channel := subtask.NewCreationChannel()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := channel.Request(ctx, "task", types.Manager(), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Request() error = %v, want context.Canceled", err)
	}
}

func TestCreationRequestIDsAreUnique(t *testing.T) {
	t.Parallel()

	channel := subtask.NewCreationChannel()

	var mu sync.Mutex
	seen := map[uint64]int{}
	serve(t, channel, func(request subtask.CreationRequest) subtask.CreationResponse {
		mu.Lock()
		seen[request.RequestID]++
		mu.Unlock()
		return subtask.CreationSucceeded(request.RequestID, types.NewAgentID())
	})

	const requests = 20
	var wg sync.WaitGroup
	ids := make([]types.AgentID, requests)
	for i := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := channel.Request(context.Background(), "task", types.Manager(), 2*time.Second)
			if err != nil {
				t.Errorf("Request() error = %v", err)
			}
			ids[i] = id
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != requests {
		t.Errorf("saw %d distinct request ids, want %d", len(seen), requests)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("request id %d used %d times", id, count)
		}
	}

	unique := map[types.AgentID]bool{}
	for _, id := range ids {
		unique[id] = true
	}
	if diff := cmp.Diff(requests, len(unique)); diff != "" {
		t.Errorf("distinct agent ids mismatch (-want +got):\n%s", diff)
	}
}
