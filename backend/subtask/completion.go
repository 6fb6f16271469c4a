package subtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCompletionTimeout = 5 * time.Minute

	consumedHistorySize = 1024
)

var (
	ErrWaitTimeout     = errors.New("worker execution timeout")
	ErrAlreadyConsumed = errors.New("worker completion already consumed")
	ErrAlreadyWaiting  = errors.New("worker completion already has a waiter")
)

type WorkerCompletion struct {
	WorkerID      types.AgentID
	Success       bool
	Result        string
	Error         string
	ExecutionTime time.Duration
}

func CompletionSucceeded(workerID types.AgentID, result string, elapsed time.Duration) WorkerCompletion {
	return WorkerCompletion{
		WorkerID:      workerID,
		Success:       true,
		Result:        result,
		ExecutionTime: elapsed,
	}
}

func CompletionFailed(workerID types.AgentID, reason string, elapsed time.Duration) WorkerCompletion {
	return WorkerCompletion{
		WorkerID:      workerID,
		Error:         reason,
		ExecutionTime: elapsed,
	}
}

func (c *WorkerCompletion) ExecutionTimeMs() int64 {
	return c.ExecutionTime.Milliseconds()
}

type WaitTimeoutError struct {
	WorkerID types.AgentID
	Timeout  time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("worker execution timeout after %s", e.Timeout)
}

func (e *WaitTimeoutError) Is(target error) bool {
	return target == ErrWaitTimeout
}

type pendingCompletion struct {
	done    chan struct{}
	result  *WorkerCompletion
	waiting bool
}

// CompletionRegistry hands the final result of a worker to the tool call that
// spawned it. Entries are keyed by worker id; each entry is signalled at most
// once and consumed by at most one waiter.
type CompletionRegistry struct {
	mu       sync.Mutex
	entries  map[types.AgentID]*pendingCompletion
	consumed *lru.Cache[types.AgentID, time.Time]
}

func NewCompletionRegistry() *CompletionRegistry {
	consumed, err := lru.New[types.AgentID, time.Time](consumedHistorySize)
	if err != nil {
		panic(fmt.Sprintf("failed to create completion history: %v", err))
	}

	return &CompletionRegistry{
		entries:  make(map[types.AgentID]*pendingCompletion),
		consumed: consumed,
	}
}

// Register creates the entry for workerID ahead of the worker's start so a
// result published before anybody waits is kept.
func (r *CompletionRegistry) Register(workerID types.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[workerID]; !ok {
		r.entries[workerID] = &pendingCompletion{done: make(chan struct{})}
	}
}

// Wait blocks until the completion of workerID is published, timeout
// elapses or ctx ends. On timeout the entry is removed; a result published
// afterwards is dropped.
func (r *CompletionRegistry) Wait(ctx context.Context, workerID types.AgentID, timeout time.Duration) (*WorkerCompletion, error) {
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}

	r.mu.Lock()
	if r.consumed.Contains(workerID) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConsumed, workerID)
	}

	entry, ok := r.entries[workerID]
	if !ok {
		entry = &pendingCompletion{done: make(chan struct{})}
		r.entries[workerID] = entry
	}
	if entry.waiting {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWaiting, workerID)
	}
	entry.waiting = true
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
	case <-timer.C:
		if r.abandon(workerID, entry) {
			slog.Warn("timed out waiting for worker completion",
				"worker_id", workerID,
				"timeout", timeout,
			)
			return nil, &WaitTimeoutError{WorkerID: workerID, Timeout: timeout}
		}
	case <-ctx.Done():
		if r.abandon(workerID, entry) {
			return nil, ctx.Err()
		}
	}

	return r.collect(workerID, entry), nil
}

// Publish stores completion and wakes its waiter. Completions for unknown
// workers and repeated completions are dropped with a warning.
func (r *CompletionRegistry) Publish(completion WorkerCompletion) bool {
	r.mu.Lock()
	entry, ok := r.entries[completion.WorkerID]
	if !ok || entry.result != nil {
		r.mu.Unlock()
		slog.Warn("dropping worker completion without waiter",
			"worker_id", completion.WorkerID,
			"success", completion.Success,
		)
		return false
	}

	entry.result = &completion
	close(entry.done)
	r.mu.Unlock()

	return true
}

// Forget drops the entry of workerID, for workers whose spawner went away
// before it could wait.
func (r *CompletionRegistry) Forget(workerID types.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, workerID)
}

// Pending returns the number of entries not yet collected.
func (r *CompletionRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *CompletionRegistry) abandon(workerID types.AgentID, entry *pendingCompletion) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.result != nil {
		return false
	}

	if r.entries[workerID] == entry {
		delete(r.entries, workerID)
	}
	return true
}

func (r *CompletionRegistry) collect(workerID types.AgentID, entry *pendingCompletion) *WorkerCompletion {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[workerID] == entry {
		delete(r.entries, workerID)
	}
	r.consumed.Add(workerID, time.Now())
	return entry.result
}
