package subtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/shared/resilience"
)

const (
	DefaultCreationTimeout = 5 * time.Second
	DefaultQueueSize       = 32
)

var (
	ErrQueueUnavailable = errors.New("agent creation queue unavailable")
	ErrCreationTimeout  = errors.New("timed out waiting for agent creation")

	errQueueFull = errors.New("agent creation queue is full")
)

type CreationRequest struct {
	RequestID       uint64
	TaskDescription string
	AgentType       types.AgentType
}

// ParentID returns the manager that asked for a worker.
func (r CreationRequest) ParentID() (types.AgentID, bool) {
	return r.AgentType.ParentID()
}

type CreationResponse struct {
	RequestID uint64
	AgentID   types.AgentID
	Success   bool
	Error     string
}

func CreationSucceeded(requestID uint64, agentID types.AgentID) CreationResponse {
	return CreationResponse{RequestID: requestID, AgentID: agentID, Success: true}
}

func CreationFailed(requestID uint64, err error) CreationResponse {
	return CreationResponse{RequestID: requestID, Error: err.Error()}
}

// CreationError is returned to the requester when the owner of the agent
// lifecycle refused to create the agent.
type CreationError struct {
	RequestID uint64
	Message   string
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("agent creation failed: %s", e.Message)
}

// CreationChannel decouples code that needs a new agent from the registry
// that owns agents. Requesters enqueue a CreationRequest and block on a
// one-shot response keyed by the request id. The owner drains Requests and
// answers through Respond.
type CreationChannel struct {
	requests  chan CreationRequest
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	nextID    uint64
	responses map[uint64]chan CreationResponse

	retryConfig *resilience.RetryConfig
}

type CreationChannelOption func(*CreationChannel)

func WithQueueSize(size int) CreationChannelOption {
	return func(c *CreationChannel) {
		c.requests = make(chan CreationRequest, size)
	}
}

func WithEnqueueRetry(config *resilience.RetryConfig) CreationChannelOption {
	return func(c *CreationChannel) {
		c.retryConfig = config
	}
}

func NewCreationChannel(opts ...CreationChannelOption) *CreationChannel {
	channel := &CreationChannel{
		requests:    make(chan CreationRequest, DefaultQueueSize),
		done:        make(chan struct{}),
		responses:   make(map[uint64]chan CreationResponse),
		retryConfig: resilience.LocalRetryConfig(),
	}

	for _, opt := range opts {
		opt(channel)
	}

	return channel
}

// Request asks the lifecycle owner to create an agent and waits up to timeout
// for the answer. A non-positive timeout selects DefaultCreationTimeout.
func (c *CreationChannel) Request(ctx context.Context, task string, agentType types.AgentType, timeout time.Duration) (types.AgentID, error) {
	if timeout <= 0 {
		timeout = DefaultCreationTimeout
	}

	requestID, responseCh := c.register()
	request := CreationRequest{
		RequestID:       requestID,
		TaskDescription: task,
		AgentType:       agentType,
	}

	if err := c.enqueue(ctx, request); err != nil {
		c.unregister(requestID)
		return types.NilAgentID, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-responseCh:
		return toResult(response)
	case <-timer.C:
		if c.unregister(requestID) {
			return types.NilAgentID, fmt.Errorf("%w after %s", ErrCreationTimeout, timeout)
		}
	case <-ctx.Done():
		if c.unregister(requestID) {
			return types.NilAgentID, ctx.Err()
		}
	case <-c.done:
		if c.unregister(requestID) {
			return types.NilAgentID, ErrQueueUnavailable
		}
	}

	// Respond claimed the entry concurrently, the response is on its way.
	return toResult(<-responseCh)
}

// Requests is drained by the owner of the agent lifecycle.
func (c *CreationChannel) Requests() <-chan CreationRequest {
	return c.requests
}

// Respond delivers response to the waiting requester and consumes its
// request id. It returns false when nobody waits for the id anymore, in
// which case the caller owns whatever it created for the request.
func (c *CreationChannel) Respond(response CreationResponse) bool {
	c.mu.Lock()
	responseCh, ok := c.responses[response.RequestID]
	delete(c.responses, response.RequestID)
	c.mu.Unlock()

	if !ok {
		slog.Warn("no requester waiting for creation response",
			"request_id", response.RequestID,
			"agent_id", response.AgentID,
		)
		return false
	}

	responseCh <- response
	return true
}

// Close rejects future requests and releases current waiters.
func (c *CreationChannel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Pending returns the number of requests still waiting for a response.
func (c *CreationChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses)
}

func (c *CreationChannel) register() (uint64, chan CreationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	responseCh := make(chan CreationResponse, 1)
	c.responses[c.nextID] = responseCh
	return c.nextID, responseCh
}

func (c *CreationChannel) unregister(requestID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.responses[requestID]
	delete(c.responses, requestID)
	return ok
}

func (c *CreationChannel) enqueue(ctx context.Context, request CreationRequest) error {
	_, err := resilience.Retry(ctx, c.retryConfig, func() (struct{}, error) {
		select {
		case <-c.done:
			return struct{}{}, resilience.Permanent(ErrQueueUnavailable)
		default:
		}

		select {
		case c.requests <- request:
			return struct{}{}, nil
		default:
			return struct{}{}, errQueueFull
		}
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errQueueFull):
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	default:
		return err
	}
}

func toResult(response CreationResponse) (types.AgentID, error) {
	if !response.Success {
		return types.NilAgentID, &CreationError{
			RequestID: response.RequestID,
			Message:   response.Error,
		}
	}
	return response.AgentID, nil
}
