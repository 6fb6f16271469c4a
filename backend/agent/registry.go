package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/cancellation"
	"github.com/furisto/dispatch/backend/event"
	"github.com/furisto/dispatch/backend/model"
	"github.com/furisto/dispatch/backend/sandbox"
	"github.com/furisto/dispatch/backend/subtask"
	"github.com/furisto/dispatch/backend/tool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxWorkers        = 3
	DefaultCompletionTimeout = 5 * time.Minute
)

type RegistryOptions struct {
	MaxWorkers        int64
	CreationTimeout   time.Duration
	CompletionTimeout time.Duration
	Instance          InstanceOptions
	Bus               *event.Bus
	Metrics           *prometheus.Registry
}

type RegistryOption func(*RegistryOptions)

func WithMaxWorkers(n int64) RegistryOption {
	return func(o *RegistryOptions) {
		if n > 0 {
			o.MaxWorkers = n
		}
	}
}

func WithCreationTimeout(timeout time.Duration) RegistryOption {
	return func(o *RegistryOptions) {
		if timeout > 0 {
			o.CreationTimeout = timeout
		}
	}
}

func WithCompletionTimeout(timeout time.Duration) RegistryOption {
	return func(o *RegistryOptions) {
		if timeout > 0 {
			o.CompletionTimeout = timeout
		}
	}
}

func WithModel(name string, maxTokens int64) RegistryOption {
	return func(o *RegistryOptions) {
		if name != "" {
			o.Instance.Model = name
		}
		if maxTokens > 0 {
			o.Instance.MaxTokens = maxTokens
		}
	}
}

func WithHistoryLimit(limit int) RegistryOption {
	return func(o *RegistryOptions) {
		if limit > 0 {
			o.Instance.HistoryLimit = limit
		}
	}
}

func WithEventBuffer(size int) RegistryOption {
	return func(o *RegistryOptions) {
		if size > 0 {
			o.Instance.EventBuffer = size
		}
	}
}

func WithBus(bus *event.Bus) RegistryOption {
	return func(o *RegistryOptions) {
		o.Bus = bus
	}
}

func WithMetrics(registry *prometheus.Registry) RegistryOption {
	return func(o *RegistryOptions) {
		o.Metrics = registry
	}
}

func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{
		MaxWorkers:        DefaultMaxWorkers,
		CreationTimeout:   subtask.DefaultCreationTimeout,
		CompletionTimeout: DefaultCompletionTimeout,
		Instance:          DefaultInstanceOptions(),
	}
}

// Registry owns every agent of the process. Workers are only created by
// the registry in answer to requests on its creation channel, and each one
// holds one of MaxWorkers slots until it reaches a terminal status.
type Registry struct {
	options  RegistryOptions
	provider model.ModelProvider
	engine   *sandbox.Engine

	creation      *subtask.CreationChannel
	completions   *subtask.CompletionRegistry
	cancellations *cancellation.Registry

	slots         *semaphore.Weighted
	activeWorkers atomic.Int64
	metrics       *agentMetricsProvider
	running       atomic.Bool

	mu     sync.RWMutex
	agents map[types.AgentID]*Instance
}

func NewRegistry(provider model.ModelProvider, engine *sandbox.Engine, opts ...RegistryOption) *Registry {
	options := DefaultRegistryOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Registry{
		options:       options,
		provider:      provider,
		engine:        engine,
		creation:      subtask.NewCreationChannel(),
		completions:   subtask.NewCompletionRegistry(),
		cancellations: cancellation.NewRegistry(),
		slots:         semaphore.NewWeighted(options.MaxWorkers),
		metrics:       newAgentMetricsProvider(options.Metrics),
		agents:        make(map[types.AgentID]*Instance),
	}
}

func (r *Registry) Creation() *subtask.CreationChannel {
	return r.creation
}

func (r *Registry) Completions() *subtask.CompletionRegistry {
	return r.completions
}

func (r *Registry) Cancellations() *cancellation.Registry {
	return r.cancellations
}

func (r *Registry) Options() RegistryOptions {
	return r.options
}

// CreateManager adds a paused manager. It starts working on the first
// SendMessage.
func (r *Registry) CreateManager() (*Instance, error) {
	manager, err := r.newAgent(types.Manager())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.agents[manager.ID()] = manager
	r.mu.Unlock()

	slog.Info("manager created", "agent_id", manager.ID())
	return manager, nil
}

// Run serves worker creation requests until ctx ends. On return the creation
// channel is closed and every agent is cancelled; a registry runs at most
// once at a time.
func (r *Registry) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRegistryRunning
	}
	defer r.running.Store(false)

	slog.Info("agent registry started", "max_workers", r.options.MaxWorkers)

	for {
		select {
		case <-ctx.Done():
			r.creation.Close()
			cancelled := r.CancelAll()
			slog.Info("agent registry stopped", "cancelled", cancelled)
			return nil
		case request := <-r.creation.Requests():
			r.handleCreation(request)
		}
	}
}

func (r *Registry) handleCreation(request subtask.CreationRequest) {
	logger := slog.With("request_id", request.RequestID)

	if err := r.validateParent(request); err != nil {
		logger.Warn("rejecting worker creation", "error", err)
		r.metrics.IncrementRejected("parent_not_found")
		r.creation.Respond(subtask.CreationFailed(request.RequestID, err))
		return
	}

	if !r.slots.TryAcquire(1) {
		err := fmt.Errorf("%w: %d workers are already active", ErrResourceExhausted, r.options.MaxWorkers)
		logger.Warn("rejecting worker creation", "error", err)
		r.metrics.IncrementRejected("resource_exhausted")
		r.creation.Respond(subtask.CreationFailed(request.RequestID, err))
		return
	}

	worker, err := r.newAgent(request.AgentType)
	if err != nil {
		r.releaseSlot()
		logger.Error("failed to create worker", "error", err)
		r.creation.Respond(subtask.CreationFailed(request.RequestID, err))
		return
	}
	r.metrics.SetActiveWorkers(int(r.activeWorkers.Add(1)))

	r.completions.Register(worker.ID())
	r.mu.Lock()
	r.agents[worker.ID()] = worker
	r.mu.Unlock()

	if !r.creation.Respond(subtask.CreationSucceeded(request.RequestID, worker.ID())) {
		logger.Warn("requester is gone, removing worker", "agent_id", worker.ID())
		r.completions.Forget(worker.ID())
		r.mu.Lock()
		delete(r.agents, worker.ID())
		r.mu.Unlock()
		r.releaseSlot()
		return
	}

	// A cancel of the parent that raced this creation has to reach the
	// worker before it starts.
	parentID, _ := request.ParentID()
	if parent := r.Get(parentID); parent == nil || parent.stopping() {
		logger.Info("parent stopped while the worker was created", "agent_id", worker.ID())
		worker.Cancel()
		return
	}

	if err := worker.SendMessage(request.TaskDescription); err != nil {
		logger.Warn("worker ended before its task was sent", "agent_id", worker.ID(), "error", err)
	}
}

func (r *Registry) validateParent(request subtask.CreationRequest) error {
	parentID, ok := request.ParentID()
	if !ok {
		return fmt.Errorf("%w: only workers are created on request", ErrParentNotFound)
	}

	parent := r.Get(parentID)
	switch {
	case parent == nil:
		return fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	case !parent.Type().IsManager():
		return fmt.Errorf("%w: %s is not a manager", ErrParentNotFound, parentID)
	case parent.Status().IsTerminal():
		return fmt.Errorf("%w: %s is %s", ErrParentNotFound, parentID, parent.Status())
	}
	return nil
}

func (r *Registry) newAgent(agentType types.AgentType) (*Instance, error) {
	tools, err := tool.ForAgentType(agentType, tool.Dependencies{
		Sandbox:           r.engine,
		Creation:          r.creation,
		Completions:       r.completions,
		Cancellation:      r.cancellations,
		CreationTimeout:   r.options.CreationTimeout,
		CompletionTimeout: r.options.CompletionTimeout,
	})
	if err != nil {
		return nil, err
	}

	instance := newInstance(instanceParams{
		agentType:     agentType,
		options:       r.options.Instance,
		provider:      r.provider,
		tools:         tools,
		cancellations: r.cancellations,
		completions:   r.completions,
		bus:           r.options.Bus,
		metrics:       r.metrics,
		onTerminal:    r.terminated,
	})

	r.metrics.IncrementCreated(agentType.Kind().String())
	event.PublishAgentEvent(r.options.Bus, event.AgentCreated{
		Header:    event.NewHeader(instance.ID()),
		AgentType: agentType,
		Name:      instance.Metadata().Name,
	})

	return instance, nil
}

func (r *Registry) terminated(instance *Instance) {
	if instance.Type().IsWorker() {
		r.releaseSlot()
	}
}

func (r *Registry) releaseSlot() {
	r.slots.Release(1)
	r.metrics.SetActiveWorkers(int(r.activeWorkers.Add(-1)))
}

func (r *Registry) Get(id types.AgentID) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// List returns every agent ordered by creation time.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	agents := make([]*Instance, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, agent)
	}
	r.mu.RUnlock()

	slices.SortFunc(agents, func(a, b *Instance) int {
		return a.created.Compare(b.created)
	})
	return agents
}

// Workers returns the workers spawned by parentID.
func (r *Registry) Workers(parentID types.AgentID) []*Instance {
	var workers []*Instance
	for _, agent := range r.List() {
		if parent, ok := agent.Type().ParentID(); ok && parent == parentID {
			workers = append(workers, agent)
		}
	}
	return workers
}

// ActiveWorkers is the number of workers holding a slot.
func (r *Registry) ActiveWorkers() int {
	return int(r.activeWorkers.Load())
}

// Cancel cancels an agent and, for a manager, every worker it spawned.
func (r *Registry) Cancel(id types.AgentID) error {
	agent := r.Get(id)
	if agent == nil {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	agent.Cancel()
	if agent.Type().IsManager() {
		for _, worker := range r.Workers(id) {
			worker.Cancel()
		}
	}
	return nil
}

// CancelAll signals every running agent and cancels the idle ones. No
// cancellation token is left once it returns. It returns the number of
// running agents that were signalled.
func (r *Registry) CancelAll() int {
	signalled := r.cancellations.CancelAll()
	for _, agent := range r.List() {
		agent.Cancel()
	}

	slog.Info("cancelled all agents", "signalled", signalled)
	return signalled
}
