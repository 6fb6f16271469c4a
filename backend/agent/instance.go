package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/cancellation"
	"github.com/furisto/dispatch/backend/event"
	"github.com/furisto/dispatch/backend/model"
	"github.com/furisto/dispatch/backend/subtask"
	"github.com/furisto/dispatch/backend/tool"
	"github.com/furisto/dispatch/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultModel       = "claude-sonnet-4-5"
	DefaultMaxTokens   = 8192
	DefaultEventBuffer = 256
)

var tracer = otel.Tracer("github.com/furisto/dispatch/backend/agent")

type InstanceOptions struct {
	Model        string
	MaxTokens    int64
	HistoryLimit int
	EventBuffer  int
}

func DefaultInstanceOptions() InstanceOptions {
	return InstanceOptions{
		Model:        DefaultModel,
		MaxTokens:    DefaultMaxTokens,
		HistoryLimit: DefaultHistoryLimit,
		EventBuffer:  DefaultEventBuffer,
	}
}

// Instance is one running agent. Its loop runs on its own goroutine, started
// by SendMessage, and reports progress on a buffered outbound channel that
// is drained with CheckResponses.
type Instance struct {
	id        types.AgentID
	agentType types.AgentType
	options   InstanceOptions

	provider      model.ModelProvider
	tools         []tool.Tool
	specs         []model.ToolSpec
	session       *tool.Session
	cancellations *cancellation.Registry
	completions   *subtask.CompletionRegistry
	bus           *event.Bus
	metrics       *agentMetricsProvider
	onTerminal    func(*Instance)

	inbox    *Mailbox
	history  *History
	outbound chan event.AgentEvent

	mu       sync.Mutex
	status   types.AgentStatus
	metadata types.AgentMetadata
	running  bool

	// cancelling is set once Cancel reached a running loop.
	cancelling bool
	idle       chan struct{}
	created    time.Time
}

type instanceParams struct {
	agentType     types.AgentType
	options       InstanceOptions
	provider      model.ModelProvider
	tools         []tool.Tool
	cancellations *cancellation.Registry
	completions   *subtask.CompletionRegistry
	bus           *event.Bus
	metrics       *agentMetricsProvider
	onTerminal    func(*Instance)
}

func newInstance(params instanceParams) *Instance {
	now := time.Now()
	id := types.NewAgentID()

	idle := make(chan struct{})
	close(idle)

	instance := &Instance{
		id:            id,
		agentType:     params.agentType,
		options:       params.options,
		provider:      params.provider,
		tools:         params.tools,
		specs:         tool.Specs(params.tools),
		cancellations: params.cancellations,
		completions:   params.completions,
		bus:           params.bus,
		metrics:       params.metrics,
		onTerminal:    params.onTerminal,
		inbox:         NewMailbox(),
		history:       NewHistory(params.options.HistoryLimit),
		outbound:      make(chan event.AgentEvent, params.options.EventBuffer),
		status:        types.Paused(),
		idle:          idle,
		created:       now,
		metadata: types.AgentMetadata{
			Name:        params.agentType.DisplayName(),
			Description: params.agentType.String(),
			Model:       params.options.Model,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}

	instance.session = &tool.Session{
		AgentID:   id,
		AgentType: params.agentType,
		Emit:      instance.emit,
	}
	if params.agentType.IsManager() {
		instance.session.TaskList = tool.NewTaskList()
	}

	return instance
}

func (a *Instance) ID() types.AgentID {
	return a.id
}

func (a *Instance) Type() types.AgentType {
	return a.agentType
}

func (a *Instance) Status() types.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Instance) Metadata() types.AgentMetadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metadata
}

// TaskList returns the plan of a manager, nil for workers.
func (a *Instance) TaskList() *tool.TaskList {
	return a.session.TaskList
}

// SendMessage queues input for the agent and starts its loop unless it is
// already running. It does not wait for the agent to act on the input.
func (a *Instance) SendMessage(input string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAgentTerminated, a.id, a.status)
	}
	if a.cancelling {
		return fmt.Errorf("%w: %s is being cancelled", ErrAgentTerminated, a.id)
	}

	a.inbox.Enqueue(input)
	a.status = types.Running()
	a.metadata.UpdatedAt = time.Now()

	if !a.running {
		a.running = true
		a.idle = make(chan struct{})
		token := a.cancellations.CreateToken(context.Background(), a.id)
		go a.run(token)
	}

	return nil
}

// CheckResponses drains the events reported since the last call without
// blocking.
func (a *Instance) CheckResponses() []event.AgentEvent {
	var events []event.AgentEvent
	for {
		select {
		case e := <-a.outbound:
			events = append(events, e)
		default:
			return events
		}
	}
}

// Cancel stops the agent. A running loop observes its token and unwinds on
// its own; an idle agent is cancelled right away. Either way no later
// SendMessage restarts it. Cancelling a terminal agent does nothing.
func (a *Instance) Cancel() {
	a.mu.Lock()
	if a.status.IsTerminal() || a.cancelling {
		a.mu.Unlock()
		return
	}

	if a.running {
		a.cancelling = true
		a.cancellations.Cancel(a.id)
		a.mu.Unlock()
		return
	}

	a.status = types.Cancelled()
	a.metadata.UpdatedAt = time.Now()
	a.mu.Unlock()

	a.emit(event.Cancelled{Header: event.NewHeader(a.id)})
	a.terminated(types.Cancelled(), subtask.CompletionFailed(a.id, cancelledByParent, time.Since(a.created)))
}

// stopping reports whether the agent is terminal or on its way there.
func (a *Instance) stopping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelling || a.status.IsTerminal()
}

// Wait blocks until the agent loop is idle, that is the agent is paused or
// terminal, and returns the status at that point.
func (a *Instance) Wait(ctx context.Context) (types.AgentStatus, error) {
	a.mu.Lock()
	idle := a.idle
	a.mu.Unlock()

	select {
	case <-idle:
		return a.Status(), nil
	case <-ctx.Done():
		return a.Status(), ctx.Err()
	}
}

func (a *Instance) run(token *cancellation.Token) {
	ctx := token.Context()
	logger := slog.With("agent_id", a.id, "agent_type", a.agentType.Kind())
	logger.DebugContext(ctx, "agent loop started")

	for {
		for _, input := range a.inbox.Dequeue() {
			a.history.Append(model.NewUserMessage(input))
		}

		if token.Cancelled() {
			a.finishCancelled(token)
			return
		}

		reply, err := a.invokeModel(ctx)
		if err != nil {
			if token.Cancelled() {
				a.finishCancelled(token)
				return
			}
			logger.WarnContext(ctx, "model call failed", "error", err)
			a.finishFailed(token, &shared.DispatchError{Source: shared.ErrorSourceSystem, Err: err})
			return
		}
		a.history.Append(reply)

		calls := reply.ToolCalls()
		if len(calls) == 0 {
			if a.answer(token, reply.Text()) {
				return
			}
			continue
		}

		results := make([]*model.ToolResultBlock, 0, len(calls))
		for _, call := range calls {
			if token.Cancelled() {
				a.finishCancelled(token)
				return
			}

			result, err := a.callTool(ctx, call)
			if err != nil {
				if token.Cancelled() {
					a.finishCancelled(token)
					return
				}
				logger.WarnContext(ctx, "tool call failed", "tool", call.Tool, "error", err)
				a.finishFailed(token, &shared.DispatchError{Source: shared.ErrorSourceTool, Err: err})
				return
			}
			results = append(results, result)
		}
		a.history.Append(model.NewToolResultMessage(results...))
	}
}

func (a *Instance) invokeModel(ctx context.Context) (*model.Message, error) {
	return a.provider.InvokeModel(
		ctx,
		a.options.Model,
		SystemPrompt(a.agentType, time.Now()),
		a.history.Messages(),
		model.WithTools(a.specs...),
		model.WithMaxTokens(a.options.MaxTokens),
	)
}

func (a *Instance) callTool(ctx context.Context, call *model.ToolCallBlock) (*model.ToolResultBlock, error) {
	a.emit(event.ToolCallStart{
		Header:   event.NewHeader(a.id),
		CallID:   call.ID,
		ToolName: call.Tool,
		Input:    call.Args,
	})

	ctx, span := tracer.Start(ctx, "agent.tool."+call.Tool)
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", a.id.String()),
		attribute.String("tool.call_id", call.ID),
	)

	start := time.Now()
	var result *tool.Result
	if installed, ok := tool.Find(a.tools, call.Tool); ok {
		var err error
		result, err = installed.Execute(ctx, a.session, call.Args)
		if err != nil {
			duration := time.Since(start)
			span.SetStatus(codes.Error, err.Error())
			a.metrics.ObserveToolCall(call.Tool, "failed", duration.Seconds())
			a.emit(event.ToolCallFailed{
				Header:   event.NewHeader(a.id),
				CallID:   call.ID,
				ToolName: call.Tool,
				Error:    UserMessage(err),
				Duration: duration,
			})
			return nil, fmt.Errorf("%s: %w", call.Tool, err)
		}
	} else {
		result = &tool.Result{
			Output:  fmt.Sprintf("Unknown tool %q. Available tools: %s", call.Tool, strings.Join(a.toolNames(), ", ")),
			IsError: true,
		}
	}

	duration := time.Since(start)
	output := result.Output
	if result.IsError {
		if result.Cause != nil {
			output = fmt.Sprintf("%s\n\n%s", output, UserMessage(result.Cause))
		}
		span.SetStatus(codes.Error, "tool returned an error")
		a.metrics.ObserveToolCall(call.Tool, "error", duration.Seconds())
		a.emit(event.ToolCallFailed{
			Header:   event.NewHeader(a.id),
			CallID:   call.ID,
			ToolName: call.Tool,
			Error:    output,
			Duration: duration,
		})
	} else {
		a.metrics.ObserveToolCall(call.Tool, "ok", duration.Seconds())
		a.emit(event.ToolCallComplete{
			Header:   event.NewHeader(a.id),
			CallID:   call.ID,
			ToolName: call.Tool,
			Output:   output,
			Duration: duration,
		})
	}

	return &model.ToolResultBlock{
		ID:        call.ID,
		Name:      call.Tool,
		Result:    output,
		Succeeded: !result.IsError,
	}, nil
}

func (a *Instance) toolNames() []string {
	names := make([]string, 0, len(a.tools))
	for _, t := range a.tools {
		names = append(names, t.Name())
	}
	return names
}

// answer handles a reply without tool calls. Workers complete; managers
// pause unless more input arrived in the meantime. It reports whether the
// loop is done.
func (a *Instance) answer(token *cancellation.Token, text string) bool {
	a.emit(event.Success{Header: event.NewHeader(a.id), FinalText: text})

	if a.agentType.IsWorker() {
		a.finish(token, types.Completed(), subtask.CompletionSucceeded(a.id, text, time.Since(a.created)))
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inbox.Len() > 0 || token.Cancelled() {
		return false
	}

	a.status = types.Paused()
	a.metadata.UpdatedAt = time.Now()
	a.running = false
	a.cancellations.Release(token)
	close(a.idle)
	return true
}

func (a *Instance) finishFailed(token *cancellation.Token, err error) {
	reason := failureReason(err)
	a.emit(event.Failed{Header: event.NewHeader(a.id), Reason: reason})
	a.finish(token, types.Failed(reason), subtask.CompletionFailed(a.id, reason, time.Since(a.created)))
}

func (a *Instance) finishCancelled(token *cancellation.Token) {
	a.emit(event.Cancelled{Header: event.NewHeader(a.id)})
	a.finish(token, types.Cancelled(), subtask.CompletionFailed(a.id, cancelledByParent, time.Since(a.created)))
}

// finish moves the loop into a terminal status and gives up its token.
func (a *Instance) finish(token *cancellation.Token, status types.AgentStatus, completion subtask.WorkerCompletion) {
	a.mu.Lock()
	if !a.status.CanTransitionTo(status) {
		a.mu.Unlock()
		return
	}
	a.status = status
	a.metadata.UpdatedAt = time.Now()
	a.mu.Unlock()

	a.terminated(status, completion)

	a.mu.Lock()
	a.running = false
	a.cancellations.Release(token)
	close(a.idle)
	a.mu.Unlock()
}

// terminated runs once per agent, after it reached status.
func (a *Instance) terminated(status types.AgentStatus, completion subtask.WorkerCompletion) {
	if a.agentType.IsWorker() {
		a.completions.Publish(completion)
	}
	a.metrics.IncrementTerminated(a.agentType.Kind().String(), status.Kind.String())
	slog.Info("agent terminated", "agent_id", a.id, "agent_type", a.agentType.Kind(), "status", status)

	if a.onTerminal != nil {
		a.onTerminal(a)
	}
}

func (a *Instance) emit(e event.AgentEvent) {
	select {
	case a.outbound <- e:
	default:
		slog.Warn("dropping agent event, outbound channel is full", "agent_id", a.id, "kind", e.Kind())
		a.metrics.IncrementEventsDropped(string(e.Kind()))
	}
	event.PublishAgentEvent(a.bus, e)
}
