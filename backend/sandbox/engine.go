package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/furisto/dispatch/backend/resource"
	"github.com/furisto/dispatch/shared/conv"
	"github.com/grafana/sobek"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/furisto/dispatch/backend/sandbox")

const (
	DefaultMemoryLimitBytes = 256 * 1024 * 1024
	DefaultTimeout          = 30 * time.Second

	defaultSampleInterval = 10 * time.Millisecond
	scriptName            = "script.js"
)

type Config struct {
	MemoryLimitBytes uint64
	Timeout          time.Duration
	CaptureConsole   bool
}

func DefaultConfig() Config {
	return Config{
		MemoryLimitBytes: DefaultMemoryLimitBytes,
		Timeout:          DefaultTimeout,
		CaptureConsole:   true,
	}
}

// ExecutionResult is produced fresh by every Execute call. Error is set only
// when Success is false.
type ExecutionResult struct {
	Success         bool          `json:"success"`
	Result          *string       `json:"result,omitempty"`
	Error           string        `json:"error,omitempty"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
	BindingCalls    []BindingCall `json:"-"`
}

type Engine struct {
	config         Config
	bindings       []*Binding
	interceptors   []Interceptor
	heap           *HeapBudget
	sampleInterval time.Duration
	metrics        *sandboxMetricsProvider
}

type EngineOption func(*Engine)

func WithBindings(bindings ...*Binding) EngineOption {
	return func(e *Engine) {
		e.bindings = append(e.bindings, bindings...)
	}
}

func WithInterceptors(interceptors ...Interceptor) EngineOption {
	return func(e *Engine) {
		e.interceptors = append(e.interceptors, interceptors...)
	}
}

// WithHeapBudget accounts executions against budget instead of the process
// heap and samples it every interval.
func WithHeapBudget(budget *HeapBudget, interval time.Duration) EngineOption {
	return func(e *Engine) {
		if budget != nil {
			e.heap = budget
		}
		if interval > 0 {
			e.sampleInterval = interval
		}
	}
}

func WithMetricsRegistry(registry *prometheus.Registry) EngineOption {
	return func(e *Engine) {
		e.metrics = newSandboxMetricsProvider(registry)
	}
}

// NewEngine returns an engine whose scripts can reach backend through the
// resource bindings and nothing else. A nil backend leaves only the console.
func NewEngine(backend resource.Backend, config Config, opts ...EngineOption) *Engine {
	defaults := DefaultConfig()
	if config.MemoryLimitBytes == 0 {
		config.MemoryLimitBytes = defaults.MemoryLimitBytes
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	engine := &Engine{
		config:         config,
		heap:           processHeap,
		sampleInterval: defaultSampleInterval,
	}
	if backend != nil {
		engine.bindings = ResourceBindings(backend)
	}
	for _, opt := range opts {
		opt(engine)
	}

	engine.interceptors = append([]Interceptor{
		InterceptorFunc(CallRecorderInterceptor),
		InterceptorFunc(BindingNameInterceptor),
		InterceptorFunc(engine.metricsInterceptor),
		InterceptorFunc(engine.tracingInterceptor),
	}, engine.interceptors...)

	return engine
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) Bindings() []*Binding {
	return e.bindings
}

// Execute runs source in a new runtime. The returned result is never nil; on
// failure it carries the console output captured up to that point and the
// error is a *Error.
func (e *Engine) Execute(ctx context.Context, source string) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "sandbox.Execute")
	defer span.End()

	memory := e.heap.watch(e.config.MemoryLimitBytes)
	defer memory.release()

	start := time.Now()
	var stdout, stderr bytes.Buffer

	vm := sobek.New()
	vm.SetFieldNameMapper(sobek.TagFieldNameMapper("json", true))

	session := &Session{
		Context: ctx,
		VM:      vm,
		Stdout:  &stdout,
		Stderr:  &stderr,
	}

	value, execErr := e.run(session, source, memory)

	elapsed := time.Since(start)
	result := &ExecutionResult{
		Success:         execErr == nil,
		Result:          value,
		ExecutionTimeMs: elapsed.Milliseconds(),
		BindingCalls:    session.calls,
	}

	outcome := "ok"
	if execErr != nil {
		outcome = string(execErr.Kind)
		result.Result = nil
		result.Error = execErr.Message

		switch execErr.Kind {
		case ErrorKindTimeout:
			fmt.Fprintf(&stderr, "Execution terminated (timeout: %s)", e.config.Timeout)
		case ErrorKindMemoryExceeded:
			fmt.Fprintf(&stderr, "Execution terminated (memory limit: %s)", humanize.IBytes(e.config.MemoryLimitBytes))
		case ErrorKindCancelled:
			fmt.Fprint(&stderr, "Execution terminated (cancelled)")
		default:
			fmt.Fprint(&stderr, execErr.Message)
		}

		span.SetStatus(codes.Error, execErr.Message)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	span.SetAttributes(
		attribute.String("sandbox.outcome", outcome),
		attribute.Int("sandbox.binding_calls", len(session.calls)),
		attribute.Int("sandbox.result_bytes", len(conv.FromPtr(result.Result))),
	)
	e.metrics.ObserveExecution(outcome, elapsed.Seconds())

	if execErr != nil {
		slog.DebugContext(ctx, "script execution failed", "kind", execErr.Kind, "error", execErr.Message, "duration", elapsed)
		return result, execErr
	}
	return result, nil
}

func (e *Engine) run(session *Session, source string, memory *memoryWatch) (*string, *Error) {
	if err := installConsole(session, e.config.CaptureConsole); err != nil {
		return nil, &Error{Kind: ErrorKindRuntimeException, Message: "failed to install console", Cause: err}
	}
	for _, binding := range e.bindings {
		if err := e.install(session, binding); err != nil {
			return nil, &Error{Kind: ErrorKindRuntimeException, Message: "failed to install " + binding.Name, Cause: err}
		}
	}

	program, err := sobek.Compile(scriptName, source, false)
	if err != nil {
		return nil, &Error{Kind: ErrorKindSyntaxError, Message: err.Error(), Cause: err}
	}

	ctx, cancel := context.WithCancel(session.Context)
	defer cancel()
	session.Context = ctx

	dog := e.watch(ctx, cancel, session.VM, memory)
	defer dog.stop()

	completion, err := session.VM.RunProgram(program)
	if err == nil {
		result, serr := serialize(session.VM, completion)
		if serr == nil {
			return result, nil
		}
		if serr.Kind == ErrorKindSerializationError {
			return nil, serr
		}
		err = serr
	}

	if reason := dog.reason(); reason != nil {
		return nil, &Error{Kind: reason.kind, Message: reason.message}
	}
	return nil, classify(err)
}

// watchdog interrupts the runtime when the timeout elapses, the heap grows
// past the limit or the context ends. Bindings observe the same outcome
// through the session context, which is cancelled alongside the interrupt.
type watchdog struct {
	done   chan struct{}
	exited chan struct{}
	fired  atomic.Pointer[interruption]
}

func (e *Engine) watch(ctx context.Context, cancel context.CancelFunc, vm *sobek.Runtime, memory *memoryWatch) *watchdog {
	w := &watchdog{
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	timeout := time.NewTimer(e.config.Timeout)
	ticker := time.NewTicker(e.sampleInterval)

	interrupt := func(reason *interruption) {
		w.fired.Store(reason)
		vm.Interrupt(reason)
		cancel()
	}

	go func() {
		defer close(w.exited)
		defer timeout.Stop()
		defer ticker.Stop()

		for {
			select {
			case <-w.done:
				return
			case <-ctx.Done():
				interrupt(interruptCancelled)
				return
			case <-timeout.C:
				interrupt(interruptTimeout)
				return
			case <-ticker.C:
				if memory.exceeded() {
					interrupt(interruptMemory)
					return
				}
			}
		}
	}()

	return w
}

// stop ends the watchdog and waits for it to exit.
func (w *watchdog) stop() {
	close(w.done)
	<-w.exited
}

func (w *watchdog) reason() *interruption {
	return w.fired.Load()
}

func serialize(vm *sobek.Runtime, value sobek.Value) (*string, *Error) {
	if value == nil || sobek.IsUndefined(value) {
		return nil, nil
	}

	stringify, ok := sobek.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, &Error{Kind: ErrorKindSerializationError, Message: "JSON.stringify is not a function"}
	}

	encoded, err := stringify(sobek.Undefined(), value)
	if err != nil {
		var interrupted *sobek.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, classify(err)
		}
		return nil, &Error{Kind: ErrorKindSerializationError, Message: exceptionMessage(err), Cause: err}
	}
	if encoded == nil || sobek.IsUndefined(encoded) {
		return nil, &Error{Kind: ErrorKindSerializationError, Message: "completion value is not JSON-representable"}
	}

	return conv.Ptr(encoded.String()), nil
}

func classify(err error) *Error {
	var interrupted *sobek.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(*interruption); ok {
			return &Error{Kind: reason.kind, Message: reason.message}
		}
		return &Error{Kind: ErrorKindCancelled, Message: interruptCancelled.message, Cause: err}
	}

	var exception *sobek.Exception
	if errors.As(err, &exception) {
		return &Error{
			Kind:    ErrorKindRuntimeException,
			Message: exceptionMessage(exception),
			Cause:   hostCause(exception),
		}
	}

	return &Error{Kind: ErrorKindRuntimeException, Message: err.Error(), Cause: err}
}

func exceptionMessage(err error) string {
	var exception *sobek.Exception
	if errors.As(err, &exception) && exception.Value() != nil {
		return exception.Value().String()
	}
	return err.Error()
}

// hostCause returns the Go error behind an exception raised with
// Session.Throw, or nil for exceptions originating in the script.
func hostCause(exception *sobek.Exception) error {
	obj, ok := exception.Value().(*sobek.Object)
	if !ok {
		return nil
	}
	value := obj.Get("value")
	if value == nil {
		return nil
	}
	cause, _ := value.Export().(error)
	return cause
}
