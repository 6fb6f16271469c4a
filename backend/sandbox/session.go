package sandbox

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/grafana/sobek"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Session is the state shared by the bindings of a single execution. It never
// outlives the runtime it wraps.
type Session struct {
	Context context.Context
	VM      *sobek.Runtime
	Stdout  io.Writer
	Stderr  io.Writer

	CurrentBinding string
	calls          []BindingCall
}

// Throw raises err inside the script as a GoError exception. It does not
// return.
func (s *Session) Throw(err error) {
	panic(s.VM.NewGoError(err))
}

// BindingCall records one host binding invocation made by a script.
type BindingCall struct {
	Binding  string        `json:"binding"`
	Input    string        `json:"input,omitempty"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed"`
}

type BindingHandler func(session *Session) func(call sobek.FunctionCall) sobek.Value

type Interceptor interface {
	Intercept(session *Session, binding *Binding, inner func(sobek.FunctionCall) sobek.Value) func(sobek.FunctionCall) sobek.Value
}

type InterceptorFunc func(session *Session, binding *Binding, inner func(sobek.FunctionCall) sobek.Value) func(sobek.FunctionCall) sobek.Value

func (i InterceptorFunc) Intercept(session *Session, binding *Binding, inner func(sobek.FunctionCall) sobek.Value) func(sobek.FunctionCall) sobek.Value {
	return i(session, binding, inner)
}

var _ Interceptor = InterceptorFunc(nil)

// BindingNameInterceptor exposes the running binding on the session so nested
// helpers can attribute their failures.
func BindingNameInterceptor(session *Session, binding *Binding, inner func(sobek.FunctionCall) sobek.Value) func(sobek.FunctionCall) sobek.Value {
	return func(call sobek.FunctionCall) sobek.Value {
		session.CurrentBinding = binding.Name
		defer func() { session.CurrentBinding = "" }()
		return inner(call)
	}
}

// CallRecorderInterceptor appends a BindingCall for every invocation,
// including the ones that throw.
func CallRecorderInterceptor(session *Session, binding *Binding, inner func(sobek.FunctionCall) sobek.Value) func(sobek.FunctionCall) sobek.Value {
	return func(call sobek.FunctionCall) sobek.Value {
		record := BindingCall{Binding: binding.Name}
		if len(call.Arguments) > 0 {
			record.Input = formatConsoleValue(call.Argument(0))
		}

		start := time.Now()
		failed := true
		defer func() {
			record.Duration = time.Since(start)
			record.Failed = failed
			session.calls = append(session.calls, record)
		}()

		result := inner(call)
		failed = false
		return result
	}
}

func (e *Engine) metricsInterceptor(session *Session, binding *Binding, inner func(sobek.FunctionCall) sobek.Value) func(sobek.FunctionCall) sobek.Value {
	return func(call sobek.FunctionCall) sobek.Value {
		outcome := "error"
		defer func() { e.metrics.IncrementBindingCall(binding.Name, outcome) }()

		result := inner(call)
		outcome = "ok"
		return result
	}
}

func (e *Engine) tracingInterceptor(session *Session, binding *Binding, inner func(sobek.FunctionCall) sobek.Value) func(sobek.FunctionCall) sobek.Value {
	return func(call sobek.FunctionCall) sobek.Value {
		_, span := tracer.Start(session.Context, "sandbox.binding."+binding.Name)
		span.SetAttributes(attribute.String("binding", binding.Name))
		ok := false
		defer func() {
			if !ok {
				span.SetStatus(codes.Error, "binding threw")
			}
			span.End()
		}()

		result := inner(call)
		ok = true
		return result
	}
}

func (e *Engine) install(session *Session, binding *Binding) error {
	fn := binding.Handler(session)
	for _, interceptor := range e.interceptors {
		fn = interceptor.Intercept(session, binding, fn)
	}

	if err := session.VM.Set(binding.Name, fn); err != nil {
		slog.Error("failed to install binding", "binding", binding.Name, "error", err)
		return err
	}
	return nil
}
