package sandbox

import (
	"io"
	"strings"

	"github.com/grafana/sobek"
)

func installConsole(session *Session, capture bool) error {
	stdout, stderr := session.Stdout, session.Stderr
	if !capture {
		stdout, stderr = io.Discard, io.Discard
	}

	console := session.VM.NewObject()
	for name, w := range map[string]io.Writer{
		"log":   stdout,
		"info":  stdout,
		"warn":  stdout,
		"debug": stdout,
		"error": stderr,
	} {
		if err := console.Set(name, consoleWriter(session.VM, w)); err != nil {
			return err
		}
	}

	return session.VM.Set("console", console)
}

func consoleWriter(vm *sobek.Runtime, w io.Writer) func(sobek.FunctionCall) sobek.Value {
	return func(call sobek.FunctionCall) sobek.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, formatConsoleValue(arg))
		}
		io.WriteString(w, strings.Join(parts, " ")+"\n")
		return sobek.Undefined()
	}
}

func formatConsoleValue(value sobek.Value) string {
	if value == nil || sobek.IsUndefined(value) {
		return "undefined"
	}
	if sobek.IsNull(value) {
		return "null"
	}

	obj, ok := value.(*sobek.Object)
	if !ok {
		return value.String()
	}
	if _, isFunc := sobek.AssertFunction(obj); isFunc {
		return value.String()
	}
	if obj.ClassName() == "Error" {
		return value.String()
	}

	encoded, err := obj.MarshalJSON()
	if err != nil {
		return value.String()
	}
	return string(encoded)
}
