package conv

import "strings"

func Ptr[T any](v T) *T {
	return &v
}

func FromPtr[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

// ScriptErrorHint returns msg with a hint appended when the failure looks
// like the script expected state from an earlier execution.
func ScriptErrorHint(msg string) string {
	if strings.Contains(msg, "ReferenceError") && strings.Contains(msg, "is not defined") {
		return msg + "\n\nNote: every execution starts from an empty environment. Variables and functions from previous executions are not available and must be defined again."
	}
	return msg
}
