package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
)

type TodoItem struct {
	Content    string     `json:"content" jsonschema:"minLength=1,description=Imperative form of what needs to be done (e.g. 'List EC2 instances')"`
	ActiveForm string     `json:"activeForm" jsonschema:"minLength=1,description=Present continuous form of what is being done (e.g. 'Listing EC2 instances')"`
	Status     TodoStatus `json:"status" jsonschema:"enum=pending,enum=in_progress,enum=completed,description=Current task status"`
}

type TodoSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// TaskList is the plan of one manager. It is replaced as a whole on every
// write.
type TaskList struct {
	mu    sync.Mutex
	items []TodoItem
}

func NewTaskList() *TaskList {
	return &TaskList{}
}

func (l *TaskList) Items() []TodoItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]TodoItem, len(l.items))
	copy(items, l.items)
	return items
}

// Replace validates items and swaps them in. At most one item may be in
// progress.
func (l *TaskList) Replace(items []TodoItem) error {
	if err := validateTodos(items); err != nil {
		return err
	}

	replacement := make([]TodoItem, len(items))
	copy(replacement, items)

	l.mu.Lock()
	l.items = replacement
	l.mu.Unlock()
	return nil
}

func validateTodos(items []TodoItem) error {
	inProgress := 0
	for i, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			return fmt.Errorf("todo %d: content cannot be empty", i+1)
		}
		if strings.TrimSpace(item.ActiveForm) == "" {
			return fmt.Errorf("todo %d: activeForm cannot be empty", i+1)
		}
		switch item.Status {
		case TodoStatusPending, TodoStatusCompleted:
		case TodoStatusInProgress:
			inProgress++
		default:
			return fmt.Errorf("todo %d: unknown status %q", i+1, item.Status)
		}
	}

	if inProgress > 1 {
		return fmt.Errorf("only one task should be 'in_progress' at a time, found %d", inProgress)
	}
	return nil
}

func summarize(items []TodoItem) TodoSummary {
	summary := TodoSummary{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case TodoStatusPending:
			summary.Pending++
		case TodoStatusInProgress:
			summary.InProgress++
		case TodoStatusCompleted:
			summary.Completed++
		}
	}
	return summary
}

type TodoReadInput struct{}

type TodoWriteInput struct {
	Todos []TodoItem `json:"todos" jsonschema:"description=The complete updated todo list"`
}

type TodoResult struct {
	Todos   []TodoItem  `json:"todos"`
	Summary TodoSummary `json:"summary"`
}

func todoResult(items []TodoItem) (*Result, error) {
	if items == nil {
		items = []TodoItem{}
	}
	return success(TodoResult{Todos: items, Summary: summarize(items)})
}

func taskListOf(session *Session) (*TaskList, *Result) {
	if session.TaskList == nil {
		return nil, failure("this agent has no task list")
	}
	return session.TaskList, nil
}

const todoReadDescription = `Retrieve the current todo list. Takes no parameters, leave the input blank or use an empty object {}.

## Expected Output
%[1]s
{
  "todos": [{"content": "...", "activeForm": "...", "status": "pending"}],
  "summary": {"total": 1, "pending": 1, "in_progress": 0, "completed": 0}
}
%[1]s`

type ReadTaskList struct {
	schema map[string]any
}

func NewReadTaskList() *ReadTaskList {
	return &ReadTaskList{schema: inputSchema[TodoReadInput]()}
}

func (*ReadTaskList) sealed()                  {}
func (*ReadTaskList) Kind() Kind               { return KindReadTaskList }
func (*ReadTaskList) Name() string             { return ToolTodoRead }
func (t *ReadTaskList) Schema() map[string]any { return t.schema }

func (*ReadTaskList) Description() string {
	return fmt.Sprintf(todoReadDescription, "```")
}

func (t *ReadTaskList) Execute(ctx context.Context, session *Session, _ json.RawMessage) (*Result, error) {
	list, failed := taskListOf(session)
	if failed != nil {
		return failed, nil
	}
	return todoResult(list.Items())
}

const todoWriteDescription = `Create and manage your task list. Use this to track the tasks you plan to delegate.

## IMPORTANT USAGE NOTES
- Always send the entire todo list, not individual items
- Limit ONE task to 'in_progress' at a time
- Mark a task 'completed' as soon as its worker returned`

type WriteTaskList struct {
	schema map[string]any
}

func NewWriteTaskList() *WriteTaskList {
	return &WriteTaskList{schema: inputSchema[TodoWriteInput]()}
}

func (*WriteTaskList) sealed()                  {}
func (*WriteTaskList) Kind() Kind               { return KindWriteTaskList }
func (*WriteTaskList) Name() string             { return ToolTodoWrite }
func (*WriteTaskList) Description() string      { return todoWriteDescription }
func (t *WriteTaskList) Schema() map[string]any { return t.schema }

func (t *WriteTaskList) Execute(ctx context.Context, session *Session, raw json.RawMessage) (*Result, error) {
	list, failed := taskListOf(session)
	if failed != nil {
		return failed, nil
	}

	input, failed := decodeInput[TodoWriteInput](ToolTodoWrite, raw)
	if failed != nil {
		return failed, nil
	}

	if err := list.Replace(input.Todos); err != nil {
		return failure(fmt.Sprintf("Invalid todo list: %s", err),
			"Send the complete list with content, activeForm and status for every item",
			"Keep at most one item in_progress",
		), nil
	}

	slog.InfoContext(ctx, "todo list updated", "agent_id", session.AgentID, "count", len(input.Todos))
	return todoResult(list.Items())
}
