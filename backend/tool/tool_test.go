package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/cancellation"
	"github.com/furisto/dispatch/backend/resource"
	"github.com/furisto/dispatch/backend/sandbox"
	"github.com/furisto/dispatch/backend/subtask"
	"github.com/google/go-cmp/cmp"
)

func newTestDependencies() Dependencies {
	backend := resource.NewStaticBackend(&resource.Fixtures{
		Accounts: []resource.Account{
			{ID: "111111111111", Name: "production"},
			{ID: "222222222222", Name: "development"},
		},
	})

	return Dependencies{
		Sandbox:      sandbox.NewEngine(backend, sandbox.DefaultConfig()),
		Creation:     subtask.NewCreationChannel(),
		Completions:  subtask.NewCompletionRegistry(),
		Cancellation: cancellation.NewRegistry(),
	}
}

func toolNames(tools []Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name())
	}
	return names
}

func TestForAgentType(t *testing.T) {
	t.Parallel()

	managerID := types.NewAgentID()
	tests := []struct {
		name      string
		agentType types.AgentType
		deps      Dependencies
		want      []string
		wantErr   bool
	}{
		{
			name:      "manager",
			agentType: types.Manager(),
			deps:      newTestDependencies(),
			want:      []string{ToolThink, ToolStartTask, ToolTodoRead, ToolTodoWrite},
		},
		{
			name:      "worker",
			agentType: types.Worker(managerID),
			deps:      newTestDependencies(),
			want:      []string{ToolExecuteJavaScript},
		},
		{
			name:      "manager without creation channel",
			agentType: types.Manager(),
			deps:      Dependencies{Sandbox: newTestDependencies().Sandbox},
			wantErr:   true,
		},
		{
			name:      "worker without sandbox",
			agentType: types.Worker(managerID),
			deps:      Dependencies{},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tools, err := ForAgentType(tt.agentType, tt.deps)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ForAgentType() installed %v, want error", toolNames(tools))
				}
				return
			}
			if err != nil {
				t.Fatalf("ForAgentType() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, toolNames(tools)); diff != "" {
				t.Errorf("ForAgentType() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToolKinds(t *testing.T) {
	t.Parallel()

	deps := newTestDependencies()
	want := map[string]Kind{
		ToolThink:             KindReason,
		ToolStartTask:         KindSpawnWorker,
		ToolExecuteJavaScript: KindExecuteScript,
		ToolTodoRead:          KindReadTaskList,
		ToolTodoWrite:         KindWriteTaskList,
	}

	manager, _ := ForAgentType(types.Manager(), deps)
	worker, _ := ForAgentType(types.Worker(types.NewAgentID()), deps)
	for _, tool := range append(manager, worker...) {
		if tool.Kind() != want[tool.Name()] {
			t.Errorf("%s has kind %s, want %s", tool.Name(), tool.Kind(), want[tool.Name()])
		}
		if tool.Description() == "" {
			t.Errorf("%s has no description", tool.Name())
		}
	}
}

func TestSchemas(t *testing.T) {
	t.Parallel()

	deps := newTestDependencies()
	tests := []struct {
		tool         Tool
		wantRequired []string
		wantFields   []string
	}{
		{tool: NewReason(), wantRequired: []string{"thought"}, wantFields: []string{"thought"}},
		{tool: NewSpawnWorker(deps), wantRequired: []string{"task_description"}, wantFields: []string{"task_description", "expected_output_format"}},
		{tool: NewExecuteScript(deps.Sandbox), wantRequired: []string{"code"}, wantFields: []string{"code"}},
		{tool: NewWriteTaskList(), wantRequired: []string{"todos"}, wantFields: []string{"todos"}},
		{tool: NewReadTaskList(), wantFields: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.tool.Name(), func(t *testing.T) {
			t.Parallel()

			encoded, err := json.Marshal(tt.tool.Schema())
			if err != nil {
				t.Fatalf("schema does not encode: %v", err)
			}

			var schema struct {
				Type       string                     `json:"type"`
				Properties map[string]json.RawMessage `json:"properties"`
				Required   []string                   `json:"required"`
			}
			if err := json.Unmarshal(encoded, &schema); err != nil {
				t.Fatalf("schema does not decode: %v", err)
			}

			if schema.Type != "object" {
				t.Errorf("type = %q, want object", schema.Type)
			}
			if diff := cmp.Diff(tt.wantRequired, schema.Required); diff != "" {
				t.Errorf("required mismatch (-want +got):\n%s", diff)
			}
			for _, field := range tt.wantFields {
				if _, ok := schema.Properties[field]; !ok {
					t.Errorf("schema lacks property %q", field)
				}
			}
		})
	}
}

func TestSpecs(t *testing.T) {
	t.Parallel()

	tools, _ := ForAgentType(types.Manager(), newTestDependencies())
	specs := Specs(tools)

	if len(specs) != len(tools) {
		t.Fatalf("Specs() returned %d specs for %d tools", len(specs), len(tools))
	}
	for i, spec := range specs {
		if spec.Name != tools[i].Name() || spec.Description != tools[i].Description() {
			t.Errorf("spec %d = %s, want %s", i, spec.Name, tools[i].Name())
		}
	}
}

func TestReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantError  bool
		wantOutput string
	}{
		{name: "echo", input: `{"thought":"split by account"}`, wantOutput: `{"thought":"split by account"}`},
		{name: "empty", input: `{"thought":"  "}`, wantError: true},
		{name: "malformed", input: `{"thought":`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			session := &Session{AgentID: types.NewAgentID(), AgentType: types.Manager()}
			result, err := NewReason().Execute(context.Background(), session, json.RawMessage(tt.input))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v (%s)", result.IsError, tt.wantError, result.Output)
			}
			if tt.wantOutput != "" && result.Output != tt.wantOutput {
				t.Errorf("Output = %s, want %s", result.Output, tt.wantOutput)
			}
		})
	}
}

func TestFailureSuggestions(t *testing.T) {
	t.Parallel()

	result := failure("boom", "try again", "try harder")
	want := "boom\n\nSuggestions:\n- try again\n- try harder"
	if !result.IsError || result.Output != want {
		t.Errorf("failure() = %q, want %q", result.Output, want)
	}

	if got := failure("plain").Output; got != "plain" {
		t.Errorf("failure() without suggestions = %q", got)
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	tools, _ := ForAgentType(types.Manager(), newTestDependencies())
	if tool, ok := Find(tools, ToolTodoWrite); !ok || tool.Kind() != KindWriteTaskList {
		t.Errorf("Find(%s) = %v, %v", ToolTodoWrite, tool, ok)
	}
	if _, ok := Find(tools, ToolExecuteJavaScript); ok {
		t.Error("manager tools contain execute_javascript")
	}
}

func TestExecuteScript(t *testing.T) {
	t.Parallel()

	engine := newTestDependencies().Sandbox
	tests := []struct {
		name        string
		input       string
		wantError   bool
		wantResult  string
		wantMessage string
	}{
		{name: "completion value", input: `{"code":"2 + 2"}`, wantResult: "4"},
		{name: "bindings", input: `{"code":"listAccounts().map(a => a.name).join(',')"}`, wantResult: `"production,development"`},
		{name: "empty code", input: `{"code":""}`, wantError: true, wantMessage: "code cannot be empty"},
		{name: "syntax error", input: `{"code":"let = ;"}`, wantError: true, wantMessage: "SyntaxError"},
		{name: "stale reference", input: `{"code":"previousResult.length"}`, wantError: true, wantMessage: "every execution starts from an empty environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			session := &Session{AgentID: types.NewAgentID(), AgentType: types.Worker(types.NewAgentID())}
			result, err := NewExecuteScript(engine).Execute(context.Background(), session, json.RawMessage(tt.input))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v (%s)", result.IsError, tt.wantError, result.Output)
			}
			if tt.wantMessage != "" && !strings.Contains(result.Output, tt.wantMessage) {
				t.Errorf("Output = %s, want it to contain %q", result.Output, tt.wantMessage)
			}
			if tt.wantResult == "" {
				return
			}

			var execution sandbox.ExecutionResult
			if err := json.Unmarshal([]byte(result.Output), &execution); err != nil {
				t.Fatalf("output is not an execution result: %v", err)
			}
			if !execution.Success || execution.Result == nil || *execution.Result != tt.wantResult {
				t.Errorf("execution = %+v, want result %s", execution, tt.wantResult)
			}
		})
	}
}

func TestExecuteScriptKeepsHostCause(t *testing.T) {
	t.Parallel()

	engine := newTestDependencies().Sandbox
	session := &Session{AgentID: types.NewAgentID(), AgentType: types.Worker(types.NewAgentID())}

	input := `{"code":"queryCloudWatchLogEvents({logGroupName: '/aws/lambda/missing', accountId: '111111111111', region: 'us-east-1'})"}`
	result, err := NewExecuteScript(engine).Execute(context.Background(), session, json.RawMessage(input))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("query of a missing log group succeeded: %s", result.Output)
	}
	if !resource.IsKind(result.Cause, resource.ErrorKindNotFound) {
		t.Errorf("Cause = %v, want not found resource error", result.Cause)
	}
}

func TestExecuteScriptCancelled(t *testing.T) {
	t.Parallel()

	engine := newTestDependencies().Sandbox
	session := &Session{AgentID: types.NewAgentID(), AgentType: types.Worker(types.NewAgentID())}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecuteScript(engine).Execute(ctx, session, json.RawMessage(`{"code":"while (true) {}"}`))
	if err == nil {
		t.Fatal("Execute() returned a result for a cancelled agent")
	}
}
