package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"

	"github.com/furisto/dispatch/backend/model"
	"github.com/furisto/dispatch/backend/tool"
)

const testHomeDir = "/home/user"

const testFixtures = `
accounts:
  - id: "111111111111"
    name: ops-prod
  - id: "222222222222"
    name: ops-dev
`

type TestSetup struct{}

type TestScenario struct {
	Name            string
	Command         []string
	SetupFileSystem func(fs *afero.Afero)
	SetupEnv        map[string]string
	Provider        model.ModelProvider
	Expected        TestExpectation
}

// TestExpectation lists fragments that must appear in the respective output.
type TestExpectation struct {
	Stdout    []string
	NotStdout []string
	Stderr    []string
	Error     string
}

func (s *TestSetup) RunTests(t *testing.T, scenarios []TestScenario) {
	if len(scenarios) == 0 {
		t.Fatalf("no scenarios provided")
	}

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			keyring.MockInit()
			t.Setenv("DISPATCH_ANTHROPIC_API_KEY", "")
			t.Setenv("ANTHROPIC_API_KEY", "")
			t.Setenv("DISPATCH_ANALYTICS_POSTHOG_KEY", "")
			t.Setenv("DISPATCH_LOG_LEVEL", "")
			for key, value := range scenario.SetupEnv {
				t.Setenv(key, value)
			}

			fs := &afero.Afero{Fs: afero.NewMemMapFs()}
			if scenario.SetupFileSystem != nil {
				scenario.SetupFileSystem(fs)
			}

			testCmd := NewRootCmd()
			var stdout, stderr bytes.Buffer
			testCmd.SetOut(&stdout)
			testCmd.SetErr(&stderr)

			ctx := context.Background()
			ctx = context.WithValue(ctx, ContextKeyFileSystem, fs)
			ctx = context.WithValue(ctx, ContextKeyHomeDir, testHomeDir)
			ctx = context.WithValue(ctx, ContextKeyDisableFileLogs, true)
			if scenario.Provider != nil {
				ctx = context.WithValue(ctx, ContextKeyModelProvider, scenario.Provider)
			}

			testCmd.SetArgs(scenario.Command)
			err := testCmd.ExecuteContext(ctx)

			switch {
			case scenario.Expected.Error == "" && err != nil:
				t.Fatalf("Execute() error = %v\nstdout:\n%s\nstderr:\n%s", err, stdout.String(), stderr.String())
			case scenario.Expected.Error != "" && err == nil:
				t.Fatalf("Execute() succeeded, want error containing %q\nstdout:\n%s", scenario.Expected.Error, stdout.String())
			case err != nil && !strings.Contains(err.Error(), scenario.Expected.Error):
				t.Fatalf("Execute() error = %q, want it to contain %q", err, scenario.Expected.Error)
			}

			assertContains(t, "stdout", stdout.String(), scenario.Expected.Stdout)
			assertContains(t, "stderr", stderr.String(), scenario.Expected.Stderr)
			for _, fragment := range scenario.Expected.NotStdout {
				if strings.Contains(stdout.String(), fragment) {
					t.Errorf("stdout contains %q, want it absent:\n%s", fragment, stdout.String())
				}
			}
		})
	}
}

func assertContains(t *testing.T, name, output string, fragments []string) {
	t.Helper()
	for _, fragment := range fragments {
		if !strings.Contains(output, fragment) {
			t.Errorf("%s does not contain %q:\n%s", name, fragment, output)
		}
	}
}

func writeFile(path, content string) func(fs *afero.Afero) {
	return func(fs *afero.Afero) {
		if err := fs.WriteFile(path, []byte(content), 0600); err != nil {
			panic(err)
		}
	}
}

// delegatingProvider plays a manager that hands the request to one worker
// and a worker that lists accounts from the sandbox.
type delegatingProvider struct{}

func (delegatingProvider) InvokeModel(_ context.Context, _, _ string, messages []*model.Message, opts ...model.InvokeModelOption) (*model.Message, error) {
	options := &model.InvokeModelOptions{}
	for _, opt := range opts {
		opt(options)
	}

	manager := false
	for _, spec := range options.Tools {
		if spec.Name == tool.ToolStartTask {
			manager = true
		}
	}

	result, ok := lastToolResult(messages)
	switch {
	case manager && !ok:
		return toolCall(tool.ToolStartTask, tool.StartTaskInput{
			TaskDescription:      "List the names of all configured AWS accounts",
			ExpectedOutputFormat: "A comma separated list of names",
		}), nil
	case manager:
		return text("# Accounts\n\nThe worker reported: " + result.Result), nil
	case !ok:
		return toolCall(tool.ToolExecuteJavaScript, tool.ExecuteJavaScriptInput{
			Code: "listAccounts().map(a => a.name).join(', ')",
		}), nil
	default:
		return text("Accounts: " + result.Result), nil
	}
}

type directProvider struct{}

func (directProvider) InvokeModel(context.Context, string, string, []*model.Message, ...model.InvokeModelOption) (*model.Message, error) {
	return text("Nothing to investigate."), nil
}

func text(content string) *model.Message {
	return model.NewModelMessage([]model.ContentBlock{&model.TextBlock{Text: content}}, model.Usage{})
}

func toolCall(name string, input any) *model.Message {
	encoded, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return model.NewModelMessage([]model.ContentBlock{
		&model.ToolCallBlock{ID: "call-" + name, Tool: name, Args: encoded},
	}, model.Usage{})
}

func lastToolResult(messages []*model.Message) (*model.ToolResultBlock, bool) {
	if len(messages) == 0 {
		return nil, false
	}
	for _, block := range messages[len(messages)-1].Content {
		if result, ok := block.(*model.ToolResultBlock); ok {
			return result, true
		}
	}
	return nil, false
}

func TestExec(t *testing.T) {
	setup := &TestSetup{}

	setup.RunTests(t, []TestScenario{
		{
			Name:    "success",
			Command: []string{"exec", "/scripts/accounts.js"},
			SetupFileSystem: func(fs *afero.Afero) {
				writeFile("/scripts/accounts.js", "console.log('listing'); listAccounts().map(a => a.name)")(fs)
				writeFile("/fixtures.yaml", testFixtures)(fs)
			},
			SetupEnv: map[string]string{"DISPATCH_RESOURCES_FIXTURES": "/fixtures.yaml"},
			Expected: TestExpectation{
				Stdout: []string{`"success": true`, "ops-prod", "ops-dev", "listing"},
			},
		},
		{
			Name:            "syntax error",
			Command:         []string{"exec", "/scripts/broken.js"},
			SetupFileSystem: writeFile("/scripts/broken.js", "const = ;"),
			Expected: TestExpectation{
				Stdout: []string{`"success": false`},
				Error:  "script failed",
			},
		},
		{
			Name:     "missing file",
			Command:  []string{"exec", "/scripts/missing.js"},
			Expected: TestExpectation{Error: "failed to read script"},
		},
		{
			Name:            "invalid memory limit",
			Command:         []string{"exec", "--memory-limit", "lots", "/scripts/accounts.js"},
			SetupFileSystem: writeFile("/scripts/accounts.js", "1"),
			Expected:        TestExpectation{Error: `invalid memory limit "lots"`},
		},
		{
			Name:            "missing fixtures",
			Command:         []string{"exec", "/scripts/accounts.js"},
			SetupFileSystem: writeFile("/scripts/accounts.js", "1"),
			SetupEnv:        map[string]string{"DISPATCH_RESOURCES_FIXTURES": "/nowhere.yaml"},
			Expected:        TestExpectation{Error: "/nowhere.yaml"},
		},
	})
}

func TestRegions(t *testing.T) {
	setup := &TestSetup{}

	setup.RunTests(t, []TestScenario{
		{
			Name:    "table",
			Command: []string{"regions"},
			Expected: TestExpectation{
				Stdout: []string{"CODE", "NAME", "us-east-1", "US East (N. Virginia)"},
			},
		},
		{
			Name:    "json",
			Command: []string{"regions", "--json"},
			Expected: TestExpectation{
				Stdout:    []string{`"code": "us-east-1"`},
				NotStdout: []string{"CODE"},
			},
		},
		{
			Name:    "missing fixtures",
			Command: []string{"regions"},
			SetupFileSystem: writeFile(testHomeDir+"/.dispatch/config.yaml",
				"resources:\n  fixtures: /fixtures.yaml\n  cache_ttl: 0s\n"),
			Expected: TestExpectation{
				Error: "/fixtures.yaml",
			},
		},
	})
}

func TestRun(t *testing.T) {
	setup := &TestSetup{}

	setup.RunTests(t, []TestScenario{
		{
			Name:    "delegates to a worker",
			Command: []string{"run", "Which", "accounts", "exist?"},
			SetupFileSystem: func(fs *afero.Afero) {
				writeFile("/fixtures.yaml", testFixtures)(fs)
				writeFile(testHomeDir+"/.dispatch/config.yaml", "resources:\n  fixtures: /fixtures.yaml\n")(fs)
			},
			Provider: delegatingProvider{},
			Expected: TestExpectation{
				Stdout: []string{
					"[manager] start_task ...",
					"spawned worker",
					"execute_javascript done in",
					"[manager] start_task done in",
					"# Accounts",
					"ops-prod, ops-dev",
				},
			},
		},
		{
			Name:     "quiet",
			Command:  []string{"run", "--quiet", "anything to check?"},
			Provider: directProvider{},
			Expected: TestExpectation{
				Stdout:    []string{"Nothing to investigate."},
				NotStdout: []string{"[manager]"},
			},
		},
		{
			Name:     "missing api key",
			Command:  []string{"run", "hello"},
			Expected: TestExpectation{Error: "No Anthropic API key configured"},
		},
		{
			Name:     "missing request",
			Command:  []string{"run"},
			Provider: directProvider{},
			Expected: TestExpectation{Error: "requires at least 1 arg"},
		},
	})
}

func TestGlobalFlags(t *testing.T) {
	setup := &TestSetup{}

	setup.RunTests(t, []TestScenario{
		{
			Name:     "invalid log level",
			Command:  []string{"--log-level", "verbose", "regions"},
			Expected: TestExpectation{Error: `must be one of "debug", "info", "warn", or "error"`},
		},
		{
			Name:            "invalid configuration",
			Command:         []string{"--config", "/etc/dispatch.yaml", "regions"},
			SetupFileSystem: writeFile("/etc/dispatch.yaml", "agents:\n  max_workers: 0\n"),
			Expected:        TestExpectation{Error: "agents.max_workers must be at least 1"},
		},
		{
			Name:     "debug logs go to stderr",
			Command:  []string{"--log-level", "debug", "run", "--quiet", "hi"},
			Provider: directProvider{},
			Expected: TestExpectation{
				Stdout: []string{"Nothing to investigate."},
				Stderr: []string{`"msg":"agent terminated"`},
			},
		},
	})
}
