package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func defaultConfig() Config {
	return Config{
		Sandbox: SandboxConfig{MemoryLimitMB: 256, Timeout: 30 * time.Second},
		Agents: AgentsConfig{
			MaxWorkers:        3,
			CreationTimeout:   5 * time.Second,
			CompletionTimeout: 5 * time.Minute,
			HistoryLimit:      100,
			EventBuffer:       256,
		},
		Model:     ModelConfig{Name: "claude-sonnet-4-5", MaxTokens: 8192},
		Resources: ResourcesConfig{CacheTTL: 5 * time.Minute},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		want    func(*Config)
		wantErr string
	}{
		{
			name: "defaults",
			want: func(*Config) {},
		},
		{
			name: "file",
			file: `
sandbox:
  memory_limit_mb: 64
  timeout: 2s
agents:
  max_workers: 5
model:
  name: claude-opus-4-1
resources:
  fixtures: /tmp/fixtures.yaml
`,
			want: func(c *Config) {
				c.Sandbox.MemoryLimitMB = 64
				c.Sandbox.Timeout = 2 * time.Second
				c.Agents.MaxWorkers = 5
				c.Model.Name = "claude-opus-4-1"
				c.Resources.Fixtures = "/tmp/fixtures.yaml"
			},
		},
		{
			name: "environment overrides file",
			file: "agents:\n  max_workers: 5\n",
			env: map[string]string{
				"DISPATCH_AGENTS_MAX_WORKERS":        "2",
				"DISPATCH_AGENTS_COMPLETION_TIMEOUT": "90s",
				"DISPATCH_METRICS_ADDR":              ":9090",
			},
			want: func(c *Config) {
				c.Agents.MaxWorkers = 2
				c.Agents.CompletionTimeout = 90 * time.Second
				c.Metrics.Addr = ":9090"
			},
		},
		{
			name:    "invalid values",
			file:    "agents:\n  max_workers: 0\nsandbox:\n  timeout: -1s\n",
			wantErr: "agents.max_workers must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			fs := afero.NewMemMapFs()
			path := ""
			if tt.file != "" {
				path = "/home/user/.dispatch/config.yaml"
				if err := afero.WriteFile(fs, path, []byte(tt.file), 0600); err != nil {
					t.Fatalf("WriteFile() error = %v", err)
				}
			}

			got, err := Load(fs, path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			want := defaultConfig()
			tt.want(&want)
			if diff := cmp.Diff(&want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(afero.NewMemMapFs(), "/nowhere/config.yaml"); err == nil {
		t.Fatal("Load() with a missing file succeeded, want an error")
	}
}

func TestLoadDefault(t *testing.T) {
	fs := afero.NewMemMapFs()

	got, err := LoadDefault(fs, "/home/user")
	if err != nil {
		t.Fatalf("LoadDefault() without file error = %v", err)
	}
	if diff := cmp.Diff(defaultConfig(), *got); diff != "" {
		t.Errorf("LoadDefault() mismatch (-want +got):\n%s", diff)
	}

	if err := afero.WriteFile(fs, DefaultPath("/home/user"), []byte("model:\n  max_tokens: 1024\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err = LoadDefault(fs, "/home/user")
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if got.Model.MaxTokens != 1024 {
		t.Errorf("Model.MaxTokens = %d, want 1024", got.Model.MaxTokens)
	}
}

func TestMemoryLimitBytes(t *testing.T) {
	t.Parallel()

	if got := (SandboxConfig{MemoryLimitMB: 256}).MemoryLimitBytes(); got != 256<<20 {
		t.Errorf("MemoryLimitBytes() = %d, want %d", got, 256<<20)
	}
}
