package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type execOptions struct {
	Timeout     time.Duration
	MemoryLimit string
}

func NewExecCmd() *cobra.Command {
	options := execOptions{}
	cmd := &cobra.Command{
		Use:   "exec <file.js>",
		Short: "Run a script in the worker sandbox",
		Long: `Runs a JavaScript file in the same sandbox workers use and prints the
execution result as JSON. The script sees the same host functions as a worker:
listAccounts, listRegions, queryResources, queryCloudWatchLogEvents and
getCloudTrailEvents.`,
		Example: `  dispatch exec accounts.js
  dispatch exec --timeout 5s --memory-limit 64MiB scan.js`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *getConfig(cmd.Context())
			if cmd.Flags().Changed("timeout") {
				cfg.Sandbox.Timeout = options.Timeout
			}
			if cmd.Flags().Changed("memory-limit") {
				limit, err := humanize.ParseBytes(options.MemoryLimit)
				if err != nil {
					return fmt.Errorf("invalid memory limit %q: %w", options.MemoryLimit, err)
				}
				cfg.Sandbox.MemoryLimitMB = int64(limit / (1024 * 1024))
				if cfg.Sandbox.MemoryLimitMB < 1 {
					return fmt.Errorf("memory limit must be at least 1MiB, got %s", humanize.IBytes(limit))
				}
			}

			fs := getFileSystem(cmd.Context())
			source, err := fs.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}

			backend, err := newResourceBackend(fs, cfg.Resources)
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			engine := newEngine(backend, cfg.Sandbox, nil)
			result, err := engine.Execute(cmd.Context(), string(source))
			if result == nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}

			if err != nil || !result.Success {
				return fmt.Errorf("script failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&options.Timeout, "timeout", 0, "wall-clock limit of the script (default from sandbox.timeout)")
	cmd.Flags().StringVar(&options.MemoryLimit, "memory-limit", "", "heap limit of the script, e.g. 64MiB (default from sandbox.memory_limit_mb)")
	return cmd
}
