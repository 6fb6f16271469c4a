package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/furisto/dispatch/backend/agent"
	"github.com/furisto/dispatch/backend/agent/types"
	"github.com/furisto/dispatch/backend/event"
	"github.com/furisto/dispatch/frontend/cli/pkg/terminal"
	"github.com/furisto/dispatch/shared"
)

const pollInterval = 100 * time.Millisecond

type runOptions struct {
	Quiet bool
}

func NewRunCmd() *cobra.Command {
	options := runOptions{}
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Answer a request with a manager agent and its workers",
		Long: `Starts a manager agent with the request. The manager plans the work, delegates
tasks to worker agents that query your AWS environment from sandboxed scripts,
and writes a report once every task is done.

Progress of all agents is printed while they work. Interrupt to cancel them.`,
		Example: `  dispatch run "Which EC2 instances in production are not tagged with an owner?"
  dispatch run --quiet "Summarize CloudTrail activity of the last hour in eu-west-1"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer rt.Close()

			return runRequest(cmd.Context(), cmd.OutOrStdout(), rt.registry, strings.Join(args, " "), options)
		},
	}

	cmd.Flags().BoolVarP(&options.Quiet, "quiet", "q", false, "only print the final report")
	return cmd
}

func runRequest(ctx context.Context, out io.Writer, registry *agent.Registry, request string, options runOptions) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return registry.Run(groupCtx)
	})

	manager, err := registry.CreateManager()
	if err != nil {
		stop()
		return errors.Join(err, group.Wait())
	}
	if err := manager.SendMessage(request); err != nil {
		stop()
		return errors.Join(err, group.Wait())
	}

	// status is written before idle is closed.
	var status types.AgentStatus
	idle := make(chan struct{})
	group.Go(func() error {
		defer close(idle)
		status, _ = manager.Wait(groupCtx)
		return nil
	})

	printer := &eventPrinter{out: out, quiet: options.Quiet, managerID: manager.ID()}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-idle:
			break wait
		case <-ticker.C:
			printer.drain(registry)
		}
	}
	printer.drain(registry)

	stop()
	if err := group.Wait(); err != nil {
		return shared.Wrap(shared.ErrorSourceSystem, err, "agent registry stopped")
	}
	if err := ctx.Err(); err != nil {
		registry.CancelAll()
		return fmt.Errorf("interrupted: %w", err)
	}

	switch status.Kind {
	case types.StatusFailed:
		return shared.Errorf(shared.ErrorSourceAgent, "manager failed: %s", status.Reason)
	case types.StatusCancelled:
		return shared.Errorf(shared.ErrorSourceAgent, "manager was cancelled")
	}

	if printer.report == "" {
		return shared.Errorf(shared.ErrorSourceAgent, "manager finished without a report")
	}
	return renderReport(out, printer.report)
}

type eventPrinter struct {
	out       io.Writer
	quiet     bool
	managerID types.AgentID
	report    string
}

func (p *eventPrinter) drain(registry *agent.Registry) {
	for _, instance := range registry.List() {
		for _, e := range instance.CheckResponses() {
			p.print(instance, e)
		}
	}
}

func (p *eventPrinter) print(instance *agent.Instance, e event.AgentEvent) {
	if success, ok := e.(event.Success); ok && instance.ID() == p.managerID {
		p.report = success.FinalText
		return
	}
	if p.quiet {
		return
	}

	name := "manager"
	if instance.Type().IsWorker() {
		name = "worker " + instance.ID().Short()
	}

	switch e := e.(type) {
	case event.ToolCallStart:
		fmt.Fprintf(p.out, "%s [%s] %s ...\n", terminal.ActionSymbol, name, e.ToolName)
	case event.ToolCallComplete:
		fmt.Fprintf(p.out, "%s [%s] %s done in %s\n", terminal.SuccessSymbol, name, e.ToolName, e.Duration.Round(time.Millisecond))
	case event.ToolCallFailed:
		fmt.Fprintf(p.out, "%s [%s] %s failed: %s\n", terminal.SmallErrorSymbol, name, e.ToolName, terminal.FirstLine(e.Error))
	case event.WorkerSpawned:
		fmt.Fprintf(p.out, "%s [%s] spawned worker %s: %s\n", terminal.SpawnSymbol, name, e.WorkerID.Short(), terminal.Dim(terminal.FirstLine(e.Task)))
	case event.Success:
		fmt.Fprintf(p.out, "%s [%s] finished\n", terminal.SuccessSymbol, name)
	case event.Failed:
		fmt.Fprintf(p.out, "%s [%s] failed: %s\n", terminal.SmallErrorSymbol, name, e.Reason)
	case event.Cancelled:
		fmt.Fprintf(p.out, "%s [%s] cancelled\n", terminal.SmallErrorSymbol, name)
	}
}

// renderReport prints report as styled markdown on terminals and verbatim
// everywhere else.
func renderReport(out io.Writer, report string) error {
	width, ok := terminal.Width(out)
	if !ok {
		_, err := fmt.Fprintf(out, "\n%s\n", report)
		return err
	}

	_, err := fmt.Fprintf(out, "\n%s\n", terminal.FormatMarkdown(report, width))
	return err
}
