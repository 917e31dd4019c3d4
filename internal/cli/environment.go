package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ptrskay3/msde-cli/internal/app"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

type lifecycleFunc func(service app.Service, cmd *cobra.Command, req app.EnvironmentRequest) (types.OrchestrationReport, error)

func newLifecycleCommand(use string, short string, hooks bool, run lifecycleFunc) *cobra.Command {
	skipHooks := false
	cmd := &cobra.Command{
		Use:   use + " [service...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newAppService()
			if err != nil {
				return err
			}
			req := app.EnvironmentRequest{
				Services:  parseServices(args),
				SkipHooks: resolveBool(cmd, skipHooks, "skip_hooks", "skip-hooks"),
			}
			report, err := run(service, cmd, req)
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}
	if hooks {
		cmd.Flags().BoolVar(&skipHooks, "skip-hooks", false, "Do not run the project's pre_run/post_run hooks")
		_ = viper.BindPFlag("skip_hooks", cmd.Flags().Lookup("skip-hooks"))
	}
	return cmd
}

func newUpCommand() *cobra.Command {
	return newLifecycleCommand("up", "Start services and their dependencies", true,
		func(service app.Service, cmd *cobra.Command, req app.EnvironmentRequest) (types.OrchestrationReport, error) {
			return service.Up(cmd.Context(), req)
		})
}

func newDownCommand() *cobra.Command {
	return newLifecycleCommand("down", "Stop services and everything depending on them", false,
		func(service app.Service, cmd *cobra.Command, req app.EnvironmentRequest) (types.OrchestrationReport, error) {
			return service.Down(cmd.Context(), req)
		})
}

func newRestartCommand() *cobra.Command {
	return newLifecycleCommand("restart", "Restart services together with their dependents", true,
		func(service app.Service, cmd *cobra.Command, req app.EnvironmentRequest) (types.OrchestrationReport, error) {
			return service.Restart(cmd.Context(), req)
		})
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newAppService()
			if err != nil {
				return err
			}
			report, err := service.Status(cmd.Context())
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}
}

func printReport(out io.Writer, report types.OrchestrationReport) {
	names := make([]string, 0, len(report.States))
	for name := range report.States {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%-14s %s\n", name, report.States[types.ServiceName(name)])
	}
}
