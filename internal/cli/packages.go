package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ptrskay3/msde-cli/internal/app"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

type planOptions struct {
	Version        string
	AllowDowngrade bool
}

func bindPlanFlags(cmd *cobra.Command, opts *planOptions) {
	cmd.Flags().StringVar(&opts.Version, "version", "", "Target version of the primary package")
	cmd.Flags().BoolVar(&opts.AllowDowngrade, "allow-downgrade", false, "Permit moving packages to older versions")
	_ = viper.BindPFlag("allow_downgrade", cmd.Flags().Lookup("allow-downgrade"))
}

func (o planOptions) request(cmd *cobra.Command, latest bool) app.PlanRequest {
	return app.PlanRequest{
		Version:        o.Version,
		Latest:         latest,
		AllowDowngrade: resolveBool(cmd, o.AllowDowngrade, "allow_downgrade", "allow-downgrade"),
	}
}

func newVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions [package]",
		Short: "List published versions of a package",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg := types.PrimaryPackage
			if len(args) == 1 {
				parsed, err := parsePackages(args)
				if err != nil {
					return err
				}
				pkg = parsed[0]
			}
			service, err := newAppService()
			if err != nil {
				return err
			}
			result, err := service.Versions(cmd.Context(), pkg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, version := range result.Versions {
				marker := ""
				if version == result.Installed {
					marker = " (installed)"
				}
				fmt.Fprintf(out, "%s%s\n", version, marker)
			}
			return nil
		},
	}
}

func newPlanCommand() *cobra.Command {
	opts := planOptions{}
	latest := false
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what install would change without changing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newAppService()
			if err != nil {
				return err
			}
			plan, err := service.Plan(cmd.Context(), opts.request(cmd, latest))
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	bindPlanFlags(cmd, &opts)
	cmd.Flags().BoolVar(&latest, "latest", false, "Plan towards the newest version instead of the configured one")
	return cmd
}

func newInstallCommand() *cobra.Command {
	opts := planOptions{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the configured (or given) version of the stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInstall(cmd.Context(), cmd, opts.request(cmd, false))
		},
	}
	bindPlanFlags(cmd, &opts)
	return cmd
}

func newUpgradeCommand() *cobra.Command {
	opts := planOptions{}
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the stack to the newest compatible versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInstall(cmd.Context(), cmd, opts.request(cmd, true))
		},
	}
	bindPlanFlags(cmd, &opts)
	return cmd
}

func runInstall(ctx context.Context, cmd *cobra.Command, req app.PlanRequest) error {
	service, err := newAppService()
	if err != nil {
		return err
	}
	result, err := service.Install(ctx, req)
	out := cmd.OutOrStdout()
	if len(result.Report.Results) > 0 {
		fmt.Fprintln(out, result.Report.Summary())
	}
	if err != nil {
		return err
	}
	if result.Plan.IsEmpty() {
		fmt.Fprintf(out, "%s %s is up to date\n", result.Plan.Primary, result.Plan.Target)
	} else {
		fmt.Fprintf(out, "installed %s %s\n", result.Plan.Primary, result.Plan.Target)
	}
	if result.Migration != nil && result.Migration.Migrated {
		printMigration(out, result.Migration.FromVersion, result.Migration.BackupPath, result.Migration.Notes)
	}
	return nil
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [package...]",
		Short: "Check installed packages against their recorded digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := parsePackages(args)
			if err != nil {
				return err
			}
			service, err := newAppService()
			if err != nil {
				return err
			}
			verified, err := service.Verify(cmd.Context(), pkgs)
			for _, entry := range verified {
				fmt.Fprintf(cmd.OutOrStdout(), "ok %s %s\n", entry.Package, entry.Version)
			}
			return err
		},
	}
}

func printPlan(out io.Writer, plan types.InstallPlan) {
	if plan.IsEmpty() {
		fmt.Fprintf(out, "%s %s: nothing to do\n", plan.Primary, plan.Target)
		return
	}
	fmt.Fprintf(out, "target %s %s\n", plan.Primary, plan.Target)
	for _, step := range plan.Steps {
		line := "  " + step.String()
		if len(step.After) > 0 {
			after := make([]string, 0, len(step.After))
			for _, dep := range step.After {
				after = append(after, string(dep))
			}
			line += " (after " + strings.Join(after, ", ") + ")"
		}
		fmt.Fprintln(out, line)
	}
}

func printMigration(out io.Writer, from int, backup string, notes []string) {
	fmt.Fprintf(out, "project config migrated from schema %d to %d (backup: %s)\n", from, types.CurrentConfigSchema, backup)
	for _, note := range notes {
		fmt.Fprintf(out, "  manual step: %s\n", note)
	}
}
