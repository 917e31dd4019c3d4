package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUpgradeProjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade-project",
		Short: "Migrate the project config to the current schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newAppService()
			if err != nil {
				return err
			}
			result, err := service.UpgradeProject(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !result.Migration.Migrated {
				fmt.Fprintf(out, "%s is already at schema %d\n", result.Path, result.Migration.ToVersion)
				return nil
			}
			printMigration(out, result.Migration.FromVersion, result.Migration.BackupPath, result.Migration.Notes)
			return nil
		},
	}
}

func newSetProjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-project <dir>",
		Short: "Remember the project directory for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newAppService()
			if err != nil {
				return err
			}
			dir, err := service.SetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project set to %s\n", dir)
			return nil
		},
	}
}
