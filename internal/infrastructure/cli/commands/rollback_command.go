package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/overseer/internal/app"
)

// NewRollbackCommand creates the rollback command with all subcommands
func NewRollbackCommand(container *app.Container) *cobra.Command {
	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "List, execute, and clean up rollback points",
	}

	rollbackCmd.AddCommand(
		newRollbackListCommand(container),
		newRollbackExecCommand(container),
		newRollbackCleanupCommand(container),
	)
	return rollbackCmd
}

func newRollbackListCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded rollback points",
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := container.Rollback.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(points) == 0 {
				fmt.Fprintln(out, "No rollback points.")
				return nil
			}
			for _, p := range points {
				fmt.Fprintf(out, "%-36s  %-12s  %-30s  %s\n",
					p.ID, p.CheckpointRef, p.Description, humanize.Time(p.CreatedAt))
			}
			return nil
		},
	}
}

func newRollbackExecCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <id>",
		Short: "Restore the checkpoint behind a rollback point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := container.Rollback.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored to %s (%s)\n",
				result.RestoredTo, result.Point.Description)
			return nil
		},
	}
}

func newRollbackCleanupCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete rollback records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := container.Rollback.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d rollback records\n", removed)
			return nil
		},
	}
}
