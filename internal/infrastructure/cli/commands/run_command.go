package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doeshing/overseer/internal/app"
	"github.com/doeshing/overseer/internal/domain"
)

// NewRunCommand creates the run command driving pending items.
func NewRunCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process pending work items until nothing can progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := container.Engine.Run(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			items, err := container.Engine.List(ctx, "")
			if err != nil {
				return err
			}
			var terminal, parked, held int
			for _, item := range items {
				switch {
				case domain.IsTerminal(item.State):
					terminal++
				case item.AwaitingApproval():
					parked++
				default:
					held++
				}
			}
			fmt.Fprintf(out, "Run complete: %d terminal, %d awaiting approval, %d held\n", terminal, parked, held)
			if parked > 0 {
				fmt.Fprintln(out, "Use 'overseer approvals list' to review pending decisions.")
			}
			return nil
		},
	}
}
