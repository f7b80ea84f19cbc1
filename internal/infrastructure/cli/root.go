// Package cli wires the operator-facing cobra commands over the engine
// container.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/doeshing/overseer/internal/app"
	"github.com/doeshing/overseer/internal/infrastructure/cli/commands"
)

// Options holds CLI-level configuration.
type Options struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(ctx context.Context, opts Options) (*cobra.Command, error) {
	container, err := app.BuildContainer(ctx, opts.ConfigPath, opts.Verbose)
	if err != nil {
		return nil, err
	}

	root := &cobra.Command{
		Use:   "overseer",
		Short: "Overseer - autonomous workflow engine",
		Long:  "Overseer drives work items through a gated lifecycle with rate, budget, guard and approval controls.",
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return container.Close(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(commands.NewRunCommand(container))
	root.AddCommand(commands.NewItemCommand(container))
	root.AddCommand(commands.NewApprovalsCommand(container))
	root.AddCommand(commands.NewRollbackCommand(container))
	root.AddCommand(commands.NewLimitsCommand(container))
	root.AddCommand(commands.NewCacheCommand(container))
	root.AddCommand(commands.NewConfigCommand(container))
	root.AddCommand(commands.NewVersionCommand())
	return root, nil
}
