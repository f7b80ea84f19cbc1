package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/overseer/internal/app"
	"github.com/doeshing/overseer/internal/domain"
)

// NewItemCommand creates the item command with all subcommands
func NewItemCommand(container *app.Container) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
	}

	itemCmd.AddCommand(
		newItemListCommand(container),
		newItemShowCommand(container),
		newItemAddCommand(container),
	)
	return itemCmd
}

func newItemListCommand(container *app.Container) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := container.Engine.List(cmd.Context(), domain.ItemState(state))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No work items.")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(out, "%-36s  %-8s  %-18s  retries=%d  %s\n",
					item.ID,
					string(item.Kind),
					printStatus(out, string(item.State)),
					item.RetryCount,
					humanize.Time(item.UpdatedAt),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (e.g. pending, failed)")
	return cmd
}

func newItemShowCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one work item with its full history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := container.Engine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderItem(cmd.OutOrStdout(), item)
			return nil
		},
	}
}

func newItemAddCommand(container *app.Container) *cobra.Command {
	var (
		kind string
		meta []string
	)

	cmd := &cobra.Command{
		Use:   "add <external-ref>",
		Short: "Submit a new work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata := make(map[string]string)
			for _, kv := range meta {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("metadata %q is not key=value", kv)
				}
				metadata[parts[0]] = parts[1]
			}

			item, err := container.Engine.Submit(cmd.Context(), domain.ItemKind(kind), args[0], metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s (%s)\n", item.ID, item.ExternalRef)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "issue", "Item kind: issue, pr, or roadmap")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata key=value (repeatable)")
	return cmd
}

func renderItem(out io.Writer, item *domain.WorkItem) {
	fmt.Fprintf(out, "ID:      %s\n", item.ID)
	fmt.Fprintf(out, "Kind:    %s\n", item.Kind)
	fmt.Fprintf(out, "Ref:     %s\n", item.ExternalRef)
	fmt.Fprintf(out, "State:   %s\n", printStatus(out, string(item.State)))
	fmt.Fprintf(out, "Retries: %d\n", item.RetryCount)
	if item.LastError != "" {
		fmt.Fprintf(out, "Error:   %s\n", item.LastError)
	}
	if item.AwaitingApproval() {
		fmt.Fprintf(out, "Parked:  approval %s -> %s\n", item.ApprovalID, item.PendingTarget)
	}
	if len(item.Metadata) > 0 {
		fmt.Fprintln(out, "Metadata:")
		for k, v := range item.Metadata {
			fmt.Fprintf(out, "  %s = %s\n", k, v)
		}
	}
	if len(item.History) > 0 {
		fmt.Fprintln(out, "History:")
		for _, t := range item.History {
			fmt.Fprintf(out, "  %s  %s -> %s  %s\n",
				t.Timestamp.Format("2006-01-02 15:04:05"), t.From, t.To, t.Reason)
		}
	}
}
