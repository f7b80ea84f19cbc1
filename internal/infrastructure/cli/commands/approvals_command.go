package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/overseer/internal/app"
)

// NewApprovalsCommand creates the approvals command with all subcommands
func NewApprovalsCommand(container *app.Container) *cobra.Command {
	approvalsCmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review and resolve pending approvals",
	}

	approvalsCmd.AddCommand(
		newApprovalsListCommand(container),
		newApprovalsShowCommand(container),
		newApprovalsResolveCommand(container, "approve"),
		newApprovalsResolveCommand(container, "deny"),
	)
	return approvalsCmd
}

func newApprovalsListCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := container.Approvals.ExpireOverdue(ctx); err != nil {
				return err
			}
			pending, err := container.Approvals.Pending(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "No pending approvals.")
				return nil
			}
			for _, req := range pending {
				fmt.Fprintf(out, "%-36s  %-6s  %-30s  expires %s\n",
					req.ID,
					printStatus(out, string(req.RiskTier)),
					req.Operation,
					humanize.Time(req.ExpiresAt),
				)
			}
			stats := container.Approvals.Stats()
			fmt.Fprintf(out, "\n%d requested, %d approved, %d denied, %d expired\n",
				stats.Requested, stats.Approved, stats.Denied, stats.Expired)
			return nil
		},
	}
}

func newApprovalsShowCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := container.Approvals.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", req.ID)
			fmt.Fprintf(out, "Item:      %s\n", req.WorkItemID)
			fmt.Fprintf(out, "Operation: %s\n", req.Operation)
			fmt.Fprintf(out, "Risk:      %s\n", printStatus(out, string(req.RiskTier)))
			fmt.Fprintf(out, "Status:    %s\n", printStatus(out, string(req.Status)))
			fmt.Fprintf(out, "Created:   %s\n", humanize.Time(req.CreatedAt))
			fmt.Fprintf(out, "Expires:   %s\n", humanize.Time(req.ExpiresAt))
			if req.Actor != "" {
				fmt.Fprintf(out, "Actor:     %s\n", req.Actor)
			}
			if req.Note != "" {
				fmt.Fprintf(out, "Note:      %s\n", req.Note)
			}
			return nil
		},
	}
}

func newApprovalsResolveCommand(container *app.Container, verb string) *cobra.Command {
	var (
		actor string
		note  string
	)

	short := "Approve a pending request"
	past := "approved"
	if verb == "deny" {
		short = "Deny a pending request"
		past = "denied"
	}

	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var err error
			if verb == "approve" {
				_, err = container.Approvals.Approve(ctx, args[0], actor, note)
			} else {
				_, err = container.Approvals.Deny(ctx, args[0], actor, note)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s %s by %s\n", args[0], past, actor)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "operator", "Who is deciding")
	cmd.Flags().StringVar(&note, "note", "", "Decision note")
	return cmd
}
