package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/overseer/internal/app"
)

// NewLimitsCommand creates the limits command showing rate and cost state.
func NewLimitsCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show current rate-limit and cost-ledger snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Rate limits:")
			buckets := container.Limiter.Snapshot()
			if len(buckets) == 0 {
				fmt.Fprintln(out, "  (no buckets touched yet)")
			}
			for _, b := range buckets {
				fmt.Fprintf(out, "  %-12s  %5.1f / %.0f tokens  refill %.2f/s  last %s\n",
					b.Key, b.Tokens, b.Capacity+b.Burst, b.RefillRate, humanize.Time(b.LastRefill))
			}

			fmt.Fprintln(out, "\nCost ledger:")
			snapshots := container.Tracker.Snapshot()
			if len(snapshots) == 0 {
				fmt.Fprintln(out, "  (no spend recorded today)")
			}
			for _, s := range snapshots {
				fmt.Fprintf(out, "  %-12s  $%.2f spent, $%.2f remaining of $%.2f  [%s]\n",
					s.Entry.Provider, s.Entry.TotalSpent, s.Remaining, s.DailyLimit,
					printStatus(out, s.Status))
			}
			return nil
		},
	}
}
