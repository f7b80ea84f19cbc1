package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doeshing/overseer/internal/app"
)

// NewCacheCommand creates the cache command with all subcommands
func NewCacheCommand(container *app.Container) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or invalidate the engine cache",
	}

	cacheCmd.AddCommand(
		newCacheStatsCommand(container),
		newCacheInvalidateCommand(container),
	)
	return cacheCmd
}

func newCacheStatsCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-namespace hit/miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			stats := container.Cache.Stats()
			if len(stats) == 0 {
				fmt.Fprintln(out, "No cache namespaces touched yet.")
				return nil
			}
			for _, s := range stats {
				fmt.Fprintf(out, "%-16s  hits=%d  misses=%d  evictions=%d  size=%d\n",
					s.Namespace, s.Hits, s.Misses, s.Evictions, s.Size)
			}
			return nil
		},
	}
}

func newCacheInvalidateCommand(container *app.Container) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate cached entries by tag, or everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if tag == "" {
				container.Cache.Clear()
				fmt.Fprintln(out, "Cache cleared.")
				return nil
			}
			removed := container.Cache.InvalidateByTag(tag)
			fmt.Fprintf(out, "Removed %d entries tagged %q\n", removed, tag)
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "Invalidate only entries carrying this tag")
	return cmd
}
