package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elderwise/companion/pkg/config"
)

// The retention jobs run on the serve scheduler, but operators can also
// trigger them one-off against the configured backends.

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive fragments older than the active horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		st, err := buildStack(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.scheduler.ArchiveMemories(cmd.Context())
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete fragments older than the total retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		st, err := buildStack(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.scheduler.PurgeMemories(cmd.Context())
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print system-wide memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		st, err := buildStack(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		stats := st.store.GlobalStatistics(cmd.Context())
		fmt.Fprintf(os.Stdout, "users: %d\nactive memories: %d\narchived memories: %d\ninteractions: %d\n",
			stats.Users, stats.ActiveMemories, stats.ArchivedMemories, stats.TotalInteractions)
		return nil
	},
}
