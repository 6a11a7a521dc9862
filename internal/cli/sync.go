package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect synchronization with the server",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run a full sync cycle immediately",
	Long: `Run a blocking sync cycle: push every queued local mutation to the
server, then pull the server's collection and rebuild the local store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		outcome, err := Engine.Refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if outcome.Coalesced {
			fmt.Println("A sync cycle is already running; skipped.")
			return nil
		}

		fmt.Println("Sync complete")
		fmt.Printf("  %-10s %d\n", "Pushed:", outcome.Pushed)
		fmt.Printf("  %-10s %d\n", "Applied:", outcome.Applied)
		fmt.Printf("  %-10s %d\n", "Deleted:", outcome.Deleted)
		if outcome.Conflicts > 0 {
			fmt.Printf("  %-10s %d\n", "Conflicts:", outcome.Conflicts)
		}
		if outcome.Retried > 0 {
			fmt.Printf("  %-10s %d\n", "Retried:", outcome.Retried)
		}
		if outcome.Dropped > 0 {
			fmt.Printf("  %-10s %d (see the event log for details)\n", "Dropped:", outcome.Dropped)
		}
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth, connectivity, and recent sync activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		depth, err := Engine.QueueDepth()
		if err != nil {
			return fmt.Errorf("reading queue: %w", err)
		}

		online := "offline"
		if Engine.Online() {
			online = "online"
		}

		fmt.Println("Sync status")
		fmt.Printf("  %-16s %s\n", "Connectivity:", online)
		fmt.Printf("  %-16s %s\n", "Cycle state:", Engine.SyncState())
		fmt.Printf("  %-16s %d\n", "Pending ops:", depth)

		if MetricsCalc != nil {
			metrics, err := MetricsCalc.Calculate(time.Now().UTC().AddDate(0, 0, -7))
			if err != nil {
				return fmt.Errorf("calculating metrics: %w", err)
			}
			if metrics.LastCycleAt != nil {
				fmt.Printf("  %-16s %s (%s)\n", "Last cycle:",
					metrics.LastCycleAt.Format("2006-01-02 15:04:05 UTC"), metrics.LastCycleOutcome)
			}
			if metrics.PermanentFailures > 0 {
				fmt.Printf("  %-16s %d in the last 7 days\n", "Dropped ops:", metrics.PermanentFailures)
			}
		}
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
