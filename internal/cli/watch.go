package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch AI labeling until every task is classified",
	Long: `Poll the server for labeling progress and merge finished labels into
the local store. The command exits once every task has reached a terminal
labeling state (completed or failed), or when interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil || Poller == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		result, err := Engine.GetTasks(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		pending := 0
		for _, t := range result.Tasks {
			if !t.LabelingStatus.Terminal() {
				pending++
			}
		}
		if pending == 0 {
			fmt.Println("All tasks are labeled.")
			return nil
		}

		fmt.Printf("Watching %d task(s) for labeling results...\n", pending)
		Poller.EnsureRunning(cmd.Context())

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for Poller.Running() {
			select {
			case <-cmd.Context().Done():
				Poller.Stop()
				return cmd.Context().Err()
			case <-ticker.C:
			}
		}

		fmt.Println("Done: all tasks are labeled.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
