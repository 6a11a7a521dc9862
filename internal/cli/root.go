// Package cli implements the tasksync command tree. Commands operate on the
// local store first and let the sync engine reconcile with the server in
// the background, so every command works offline.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Offline-first task manager with background sync",
	Long: `tasksync is an offline-first client for a task management backend.

Every command reads and writes a local store, so listing, creating,
completing, and deleting tasks works without a network connection.
Mutations are queued and pushed to the server in the background; the
server's AI labeling results are pulled back in as they finish.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tasksync %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
