package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const sampleConfig = `# tasksync configuration.
#
# A missing file or missing keys fall back to built-in defaults, so only
# the settings you want to change need to be present.

api:
  base_url: http://localhost:8000/api/v1
  # token: ""

storage:
  # Local persistence backend: file or sqlite.
  backend: file

cache:
  # How long pulled data counts as fresh before a background refresh.
  ttl: 30m

poll:
  # Labeling status poll interval.
  interval: 3s

queue:
  # Attempts before a failing operation is dropped and rolled back.
  retry_ceiling: 5

connectivity:
  probe_addr: 8.8.8.8:53

notify:
  # slack_webhook_url: https://hooks.slack.com/services/...
`

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a tasksync workspace",
	Long: `Write a commented sample .tasksyncrc into the given directory (default:
the current directory). The file documents every setting along with its
default; the engine works without it.

Safe to run on an existing workspace -- an existing .tasksyncrc is never
overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		basePath := "."
		if len(args) > 0 {
			basePath = args[0]
		}
		absPath, err := filepath.Abs(basePath)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		if err := os.MkdirAll(absPath, 0o750); err != nil {
			return fmt.Errorf("creating workspace directory: %w", err)
		}

		target := filepath.Join(absPath, ".tasksyncrc")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Skipped: %s already exists\n", target)
			return nil
		}

		if err := os.WriteFile(target, []byte(sampleConfig), 0o600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		fmt.Printf("Created %s\n", target)
		fmt.Println("Edit it to point api.base_url at your server, then run 'tasksync sync now'.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
