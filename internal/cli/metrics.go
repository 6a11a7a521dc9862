package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display sync metrics derived from the event log",
	Long: `Display aggregated sync metrics derived from the event log.

Metrics include cycles run, operations pushed and retried, permanent
failures, conflicts resolved, and labels merged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Sync metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Printf("  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Printf("  %-24s %d\n", "Cycles run:", metrics.CyclesRun)
		fmt.Printf("  %-24s %d\n", "Operations pushed:", metrics.OpsPushed)
		fmt.Printf("  %-24s %d\n", "Operations retried:", metrics.OpsRetried)
		fmt.Printf("  %-24s %d\n", "Permanent failures:", metrics.PermanentFailures)
		fmt.Printf("  %-24s %d\n", "Conflicts resolved:", metrics.ConflictsResolved)
		fmt.Printf("  %-24s %d\n", "Rollbacks:", metrics.Rollbacks)
		fmt.Printf("  %-24s %d\n", "Labels merged:", metrics.LabelsMerged)

		if metrics.LastCycleAt != nil {
			fmt.Printf("\n  %-24s %s (%s)\n", "Last cycle:",
				metrics.LastCycleAt.Format(time.RFC3339), metrics.LastCycleOutcome)
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
