package observability

import (
	"fmt"
	"time"
)

// SyncMetrics holds calculated metrics derived from the event log.
type SyncMetrics struct {
	CyclesRun         int        `json:"cycles_run"`
	OpsPushed         int        `json:"ops_pushed"`
	OpsRetried        int        `json:"ops_retried"`
	PermanentFailures int        `json:"permanent_failures"`
	ConflictsResolved int        `json:"conflicts_resolved"`
	Rollbacks         int        `json:"rollbacks"`
	LabelsMerged      int        `json:"labels_merged"`
	EventCount        int        `json:"event_count"`
	LastCycleAt       *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleOutcome  string     `json:"last_cycle_outcome,omitempty"`
}

// MetricsCalculator derives sync metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*SyncMetrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*SyncMetrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &SyncMetrics{EventCount: len(events)}

	for _, event := range events {
		switch event.Type {
		case EventSyncCompleted:
			m.CyclesRun++
			t := event.Time
			m.LastCycleAt = &t
			if outcome, ok := event.Data["outcome"].(string); ok {
				m.LastCycleOutcome = outcome
			}
		case EventOpPushed:
			m.OpsPushed++
		case EventOpRetried:
			m.OpsRetried++
		case EventOpFailed:
			m.PermanentFailures++
		case EventConflictResolved:
			m.ConflictsResolved++
		case EventRollback:
			m.Rollbacks++
		case EventLabelsMerged:
			m.LabelsMerged++
		}
	}

	return m, nil
}
