package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"tasksync/internal/observability"
	"tasksync/internal/remote"
	"tasksync/internal/storage"
	"tasksync/pkg/models"
)

// SyncTrigger identifies what started a sync cycle.
type SyncTrigger string

const (
	TriggerConnectivity SyncTrigger = "connectivity_restored"
	TriggerForeground   SyncTrigger = "foreground"
	// TriggerManual is a user-initiated refresh; it invalidates the cache
	// before pulling.
	TriggerManual SyncTrigger = "manual_refresh"
	// TriggerStale is the background refresh started when a consumer reads
	// a stale cache.
	TriggerStale SyncTrigger = "stale_cache"
)

// SyncState is the orchestrator's position in the cycle state machine.
type SyncState string

const (
	StateIdle        SyncState = "idle"
	StatePushing     SyncState = "pushing"
	StatePulling     SyncState = "pulling"
	StateReconciling SyncState = "reconciling_conflicts"
)

// SyncOutcome summarises one cycle.
type SyncOutcome struct {
	Trigger   SyncTrigger `json:"trigger"`
	Coalesced bool        `json:"coalesced"`
	Pushed    int         `json:"pushed"`
	Retried   int         `json:"retried"`
	Dropped   int         `json:"dropped"`
	Applied   int         `json:"applied"`
	Deleted   int         `json:"deleted"`
	Conflicts int         `json:"conflicts"`
}

// NoOp reports whether the cycle changed nothing locally or remotely.
func (o *SyncOutcome) NoOp() bool {
	return o.Pushed == 0 && o.Dropped == 0 && o.Applied == 0 && o.Deleted == 0 && o.Conflicts == 0
}

// SyncOrchestrator drives the push-then-pull reconciliation cycle. Cycles
// are mutually exclusive: a trigger arriving while one runs is coalesced
// (dropped), since the in-flight cycle observes newly enqueued operations
// on its next run. A started cycle always runs to completion.
type SyncOrchestrator struct {
	cache        storage.CacheStore
	queue        storage.OperationQueue
	api          remote.TaskAPI
	optimistic   *OptimisticController
	events       observability.EventLog
	notifier     observability.Notifier
	retryCeiling int

	running atomic.Bool
	state   atomic.Value // SyncState
}

// NewSyncOrchestrator wires an orchestrator over the shared stores and the
// remote API.
func NewSyncOrchestrator(
	cache storage.CacheStore,
	queue storage.OperationQueue,
	api remote.TaskAPI,
	optimistic *OptimisticController,
	events observability.EventLog,
	notifier observability.Notifier,
	retryCeiling int,
) *SyncOrchestrator {
	o := &SyncOrchestrator{
		cache:        cache,
		queue:        queue,
		api:          api,
		optimistic:   optimistic,
		events:       events,
		notifier:     notifier,
		retryCeiling: retryCeiling,
	}
	o.state.Store(StateIdle)
	return o
}

// State returns the orchestrator's current position in the cycle.
func (o *SyncOrchestrator) State() SyncState {
	return o.state.Load().(SyncState)
}

func (o *SyncOrchestrator) setState(s SyncState) {
	o.state.Store(s)
}

// RunCycle executes one sync cycle. When a cycle is already in flight the
// trigger is coalesced and the returned outcome has Coalesced set.
func (o *SyncOrchestrator) RunCycle(ctx context.Context, trigger SyncTrigger) (*SyncOutcome, error) {
	if !o.running.CompareAndSwap(false, true) {
		return &SyncOutcome{Trigger: trigger, Coalesced: true}, nil
	}
	defer func() {
		o.setState(StateIdle)
		o.running.Store(false)
	}()

	outcome := &SyncOutcome{Trigger: trigger}
	_ = o.events.Write(observability.Event{
		Level: "INFO", Type: observability.EventSyncStarted,
		Message: "sync cycle started",
		Data:    map[string]any{"trigger": string(trigger)},
	})

	if trigger == TriggerManual {
		if err := o.cache.Invalidate(); err != nil {
			return outcome, o.fail(outcome, fmt.Errorf("sync cycle: %w", err))
		}
	}

	o.setState(StatePushing)
	if err := o.push(ctx, outcome); err != nil {
		return outcome, o.fail(outcome, err)
	}

	o.setState(StatePulling)
	pullStarted := time.Now().UTC()
	since, full, err := o.pullWindow()
	if err != nil {
		return outcome, o.fail(outcome, err)
	}
	changes, err := o.api.ListChangesSince(ctx, since)
	if err != nil {
		return outcome, o.fail(outcome, fmt.Errorf("sync cycle: %w", err))
	}

	o.setState(StateReconciling)
	if err := o.reconcile(changes, outcome); err != nil {
		return outcome, o.fail(outcome, err)
	}

	if err := o.finish(outcome, full, pullStarted); err != nil {
		return outcome, o.fail(outcome, err)
	}

	_ = o.events.Write(observability.Event{
		Level: "INFO", Type: observability.EventSyncCompleted,
		Message: "sync cycle completed",
		Data: map[string]any{
			"trigger": string(trigger), "outcome": "ok",
			"pushed": outcome.Pushed, "applied": outcome.Applied,
			"deleted": outcome.Deleted, "conflicts": outcome.Conflicts,
			"dropped": outcome.Dropped,
		},
	})
	return outcome, nil
}

func (o *SyncOrchestrator) fail(outcome *SyncOutcome, err error) error {
	_ = o.events.Write(observability.Event{
		Level: "WARN", Type: observability.EventSyncCompleted,
		Message: "sync cycle aborted",
		Data:    map[string]any{"trigger": string(outcome.Trigger), "outcome": "error", "error": err.Error()},
	})
	return err
}

// pullWindow decides the changes window: incremental from the last
// successful sync, or full when no snapshot exists (first run, manual
// invalidation, corrupt storage).
func (o *SyncOrchestrator) pullWindow() (time.Time, bool, error) {
	snap, _, err := o.cache.Read()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sync cycle: %w", err)
	}
	if snap == nil {
		return time.Time{}, true, nil
	}
	since, err := o.cache.LastSyncedAt()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sync cycle: %w", err)
	}
	return since, since.IsZero(), nil
}

// push drains the queue in FIFO order. The queue is re-read before every
// operation rather than iterated from one drain: a create confirmation
// remaps entity ids of later entries, and concurrent optimistic mutations
// may append during the awaited remote calls.
//
// Order is FIFO per entity: when an operation fails transiently and stays
// queued, the entity is held back for the rest of the phase. Attempting a
// later operation for it would apply the entity's edits out of enqueue
// order on the server once the held one retries.
func (o *SyncOrchestrator) push(ctx context.Context, outcome *SyncOutcome) error {
	attempted := make(map[string]bool)
	held := make(map[string]bool)
	for {
		ops, err := o.queue.Drain()
		if err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}

		var next *storage.QueuedOperation
		for i := range ops {
			if attempted[ops[i].ID] || held[ops[i].EntityID] {
				continue
			}
			next = &ops[i]
			break
		}
		if next == nil {
			return nil
		}
		attempted[next.ID] = true

		hold, err := o.pushOne(ctx, *next, outcome)
		if err != nil {
			return err
		}
		if hold {
			held[next.EntityID] = true
		}
	}
}

// pushOne issues the remote call for a single operation. hold reports that
// the operation stayed queued and later operations for its entity must not
// be attempted this cycle. It returns a non-nil error only for transport
// failures, which abort the cycle: the server is unreachable, so attempting
// the remaining operations (and burning their retry budgets) is pointless.
func (o *SyncOrchestrator) pushOne(ctx context.Context, op storage.QueuedOperation, outcome *SyncOutcome) (bool, error) {
	switch op.Kind {
	case storage.OpCreate:
		var payload createPayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return false, o.drop(op, outcome, fmt.Errorf("undecodable payload: %w", err))
		}

		created, err := o.api.CreateTask(ctx, payload.Task)
		if err != nil {
			return o.handlePushError(op, outcome, err)
		}
		if err := o.optimistic.ConfirmCreate(op.EntityID, *created); err != nil {
			return false, fmt.Errorf("sync cycle: %w", err)
		}
		return false, o.confirm(op, outcome)

	case storage.OpUpdate:
		if models.IsTempID(op.EntityID) {
			queued, err := o.createStillQueued(op.EntityID)
			if err != nil {
				return false, err
			}
			// While the create is still queued (a transient failure kept
			// it), the update merely waits for the server id. Only when no
			// create remains did the entity never reach the server, and
			// neither can the update.
			if queued {
				return true, nil
			}
			return false, o.drop(op, outcome, errors.New("task was never created remotely"))
		}

		var payload updatePayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return false, o.drop(op, outcome, fmt.Errorf("undecodable payload: %w", err))
		}

		updated, err := o.api.UpdateTask(ctx, op.EntityID, payload.Patch)
		if err != nil {
			return o.handlePushError(op, outcome, err)
		}
		if err := o.refreshCached(*updated); err != nil {
			return false, fmt.Errorf("sync cycle: %w", err)
		}
		return false, o.confirm(op, outcome)

	case storage.OpDelete:
		// Deleting a task the server never saw is complete by definition.
		if !models.IsTempID(op.EntityID) {
			if err := o.api.DeleteTask(ctx, op.EntityID); err != nil {
				// Already gone remotely counts as success.
				var apiErr *remote.APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
					return o.handlePushError(op, outcome, err)
				}
			}
		}
		return false, o.confirm(op, outcome)
	}
	return false, o.drop(op, outcome, fmt.Errorf("unknown operation kind %q", op.Kind))
}

// createStillQueued reports whether a create for the entity is still
// waiting in the queue.
func (o *SyncOrchestrator) createStillQueued(entityID string) (bool, error) {
	ops, err := o.queue.Drain()
	if err != nil {
		return false, fmt.Errorf("sync cycle: %w", err)
	}
	for _, op := range ops {
		if op.Kind == storage.OpCreate && op.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

// confirm removes a successfully pushed operation.
func (o *SyncOrchestrator) confirm(op storage.QueuedOperation, outcome *SyncOutcome) error {
	if err := o.queue.Remove(op.ID); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	outcome.Pushed++
	_ = o.events.Write(observability.Event{
		Level: "INFO", Type: observability.EventOpPushed,
		Message: fmt.Sprintf("pushed %s for %s", op.Kind, op.EntityID),
		Data:    map[string]any{"operation_id": op.ID, "kind": string(op.Kind), "entity_id": op.EntityID},
	})
	return nil
}

// handlePushError applies the retry policy: transient failures bump the
// retry counter until the ceiling, permanent ones drop immediately. hold
// mirrors pushOne's contract: true when the operation stayed queued.
func (o *SyncOrchestrator) handlePushError(op storage.QueuedOperation, outcome *SyncOutcome, cause error) (bool, error) {
	if !remote.IsRetryable(cause) {
		return false, o.drop(op, outcome, cause)
	}

	retries, err := o.queue.Bump(op.ID)
	if err != nil {
		return false, fmt.Errorf("sync cycle: %w", err)
	}
	outcome.Retried++
	_ = o.events.Write(observability.Event{
		Level: "WARN", Type: observability.EventOpRetried,
		Message: fmt.Sprintf("%s for %s failed, retry %d/%d", op.Kind, op.EntityID, retries, o.retryCeiling),
		Data:    map[string]any{"operation_id": op.ID, "retries": retries, "error": cause.Error()},
	})

	if retries > o.retryCeiling {
		op.Retries = retries
		return false, o.drop(op, outcome, fmt.Errorf("retry ceiling exceeded: %w", cause))
	}

	// A transport-level failure means the server is unreachable; abort the
	// push phase so the remaining operations keep their retry budgets.
	var apiErr *remote.APIError
	if !errors.As(cause, &apiErr) {
		return true, fmt.Errorf("sync cycle: remote unreachable: %w", cause)
	}
	return true, nil
}

// drop removes an operation permanently: rollback, event-log record, and a
// user-visible alert. A queued mutation is never lost silently.
func (o *SyncOrchestrator) drop(op storage.QueuedOperation, outcome *SyncOutcome, cause error) error {
	if err := o.queue.Remove(op.ID); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	if err := o.optimistic.Rollback(op); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	outcome.Dropped++

	message := fmt.Sprintf("%s for task %s was dropped: %v", op.Kind, op.EntityID, cause)
	_ = o.events.Write(observability.Event{
		Level: "ERROR", Type: observability.EventOpFailed,
		Message: message,
		Data: map[string]any{
			"operation_id": op.ID, "kind": string(op.Kind),
			"entity_id": op.EntityID, "retries": op.Retries, "error": cause.Error(),
		},
	})
	_ = o.notifier.Notify([]observability.Alert{{
		ID:          op.ID,
		Severity:    observability.SeverityHigh,
		Message:     message,
		TriggeredAt: time.Now().UTC(),
	}})
	return nil
}

// reconcile applies the pulled change set to the cache. Tasks with
// operations still pending (transient push failures, or mutations enqueued
// during the pull) are resolved last-write-wins on lastModified.
func (o *SyncOrchestrator) reconcile(changes *remote.ChangeSet, outcome *SyncOutcome) error {
	pending, err := o.queue.Drain()
	if err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	pendingByEntity := make(map[string][]storage.QueuedOperation)
	for _, op := range pending {
		pendingByEntity[op.EntityID] = append(pendingByEntity[op.EntityID], op)
	}

	snap, _, err := o.cache.Read()
	if err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	local := make(map[string]models.Task)
	if snap != nil {
		for _, t := range snap.Tasks {
			local[t.ID] = t
		}
	}

	for _, rt := range changes.Tasks {
		ops, contested := pendingByEntity[rt.ID]
		if !contested {
			if err := o.cache.UpsertOne(o.withCachedLabels(rt)); err != nil {
				return fmt.Errorf("sync cycle: %w", err)
			}
			outcome.Applied++
			continue
		}

		lt, ok := local[rt.ID]
		if ok && lt.UpdatedAt.After(rt.UpdatedAt) {
			// Local edit is newer: keep it, leave its operations queued.
			outcome.Conflicts++
			o.logConflict(rt.ID, "local", lt.UpdatedAt, rt.UpdatedAt)
			continue
		}

		// Remote is newer: its fields win and the pending local edits are
		// discarded, with an explicit record of what was thrown away.
		for _, op := range ops {
			if err := o.queue.Remove(op.ID); err != nil {
				return fmt.Errorf("sync cycle: %w", err)
			}
		}
		if err := o.cache.UpsertOne(o.withCachedLabels(rt)); err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
		outcome.Conflicts++
		o.logConflict(rt.ID, "remote", timeOrZero(local, rt.ID), rt.UpdatedAt)
	}

	for _, id := range changes.Deleted {
		for _, op := range pendingByEntity[id] {
			if err := o.queue.Remove(op.ID); err != nil {
				return fmt.Errorf("sync cycle: %w", err)
			}
			o.logConflict(id, "remote_tombstone", timeOrZero(local, id), time.Time{})
		}
		if err := o.cache.RemoveOne(id); err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
		outcome.Deleted++
	}
	return nil
}

func timeOrZero(local map[string]models.Task, id string) time.Time {
	if t, ok := local[id]; ok {
		return t.UpdatedAt
	}
	return time.Time{}
}

func (o *SyncOrchestrator) logConflict(id, winner string, localMod, remoteMod time.Time) {
	_ = o.events.Write(observability.Event{
		Level: "WARN", Type: observability.EventConflictResolved,
		Message: fmt.Sprintf("conflict on %s resolved for %s", id, winner),
		Data: map[string]any{
			"entity_id": id, "winner": winner,
			"local_modified":  localMod.Format(time.RFC3339Nano),
			"remote_modified": remoteMod.Format(time.RFC3339Nano),
		},
	})
}

// refreshCached replaces the cache entry for a confirmed update with the
// server's version. A task a queued delete has already removed locally is
// left absent; resurrecting it would undo the pending optimistic delete.
func (o *SyncOrchestrator) refreshCached(task models.Task) error {
	snap, _, err := o.cache.Read()
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	for _, cached := range snap.Tasks {
		if cached.ID == task.ID {
			return o.cache.UpsertOne(o.withCachedLabels(task))
		}
	}
	return nil
}

// withCachedLabels carries labels already cached for a task over to its
// incoming version when the wire payload has none; task list responses do
// not embed labels, only the poller fetches them.
func (o *SyncOrchestrator) withCachedLabels(task models.Task) models.Task {
	if len(task.Labels) > 0 {
		return task
	}
	snap, _, err := o.cache.Read()
	if err != nil || snap == nil {
		return task
	}
	for _, cached := range snap.Tasks {
		if cached.ID == task.ID {
			task.Labels = cached.Labels
			break
		}
	}
	return task
}

// finish refreshes the freshness timestamp when warranted and records the
// sync watermark. A cycle that moved no data leaves a fresh snapshot's
// timestamp alone; it only re-stamps a stale or missing one, since the
// pull verified local state against the remote store either way.
func (o *SyncOrchestrator) finish(outcome *SyncOutcome, fullPull bool, pullStarted time.Time) error {
	fresh, err := o.cache.IsFresh()
	if err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	if !outcome.NoOp() || !fresh || fullPull {
		snap, _, err := o.cache.Read()
		if err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
		var tasks []models.Task
		if snap != nil {
			tasks = snap.Tasks
		}
		if err := o.cache.Write(tasks); err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
	}
	if err := o.cache.SetLastSyncedAt(pullStarted); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	return nil
}
