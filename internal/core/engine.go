package core

import (
	"context"
	"fmt"
	"time"

	"tasksync/internal/observability"
	"tasksync/internal/remote"
	"tasksync/internal/storage"
	"tasksync/pkg/models"
)

// TasksResult is the outcome of a cached read: the task collection plus a
// flag telling the consumer the data is being refreshed in the background.
type TasksResult struct {
	Tasks []models.Task
	Stale bool
}

// Engine is the facade the CLI and MCP server talk to. It ties the
// optimistic controller, the orchestrator, and the poller together and
// owns the policy of when a sync cycle runs.
type Engine struct {
	cache        storage.CacheStore
	queue        storage.OperationQueue
	optimistic   *OptimisticController
	orchestrator *SyncOrchestrator
	poller       *StatusPoller
	monitor      remote.ConnectivityMonitor
	events       observability.EventLog

	// base is the lifetime context for background work kicked off by
	// foreground calls; set by Start.
	base context.Context
}

// NewEngine wires an Engine. Connectivity transitions to online trigger a
// sync cycle so queued offline work drains as soon as the network returns.
func NewEngine(
	cache storage.CacheStore,
	queue storage.OperationQueue,
	optimistic *OptimisticController,
	orchestrator *SyncOrchestrator,
	poller *StatusPoller,
	monitor remote.ConnectivityMonitor,
	events observability.EventLog,
) *Engine {
	e := &Engine{
		cache:        cache,
		queue:        queue,
		optimistic:   optimistic,
		orchestrator: orchestrator,
		poller:       poller,
		monitor:      monitor,
		events:       events,
		base:         context.Background(),
	}
	if monitor != nil {
		monitor.OnChange(func(online bool) {
			if online {
				go e.syncAsync(TriggerConnectivity)
			}
		})
	}
	return e
}

// Start begins background work: the connectivity probe loop and, when
// unlabeled tasks are already cached from a previous run, the status
// poller. ctx bounds everything the engine spawns. Start returns
// immediately; the probe loop blocks until ctx is cancelled and so runs on
// its own goroutine.
func (e *Engine) Start(ctx context.Context, probeInterval time.Duration) {
	e.base = ctx
	if e.monitor != nil {
		go e.monitor.Start(ctx, probeInterval)
	}
	if pending, err := e.hasUnlabeled(); err == nil && pending {
		e.poller.EnsureRunning(ctx)
	}
}

// GetTasks returns the cached collection. No snapshot at all blocks on one
// full sync cycle; a stale snapshot is returned immediately, flagged, with
// a refresh running in the background. A fresh snapshot costs no network
// traffic.
func (e *Engine) GetTasks(ctx context.Context) (*TasksResult, error) {
	snap, _, err := e.cache.Read()
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	if snap == nil {
		if _, err := e.orchestrator.RunCycle(ctx, TriggerForeground); err != nil {
			return nil, fmt.Errorf("listing tasks: %w", err)
		}
		snap, _, err = e.cache.Read()
		if err != nil {
			return nil, fmt.Errorf("listing tasks: %w", err)
		}
		if snap == nil {
			return &TasksResult{}, nil
		}
		return &TasksResult{Tasks: snap.Tasks}, nil
	}

	fresh, err := e.cache.IsFresh()
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	if !fresh {
		go e.syncAsync(TriggerStale)
		return &TasksResult{Tasks: snap.Tasks, Stale: true}, nil
	}
	return &TasksResult{Tasks: snap.Tasks}, nil
}

// CreateTask records the task locally under a temporary id, kicks off a
// sync cycle to push it, and starts the poller so its labels arrive once
// the server confirms the create.
func (e *Engine) CreateTask(input CreateTaskInput) (*models.Task, error) {
	task, err := e.optimistic.Create(input)
	if err != nil {
		return nil, err
	}
	go e.syncAsync(TriggerForeground)
	e.poller.EnsureRunning(e.base)
	return task, nil
}

// UpdateTask applies the patch locally and kicks off a sync cycle.
func (e *Engine) UpdateTask(id string, patch models.TaskPatch) (*models.Task, error) {
	task, err := e.optimistic.Update(id, patch)
	if err != nil {
		return nil, err
	}
	go e.syncAsync(TriggerForeground)
	return task, nil
}

// DeleteTask removes the task locally and kicks off a sync cycle.
func (e *Engine) DeleteTask(id string) error {
	if err := e.optimistic.Delete(id); err != nil {
		return err
	}
	go e.syncAsync(TriggerForeground)
	return nil
}

// Refresh runs a blocking user-initiated sync cycle. The cache is
// invalidated first, so the pull rebuilds the collection from scratch.
func (e *Engine) Refresh(ctx context.Context) (*SyncOutcome, error) {
	outcome, err := e.orchestrator.RunCycle(ctx, TriggerManual)
	if err != nil {
		return outcome, err
	}
	if pending, perr := e.hasUnlabeled(); perr == nil && pending {
		e.poller.EnsureRunning(e.base)
	}
	return outcome, nil
}

// Sync runs one blocking cycle with the given trigger.
func (e *Engine) Sync(ctx context.Context, trigger SyncTrigger) (*SyncOutcome, error) {
	return e.orchestrator.RunCycle(ctx, trigger)
}

// QueueDepth reports how many mutations are waiting to be pushed.
func (e *Engine) QueueDepth() (int, error) {
	return e.queue.Len()
}

// SyncState reports where the orchestrator is in its cycle.
func (e *Engine) SyncState() SyncState {
	return e.orchestrator.State()
}

// Online reports the connectivity monitor's last observation.
func (e *Engine) Online() bool {
	if e.monitor == nil {
		return true
	}
	return e.monitor.IsOnline()
}

func (e *Engine) syncAsync(trigger SyncTrigger) {
	if _, err := e.orchestrator.RunCycle(e.base, trigger); err != nil {
		_ = e.events.Write(observability.Event{
			Level: "WARN", Type: observability.EventSyncCompleted,
			Message: "background sync failed",
			Data:    map[string]any{"trigger": string(trigger), "error": err.Error()},
		})
	}
}

func (e *Engine) hasUnlabeled() (bool, error) {
	snap, _, err := e.cache.Read()
	if err != nil || snap == nil {
		return false, err
	}
	for _, task := range snap.Tasks {
		if !task.LabelingStatus.Terminal() {
			return true, nil
		}
	}
	return false, nil
}
