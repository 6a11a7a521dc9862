package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tasksync/internal/observability"
	"tasksync/internal/remote"
	"tasksync/internal/storage"
	"tasksync/pkg/models"
)

// StatusPoller watches tasks whose automatic labeling is still running on
// the server. It polls their status on a fixed interval, merges finished
// labels into the cache, and shuts itself down once no task is left in a
// non-terminal state. Tasks still under a temporary id are skipped until a
// sync cycle confirms them.
type StatusPoller struct {
	cache    storage.CacheStore
	api      remote.TaskAPI
	events   observability.EventLog
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatusPoller creates a poller over the cache and the remote API.
func NewStatusPoller(cache storage.CacheStore, api remote.TaskAPI, events observability.EventLog, interval time.Duration) *StatusPoller {
	return &StatusPoller{cache: cache, api: api, events: events, interval: interval}
}

// EnsureRunning starts the poll loop unless one is already running. The
// loop exits on its own when every tracked task reaches a terminal status,
// or when ctx is cancelled.
func (p *StatusPoller) EnsureRunning(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		defer p.clear()
		p.run(loopCtx)
	}()
}

// Stop cancels the poll loop and waits for it to exit.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poll loop is active.
func (p *StatusPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

func (p *StatusPoller) clear() {
	p.mu.Lock()
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
}

func (p *StatusPoller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining, err := p.tick(ctx)
			if err != nil {
				_ = p.events.Write(observability.Event{
					Level: "WARN", Type: observability.EventLabelsMerged,
					Message: "status poll failed",
					Data:    map[string]any{"error": err.Error()},
				})
				continue
			}
			if remaining == 0 {
				return
			}
		}
	}
}

// tick polls every pending task once and returns how many are still
// pending afterwards. The pending set is re-read from the cache on every
// tick: tasks confirmed or deleted since the last one join or leave the
// set without any bookkeeping here.
func (p *StatusPoller) tick(ctx context.Context) (int, error) {
	pending, err := p.pendingTasks()
	if err != nil {
		return 0, err
	}

	remaining := 0
	for _, task := range pending {
		result, err := p.api.GetTaskStatus(ctx, task.ID)
		if err != nil {
			// Transient: the task stays pending and the next tick retries.
			remaining++
			continue
		}
		if err := p.merge(task, result); err != nil {
			return 0, err
		}
		if !result.Status.Terminal() {
			remaining++
		}
	}
	return remaining, nil
}

// pendingTasks returns the cached tasks whose labeling is not yet in a
// terminal state, skipping ones the server does not know about yet.
func (p *StatusPoller) pendingTasks() ([]models.Task, error) {
	snap, _, err := p.cache.Read()
	if err != nil {
		return nil, fmt.Errorf("status poll: %w", err)
	}
	if snap == nil {
		return nil, nil
	}

	var pending []models.Task
	for _, task := range snap.Tasks {
		if task.HasTempID() || task.LabelingStatus.Terminal() {
			continue
		}
		pending = append(pending, task)
	}
	return pending, nil
}

// merge applies a polled status to the cached task. The task is re-read
// from the cache by id after the awaited status call: an optimistic edit
// or delete made during the HTTP round-trip must not be reverted by
// writing back the struct captured before it. Only the labeling fields of
// the current version change.
func (p *StatusPoller) merge(task models.Task, result *remote.StatusResult) error {
	current, ok, err := p.cachedTask(task.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if current.LabelingStatus == result.Status && !result.Status.Terminal() {
		return nil
	}

	current.LabelingStatus = result.Status
	if len(result.Labels) > 0 {
		current.Labels = result.Labels
	}
	if err := p.cache.UpsertOne(current); err != nil {
		return fmt.Errorf("status poll: %w", err)
	}

	if result.Status.Terminal() {
		data := map[string]any{
			"entity_id": current.ID,
			"status":    string(result.Status),
			"labels":    len(result.Labels),
		}
		if result.Error != "" {
			data["error"] = result.Error
		}
		_ = p.events.Write(observability.Event{
			Level: "INFO", Type: observability.EventLabelsMerged,
			Message: fmt.Sprintf("labeling for %s finished as %s", current.ID, result.Status),
			Data:    data,
		})
	}
	return nil
}

// cachedTask fetches the current cached version of a task by id.
func (p *StatusPoller) cachedTask(id string) (models.Task, bool, error) {
	snap, _, err := p.cache.Read()
	if err != nil {
		return models.Task{}, false, fmt.Errorf("status poll: %w", err)
	}
	if snap == nil {
		return models.Task{}, false, nil
	}
	for _, task := range snap.Tasks {
		if task.ID == id {
			return task, true, nil
		}
	}
	return models.Task{}, false, nil
}
