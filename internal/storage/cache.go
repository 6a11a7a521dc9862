package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tasksync/pkg/models"
)

// Storage keys. Task data lives under a single key so one atomic SetItem
// replaces the whole collection.
const (
	snapshotKey = "tasks_snapshot"
	lastSyncKey = "last_sync"
	queueKey    = "sync_queue"
)

// Snapshot is the complete task collection persisted at one point in time,
// together with the freshness timestamp set when it was written.
type Snapshot struct {
	Tasks     []models.Task `json:"tasks"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// CacheStore owns the on-disk task snapshot. All mutations go through its
// write API; other components never persist task state directly.
type CacheStore interface {
	// Read returns the last-written snapshot and its age. A missing or
	// corrupt snapshot is reported as (nil, 0, nil), never as an error.
	Read() (*Snapshot, time.Duration, error)
	// Write atomically replaces the stored collection and resets the
	// freshness timestamp to now.
	Write(tasks []models.Task) error
	// Invalidate clears the snapshot and timestamp. The operation queue is
	// untouched.
	Invalidate() error
	// IsFresh reports whether a snapshot exists and its age is within the
	// freshness window.
	IsFresh() (bool, error)
	// UpsertOne inserts or replaces a single task, preserving the snapshot's
	// freshness timestamp. Safe to call with no existing snapshot.
	UpsertOne(task models.Task) error
	// RemoveOne deletes a single task by id. Removing an unknown id is a no-op.
	RemoveOne(id string) error
	// RemapID replaces the task stored under oldID with task (carrying its
	// new id) in a single snapshot write, so no reader ever observes both
	// identifiers at once.
	RemapID(oldID string, task models.Task) error
	// LastSyncedAt returns the timestamp of the last successful pull, or the
	// zero time when the engine has never synced.
	LastSyncedAt() (time.Time, error)
	// SetLastSyncedAt records the timestamp of a successful pull.
	SetLastSyncedAt(t time.Time) error
}

// cacheStore implements CacheStore over a KeyValueStore.
type cacheStore struct {
	kv  KeyValueStore
	ttl time.Duration
	mu  sync.Mutex
	now func() time.Time
}

// NewCacheStore creates a CacheStore with the given freshness window.
func NewCacheStore(kv KeyValueStore, ttl time.Duration) CacheStore {
	return &cacheStore{kv: kv, ttl: ttl, now: time.Now}
}

func (c *cacheStore) Read() (*Snapshot, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

// read loads and decodes the snapshot. Corrupt storage is treated as
// absent: the snapshot will be rebuilt from the remote store on the next
// sync, so decoding failures must not propagate as crashes.
func (c *cacheStore) read() (*Snapshot, time.Duration, error) {
	raw, ok, err := c.kv.GetItem(snapshotKey)
	if err != nil {
		return nil, 0, fmt.Errorf("reading cache: %w", err)
	}
	if !ok {
		return nil, 0, nil
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, 0, nil
	}
	if snap.FetchedAt.IsZero() {
		return nil, 0, nil
	}
	return &snap, c.now().Sub(snap.FetchedAt), nil
}

func (c *cacheStore) Write(tasks []models.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(&Snapshot{Tasks: tasks, FetchedAt: c.now()})
}

func (c *cacheStore) write(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("writing cache: marshalling snapshot: %w", err)
	}
	if err := c.kv.SetItem(snapshotKey, string(data)); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

func (c *cacheStore) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.RemoveItem(snapshotKey); err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	return nil
}

func (c *cacheStore) IsFresh() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, age, err := c.read()
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	return age <= c.ttl, nil
}

func (c *cacheStore) UpsertOne(task models.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, _, err := c.read()
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{FetchedAt: c.now()}
	}

	replaced := false
	for i := range snap.Tasks {
		if snap.Tasks[i].ID == task.ID {
			snap.Tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Tasks = append(snap.Tasks, task)
	}
	return c.write(snap)
}

func (c *cacheStore) RemoveOne(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, _, err := c.read()
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	kept := snap.Tasks[:0]
	for _, t := range snap.Tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	snap.Tasks = kept
	return c.write(snap)
}

func (c *cacheStore) RemapID(oldID string, task models.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, _, err := c.read()
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{FetchedAt: c.now()}
	}

	replaced := false
	for i := range snap.Tasks {
		if snap.Tasks[i].ID == oldID {
			snap.Tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Tasks = append(snap.Tasks, task)
	}
	return c.write(snap)
}

func (c *cacheStore) LastSyncedAt() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok, err := c.kv.GetItem(lastSyncKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last sync time: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Corrupt timestamp: treat as never synced so the next pull is full.
		return time.Time{}, nil
	}
	return t, nil
}

func (c *cacheStore) SetLastSyncedAt(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.SetItem(lastSyncKey, t.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("recording last sync time: %w", err)
	}
	return nil
}
