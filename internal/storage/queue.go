package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OpKind identifies the remote effect of a queued operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// QueuedOperation is a durable record of a local mutation not yet confirmed
// by the remote store.
type QueuedOperation struct {
	ID         string          `json:"id"`
	Kind       OpKind          `json:"kind"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Retries    int             `json:"retries"`
}

// OperationQueue is the durable FIFO list of pending mutations. Operations
// for the same entity must replay in enqueue order, so the queue never
// reorders entries. Entries only leave the queue through Remove: callers
// decide whether a removal is a confirmed success or a surfaced permanent
// failure.
type OperationQueue interface {
	// Enqueue appends an operation. Existing entries are never mutated.
	Enqueue(kind OpKind, entityID string, payload any) (*QueuedOperation, error)
	// Drain returns all pending operations in enqueue order.
	Drain() ([]QueuedOperation, error)
	// Remove deletes exactly one entry by operation id.
	Remove(opID string) error
	// Bump increments the retry counter and returns the new count. The
	// caller compares it against the retry ceiling.
	Bump(opID string) (int, error)
	// RemapEntity repoints every entry for oldID to newID, used when the
	// remote store assigns a permanent identifier.
	RemapEntity(oldID, newID string) error
	// Len returns the number of pending operations.
	Len() (int, error)
}

// kvOperationQueue implements OperationQueue as a single JSON document in
// the key-value store, rewritten whole on every mutation.
type kvOperationQueue struct {
	kv KeyValueStore
	mu sync.Mutex
}

// NewOperationQueue creates an OperationQueue persisted in kv.
func NewOperationQueue(kv KeyValueStore) OperationQueue {
	return &kvOperationQueue{kv: kv}
}

func (q *kvOperationQueue) Enqueue(kind OpKind, entityID string, payload any) (*QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("enqueuing %s for %s: marshalling payload: %w", kind, entityID, err)
		}
		raw = data
	}

	ops, err := q.load()
	if err != nil {
		return nil, err
	}

	op := QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityID:   entityID,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	ops = append(ops, op)

	if err := q.save(ops); err != nil {
		return nil, err
	}
	return &op, nil
}

func (q *kvOperationQueue) Drain() ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *kvOperationQueue) Remove(opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load()
	if err != nil {
		return err
	}

	kept := ops[:0]
	found := false
	for _, op := range ops {
		if op.ID == opID && !found {
			found = true
			continue
		}
		kept = append(kept, op)
	}
	if !found {
		return fmt.Errorf("removing operation %s: not found", opID)
	}
	return q.save(kept)
}

func (q *kvOperationQueue) Bump(opID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load()
	if err != nil {
		return 0, err
	}

	for i := range ops {
		if ops[i].ID == opID {
			ops[i].Retries++
			if err := q.save(ops); err != nil {
				return 0, err
			}
			return ops[i].Retries, nil
		}
	}
	return 0, fmt.Errorf("bumping operation %s: not found", opID)
}

func (q *kvOperationQueue) RemapEntity(oldID, newID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load()
	if err != nil {
		return err
	}

	changed := false
	for i := range ops {
		if ops[i].EntityID == oldID {
			ops[i].EntityID = newID
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return q.save(ops)
}

func (q *kvOperationQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (q *kvOperationQueue) load() ([]QueuedOperation, error) {
	raw, ok, err := q.kv.GetItem(queueKey)
	if err != nil {
		return nil, fmt.Errorf("loading operation queue: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var ops []QueuedOperation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("loading operation queue: parsing: %w", err)
	}
	return ops, nil
}

func (q *kvOperationQueue) save(ops []QueuedOperation) error {
	if len(ops) == 0 {
		if err := q.kv.RemoveItem(queueKey); err != nil {
			return fmt.Errorf("saving operation queue: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("saving operation queue: marshalling: %w", err)
	}
	if err := q.kv.SetItem(queueKey, string(data)); err != nil {
		return fmt.Errorf("saving operation queue: %w", err)
	}
	return nil
}
