package storage

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func genOpKind(t *rapid.T) OpKind {
	kinds := []OpKind{OpCreate, OpUpdate, OpDelete}
	return kinds[rapid.IntRange(0, len(kinds)-1).Draw(t, "kindIdx")]
}

func genEntityID(t *rapid.T) string {
	// A small id space so operations pile up on the same entity.
	return fmt.Sprintf("%d", rapid.IntRange(1, 5).Draw(t, "entity"))
}

// Property: the queue never reorders entries, for any interleaving of
// enqueue, remove, and bump. Per-entity order equals global enqueue order
// restricted to that entity.
func TestQueuePreservesEnqueueOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := NewOperationQueue(NewFileKVStore(t.TempDir()))

		var expected []string // op ids in enqueue order, minus removals

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "action") {
			case 0: // enqueue
				op, err := q.Enqueue(genOpKind(rt), genEntityID(rt), nil)
				if err != nil {
					rt.Fatalf("enqueue: %v", err)
				}
				expected = append(expected, op.ID)
			case 1: // remove a random live entry
				if len(expected) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(expected)-1).Draw(rt, "removeIdx")
				if err := q.Remove(expected[idx]); err != nil {
					rt.Fatalf("remove: %v", err)
				}
				expected = append(expected[:idx], expected[idx+1:]...)
			case 2: // bump a random live entry
				if len(expected) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(expected)-1).Draw(rt, "bumpIdx")
				if _, err := q.Bump(expected[idx]); err != nil {
					rt.Fatalf("bump: %v", err)
				}
			}
		}

		ops, err := q.Drain()
		if err != nil {
			rt.Fatalf("drain: %v", err)
		}
		if len(ops) != len(expected) {
			rt.Fatalf("expected %d entries, got %d", len(expected), len(ops))
		}
		for i, op := range ops {
			if op.ID != expected[i] {
				rt.Fatalf("position %d: expected %s, got %s", i, expected[i], op.ID)
			}
		}
	})
}

// Property: bump touches only the retry counter of the targeted entry.
func TestBumpLeavesOtherEntriesUntouched(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := NewOperationQueue(NewFileKVStore(t.TempDir()))

		n := rapid.IntRange(2, 8).Draw(rt, "n")
		ids := make([]string, n)
		for i := range ids {
			op, err := q.Enqueue(genOpKind(rt), genEntityID(rt), nil)
			if err != nil {
				rt.Fatalf("enqueue: %v", err)
			}
			ids[i] = op.ID
		}

		target := rapid.IntRange(0, n-1).Draw(rt, "target")
		bumps := rapid.IntRange(1, 6).Draw(rt, "bumps")
		for i := 0; i < bumps; i++ {
			if _, err := q.Bump(ids[target]); err != nil {
				rt.Fatalf("bump: %v", err)
			}
		}

		ops, err := q.Drain()
		if err != nil {
			rt.Fatalf("drain: %v", err)
		}
		for i, op := range ops {
			want := 0
			if i == target {
				want = bumps
			}
			if op.Retries != want {
				rt.Fatalf("entry %d: expected %d retries, got %d", i, want, op.Retries)
			}
		}
	})
}
