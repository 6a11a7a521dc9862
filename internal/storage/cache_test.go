package storage

import (
	"testing"
	"time"

	"tasksync/pkg/models"
)

func newTestCacheStore(t *testing.T) (*cacheStore, KeyValueStore) {
	t.Helper()
	kv := NewFileKVStore(t.TempDir())
	cs := NewCacheStore(kv, 30*time.Minute).(*cacheStore)
	return cs, kv
}

func sampleTask(id, title string) models.Task {
	now := time.Now().UTC()
	return models.Task{
		ID:             id,
		Title:          title,
		Priority:       models.PriorityMedium,
		CreatedAt:      now,
		UpdatedAt:      now,
		LabelingStatus: models.LabelingPending,
	}
}

func TestReadAbsent(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	snap, _, err := cs.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected absent snapshot, got %+v", snap)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	tasks := []models.Task{sampleTask("1", "buy milk"), sampleTask("2", "file taxes")}
	if err := cs.Write(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, age, err := cs.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(snap.Tasks))
	}
	if snap.Tasks[0].Title != "buy milk" {
		t.Fatalf("expected title %q, got %q", "buy milk", snap.Tasks[0].Title)
	}
	if age < 0 || age > time.Minute {
		t.Fatalf("unexpected age %v", age)
	}
}

func TestReadCorruptTreatedAsAbsent(t *testing.T) {
	cs, kv := newTestCacheStore(t)

	if err := kv.SetItem(snapshotKey, "{not json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, _, err := cs.Read()
	if err != nil {
		t.Fatalf("corrupt snapshot must not error: %v", err)
	}
	if snap != nil {
		t.Fatal("expected corrupt snapshot to read as absent")
	}
}

func TestIsFresh(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	if err := cs.Write([]models.Task{sampleTask("1", "a")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh, err := cs.IsFresh()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Fatal("snapshot written just now should be fresh")
	}

	// Age the snapshot past the 30 minute window.
	cs.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	fresh, err = cs.IsFresh()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Fatal("31 minute old snapshot must be stale")
	}
}

func TestIsFreshAbsent(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	fresh, err := cs.IsFresh()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Fatal("absent snapshot must not be fresh")
	}
}

func TestInvalidateLeavesQueue(t *testing.T) {
	cs, kv := newTestCacheStore(t)
	q := NewOperationQueue(kv)

	if err := cs.Write([]models.Task{sampleTask("1", "a")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.Enqueue(OpDelete, "1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cs.Invalidate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, _, err := cs.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatal("expected snapshot cleared")
	}

	n, err := q.Len()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("invalidate must not touch the queue, got %d entries", n)
	}
}

func TestUpsertOneWithoutSnapshot(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	if err := cs.UpsertOne(sampleTask("1", "a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, _, err := cs.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil || len(snap.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %+v", snap)
	}
}

func TestUpsertOneReplaces(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	if err := cs.Write([]models.Task{sampleTask("1", "a"), sampleTask("2", "b")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := sampleTask("1", "a, renamed")
	if err := cs.UpsertOne(updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, _, _ := cs.Read()
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(snap.Tasks))
	}
	if snap.Tasks[0].Title != "a, renamed" {
		t.Fatalf("expected replaced title, got %q", snap.Tasks[0].Title)
	}
}

func TestUpsertOnePreservesFreshness(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	wrote := time.Now().Add(-10 * time.Minute)
	cs.now = func() time.Time { return wrote }
	if err := cs.Write([]models.Task{sampleTask("1", "a")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cs.now = time.Now
	if err := cs.UpsertOne(sampleTask("2", "b")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, age, _ := cs.Read()
	if !snap.FetchedAt.Equal(wrote) {
		t.Fatalf("per-entity write must not refresh the snapshot timestamp: got %v", snap.FetchedAt)
	}
	if age < 9*time.Minute {
		t.Fatalf("expected age around 10m, got %v", age)
	}
}

func TestRemoveOne(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	if err := cs.Write([]models.Task{sampleTask("1", "a"), sampleTask("2", "b")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cs.RemoveOne("1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, _, _ := cs.Read()
	if len(snap.Tasks) != 1 || snap.Tasks[0].ID != "2" {
		t.Fatalf("expected only task 2, got %+v", snap.Tasks)
	}

	// Unknown ids and missing snapshots are no-ops.
	if err := cs.RemoveOne("99"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cs.Invalidate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cs.RemoveOne("2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemapID(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	temp := sampleTask("local-abc", "new task")
	if err := cs.Write([]models.Task{sampleTask("1", "a"), temp}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	confirmed := temp
	confirmed.ID = "42"
	if err := cs.RemapID("local-abc", confirmed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, _, _ := cs.Read()
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(snap.Tasks))
	}
	for _, task := range snap.Tasks {
		if task.ID == "local-abc" {
			t.Fatal("temporary id must not survive the remap")
		}
	}
	if snap.Tasks[1].ID != "42" {
		t.Fatalf("expected server id in place, got %q", snap.Tasks[1].ID)
	}
}

func TestLastSyncedAtRoundTrip(t *testing.T) {
	cs, _ := newTestCacheStore(t)

	got, err := cs.LastSyncedAt()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero time before first sync, got %v", got)
	}

	want := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if err := cs.SetLastSyncedAt(want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err = cs.LastSyncedAt()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
