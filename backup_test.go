package shelfsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memObjectStore is an in-memory ObjectStore for snapshot tests.
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (m *memObjectStore) PutObject(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (m *memObjectStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	source := newTestStore(t)
	objects := newMemObjectStore()

	seed := []CatalogObject{
		{ID: "ITEM-1", Type: TypeItem, Version: 1, UpdatedAt: time.Now(), ItemData: &ItemData{Name: "Beans"}},
		{ID: "CAT-1", Type: TypeCategory, Version: 2, UpdatedAt: time.Now(), CategoryData: &CategoryData{Name: "Coffee"}},
	}
	if err := source.UpsertCatalogObjects(ctx, seed); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	if err := source.UpsertTeamData(ctx, &TeamData{ItemID: "ITEM-1", Vendor: strPtr("Acme"), UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("failed to seed team data: %v", err)
	}
	if err := source.SaveLastSyncCursor(ctx, "c3"); err != nil {
		t.Fatalf("failed to seed cursor: %v", err)
	}

	manager := NewSnapshotManager(DefaultSnapshotConfig(), source, objects, nil)
	key, err := manager.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if key == "" {
		t.Fatal("expected snapshot key")
	}

	// Restore into a fresh store.
	target := newTestStore(t)
	restorer := NewSnapshotManager(DefaultSnapshotConfig(), target, objects, nil)
	if err := restorer.Restore(ctx, key); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	count, _ := target.CountCatalogObjects(ctx)
	if count != 2 {
		t.Errorf("expected 2 restored objects, got %d", count)
	}
	obj, _ := target.GetCatalogObject(ctx, "ITEM-1")
	if obj == nil || obj.ItemData == nil || obj.ItemData.Name != "Beans" {
		t.Errorf("catalog object did not survive restore: %+v", obj)
	}
	team, _ := target.GetTeamData(ctx, "ITEM-1")
	if team == nil || *team.Vendor != "Acme" {
		t.Errorf("team data did not survive restore: %+v", team)
	}
	cursor, _ := target.LastSyncCursor(ctx)
	if cursor != "c3" {
		t.Errorf("expected cursor c3 restored, got %q", cursor)
	}
}

func TestSnapshotLatest(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjectStore()
	objects.objects["snapshots/20260101T000000Z.snap"] = []byte("a")
	objects.objects["snapshots/20260301T000000Z.snap"] = []byte("b")
	objects.objects["snapshots/20260201T000000Z.snap"] = []byte("c")

	manager := NewSnapshotManager(DefaultSnapshotConfig(), newTestStore(t), objects, nil)
	latest, err := manager.Latest(ctx)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest != "snapshots/20260301T000000Z.snap" {
		t.Errorf("expected most recent key, got %s", latest)
	}
}

func TestSnapshotLatestEmpty(t *testing.T) {
	manager := NewSnapshotManager(DefaultSnapshotConfig(), newTestStore(t), newMemObjectStore(), nil)
	latest, err := manager.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest != "" {
		t.Errorf("expected empty key, got %q", latest)
	}
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjectStore()
	objects.objects["snapshots/bad.snap"] = []byte("not snappy data")

	manager := NewSnapshotManager(DefaultSnapshotConfig(), newTestStore(t), objects, nil)
	if err := manager.Restore(ctx, "snapshots/bad.snap"); err == nil {
		t.Error("expected error for corrupt snapshot")
	}
}
