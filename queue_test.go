package shelfsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedApplier fails a configurable number of times per operation id.
type scriptedApplier struct {
	mu       sync.Mutex
	failures map[string]int // remaining failures per op id
	err      error
	applied  []string
	calls    atomic.Int32
}

func newScriptedApplier() *scriptedApplier {
	return &scriptedApplier{failures: make(map[string]int), err: errors.New("remote unavailable")}
}

func (a *scriptedApplier) ApplyOperation(ctx context.Context, op *OfflineOperation) error {
	a.calls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := a.failures[op.ID]; n > 0 {
		a.failures[op.ID] = n - 1
		return a.err
	}
	a.applied = append(a.applied, op.ID)
	return nil
}

func (a *scriptedApplier) appliedOps() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.applied...)
}

func newTestQueue(t *testing.T, applier OperationApplier, monitor *ConnectivityMonitor) (*OfflineQueue, *LocalStore) {
	t.Helper()
	store := newTestStore(t)
	queue := NewOfflineQueue(DefaultQueueConfig(), store, applier, monitor, nil, nil)
	return queue, store
}

func offlineMonitor() *ConnectivityMonitor {
	m := NewConnectivityMonitor(ConnectivityConfig{}, nil, nil)
	m.online.Store(false)
	return m
}

func TestQueueOperationDurable(t *testing.T) {
	applier := newScriptedApplier()
	queue, store := newTestQueue(t, applier, offlineMonitor())
	ctx := context.Background()

	op, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, "ITEM-1", []byte(`{"item_id":"ITEM-1"}`))
	if err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if op.MaxRetries != 3 {
		t.Errorf("expected default retry budget 3, got %d", op.MaxRetries)
	}

	ops, err := store.ListOperations(ctx)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != op.ID {
		t.Fatalf("expected queued operation persisted, got %+v", ops)
	}
	// Offline: nothing replays.
	if applier.calls.Load() != 0 {
		t.Errorf("expected no replay while offline, got %d calls", applier.calls.Load())
	}
}

func TestQueueImmediateDrainWhenOnline(t *testing.T) {
	applier := newScriptedApplier()
	monitor := NewConnectivityMonitor(ConnectivityConfig{}, nil, nil)
	queue, store := newTestQueue(t, applier, monitor)
	ctx := context.Background()

	if _, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, "ITEM-1", []byte(`{}`)); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	ops, _ := store.ListOperations(ctx)
	if len(ops) != 0 {
		t.Errorf("expected queue drained immediately while online, %d left", len(ops))
	}
	if got := applier.appliedOps(); len(got) != 1 {
		t.Errorf("expected 1 applied operation, got %v", got)
	}
}

func TestProcessSyncQueuePreservesOrder(t *testing.T) {
	applier := newScriptedApplier()
	monitor := offlineMonitor()
	queue, _ := newTestQueue(t, applier, monitor)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		op, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, fmt.Sprintf("ITEM-%d", i), []byte(`{}`))
		if err != nil {
			t.Fatalf("queue %d failed: %v", i, err)
		}
		ids = append(ids, op.ID)
	}

	monitor.online.Store(true)
	if err := queue.ProcessSyncQueue(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	got := applier.appliedOps()
	if len(got) != 4 {
		t.Fatalf("expected 4 applied, got %d", len(got))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("expected %s at position %d, got %s", ids[i], i, got[i])
		}
	}
}

func TestProcessSyncQueueOfflineNoOp(t *testing.T) {
	applier := newScriptedApplier()
	queue, store := newTestQueue(t, applier, offlineMonitor())
	ctx := context.Background()

	if _, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, "ITEM-1", []byte(`{}`)); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if err := queue.ProcessSyncQueue(ctx); err != nil {
		t.Fatalf("offline drain returned error: %v", err)
	}

	ops, _ := store.ListOperations(ctx)
	if len(ops) != 1 {
		t.Errorf("offline drain must leave the queue intact, %d left", len(ops))
	}
	if applier.calls.Load() != 0 {
		t.Errorf("offline drain must not call the applier, got %d calls", applier.calls.Load())
	}
}

func TestOperationRetriesThenDropsToFailureLog(t *testing.T) {
	applier := newScriptedApplier()
	monitor := offlineMonitor()
	queue, store := newTestQueue(t, applier, monitor)
	ctx := context.Background()

	op, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, "ITEM-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	// Fail every attempt.
	applier.failures[op.ID] = 100

	monitor.online.Store(true)
	// Retry budget 3 means the 4th failed attempt removes the operation.
	for i := 0; i < 4; i++ {
		if err := queue.ProcessSyncQueue(ctx); err != nil {
			t.Fatalf("drain %d failed: %v", i, err)
		}
	}

	ops, _ := store.ListOperations(ctx)
	if len(ops) != 0 {
		t.Fatalf("expected operation dropped after exhausting retries, %d left", len(ops))
	}

	failed, _ := store.ListFailedOperations(ctx)
	if len(failed) != 1 {
		t.Fatalf("expected exactly one failure log entry, got %d", len(failed))
	}
	if failed[0].OperationID != op.ID {
		t.Errorf("expected failure entry for %s, got %s", op.ID, failed[0].OperationID)
	}
	if int(applier.calls.Load()) != 4 {
		t.Errorf("expected exactly 4 attempts (budget 3 + 1), got %d", applier.calls.Load())
	}
}

func TestOperationRecoversWithinBudget(t *testing.T) {
	applier := newScriptedApplier()
	monitor := offlineMonitor()
	queue, store := newTestQueue(t, applier, monitor)
	ctx := context.Background()

	op, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, "ITEM-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	applier.failures[op.ID] = 2 // fails twice, then succeeds

	monitor.online.Store(true)
	for i := 0; i < 3; i++ {
		if err := queue.ProcessSyncQueue(ctx); err != nil {
			t.Fatalf("drain %d failed: %v", i, err)
		}
	}

	ops, _ := store.ListOperations(ctx)
	if len(ops) != 0 {
		t.Errorf("expected operation applied within budget, %d left", len(ops))
	}
	failed, _ := store.ListFailedOperations(ctx)
	if len(failed) != 0 {
		t.Errorf("recovered operation must not hit the failure log, got %d entries", len(failed))
	}
}

func TestUnsupportedOperationSkipsRetryCycle(t *testing.T) {
	applier := OperationApplierFunc(func(ctx context.Context, op *OfflineOperation) error {
		return fmt.Errorf("%w: entity type %q", ErrOperationNotSupported, op.EntityType)
	})
	monitor := offlineMonitor()
	queue, store := newTestQueue(t, applier, monitor)
	ctx := context.Background()

	if _, err := queue.QueueOperation(ctx, OpUpdate, EntityUserPreferences, "prefs", []byte(`{}`)); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	monitor.online.Store(true)
	if err := queue.ProcessSyncQueue(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	ops, _ := store.ListOperations(ctx)
	if len(ops) != 0 {
		t.Errorf("unsupported operation must leave the queue immediately, %d left", len(ops))
	}
	failed, _ := store.ListFailedOperations(ctx)
	if len(failed) != 1 {
		t.Errorf("expected one failure log entry, got %d", len(failed))
	}
}

func TestDrainSingleFlight(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	applier := OperationApplierFunc(func(ctx context.Context, op *OfflineOperation) error {
		if calls.Add(1) == 1 {
			close(started)
			<-block
		}
		return nil
	})
	monitor := NewConnectivityMonitor(ConnectivityConfig{}, nil, nil)
	monitor.online.Store(false)
	queue, _ := newTestQueue(t, applier, monitor)
	ctx := context.Background()

	if _, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, "ITEM-1", []byte(`{}`)); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	monitor.online.Store(true)

	done := make(chan error, 1)
	go func() { done <- queue.ProcessSyncQueue(ctx) }()
	<-started

	// A second drain while the first is in flight is a no-op.
	if err := queue.ProcessSyncQueue(ctx); err != nil {
		t.Fatalf("overlapping drain returned error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("overlapping drain must not apply operations, got %d calls", calls.Load())
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first drain failed: %v", err)
	}
}

func TestReconnectTriggersDrain(t *testing.T) {
	applier := newScriptedApplier()
	monitor := offlineMonitor()
	queue, store := newTestQueue(t, applier, monitor)
	ctx := context.Background()

	if _, err := queue.QueueOperation(ctx, OpUpdate, EntityTeamData, "ITEM-1", []byte(`{}`)); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	queue.Start()
	defer queue.Stop()

	monitor.SetOnline(true)

	deadline := time.After(2 * time.Second)
	for {
		ops, _ := store.ListOperations(ctx)
		if len(ops) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue did not drain after reconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := applier.appliedOps(); len(got) != 1 {
		t.Errorf("expected 1 applied operation after reconnect, got %v", got)
	}
}
