package shelfsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationType is the kind of mutation an offline operation carries.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// EntityType is what an offline operation mutates.
type EntityType string

const (
	EntityTeamData        EntityType = "team_data"
	EntityCatalogItem     EntityType = "catalog_item"
	EntityUserPreferences EntityType = "user_preferences"
)

// OfflineOperation is one durably queued mutation awaiting replay.
type OfflineOperation struct {
	ID          string        `json:"id"`
	Type        OperationType `json:"type"`
	EntityType  EntityType    `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	Payload     []byte        `json:"payload,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	RetryCount  int           `json:"retry_count"`
	MaxRetries  int           `json:"max_retries"`
	LastAttempt *time.Time    `json:"last_attempt,omitempty"`
}

// FailedOperation is the record kept after an operation exhausts its
// retries and is dropped from the queue.
type FailedOperation struct {
	OperationID string        `json:"operation_id"`
	Type        OperationType `json:"type"`
	EntityType  EntityType    `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	Error       string        `json:"error"`
	FailedAt    time.Time     `json:"failed_at"`
}

// OperationApplier replays one queued operation against the remote side.
// Returning ErrOperationNotSupported sends the operation straight to the
// failure log without consuming retries.
type OperationApplier interface {
	ApplyOperation(ctx context.Context, op *OfflineOperation) error
}

// OperationApplierFunc adapts a function to OperationApplier.
type OperationApplierFunc func(ctx context.Context, op *OfflineOperation) error

// ApplyOperation implements OperationApplier.
func (f OperationApplierFunc) ApplyOperation(ctx context.Context, op *OfflineOperation) error {
	return f(ctx, op)
}

// OfflineQueue persists mutations made while offline and replays them in
// original order when connectivity returns. Draining is single-flight and
// edge-triggered by reconnects, with a periodic backstop.
type OfflineQueue struct {
	config  QueueConfig
	store   *LocalStore
	applier OperationApplier
	monitor *ConnectivityMonitor
	hub     *StatusHub
	logger  *slog.Logger

	mu       sync.Mutex
	draining bool
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewOfflineQueue creates a queue over the given store.
func NewOfflineQueue(config QueueConfig, store *LocalStore, applier OperationApplier, monitor *ConnectivityMonitor, hub *StatusHub, logger *slog.Logger) *OfflineQueue {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OfflineQueue{
		config:  config,
		store:   store,
		applier: applier,
		monitor: monitor,
		hub:     hub,
		logger:  logger,
	}
}

// QueueOperation durably appends an operation. If the device is online the
// queue drains immediately, so online callers see their mutation replayed
// right away.
func (q *OfflineQueue) QueueOperation(ctx context.Context, opType OperationType, entityType EntityType, entityID string, payload []byte) (*OfflineOperation, error) {
	op := &OfflineOperation{
		ID:         uuid.NewString(),
		Type:       opType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Timestamp:  time.Now(),
		MaxRetries: q.config.MaxRetries,
	}

	if err := q.store.AppendOperation(ctx, op); err != nil {
		return nil, err
	}
	q.logger.Debug("operation queued",
		"op_id", op.ID,
		"type", string(opType),
		"entity_type", string(entityType),
		"entity_id", entityID)

	if q.monitor != nil && q.monitor.IsOnline() {
		if err := q.ProcessSyncQueue(ctx); err != nil {
			q.logger.Warn("immediate drain failed", "error", err)
		}
	}
	return op, nil
}

// Pending returns the queued operations in replay order.
func (q *OfflineQueue) Pending(ctx context.Context) ([]*OfflineOperation, error) {
	return q.store.ListOperations(ctx)
}

// Failed returns the bounded permanent-failure log.
func (q *OfflineQueue) Failed(ctx context.Context) ([]*FailedOperation, error) {
	return q.store.ListFailedOperations(ctx)
}

// ProcessSyncQueue drains the queue once. It is a no-op while offline or
// while another drain is in flight. Operations replay in enqueue order;
// a failed operation stays queued with its retry count bumped until the
// budget runs out, at which point it moves to the failure log.
func (q *OfflineQueue) ProcessSyncQueue(ctx context.Context) error {
	if q.monitor != nil && !q.monitor.IsOnline() {
		return nil
	}

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	ops, err := q.store.ListOperations(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	q.logger.Info("draining offline queue", "pending", len(ops))

	for _, op := range ops {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if q.monitor != nil && !q.monitor.IsOnline() {
			return nil
		}

		err := q.applier.ApplyOperation(ctx, op)
		if err == nil {
			if err := q.store.RemoveOperation(ctx, op.ID); err != nil {
				return err
			}
			continue
		}

		if errors.Is(err, ErrOperationNotSupported) {
			if ferr := q.failOperation(ctx, op, err); ferr != nil {
				return ferr
			}
			continue
		}

		if op.RetryCount < op.MaxRetries {
			if uerr := q.store.UpdateOperationRetry(ctx, op.ID, op.RetryCount+1, time.Now()); uerr != nil {
				return uerr
			}
			q.logger.Warn("operation replay failed, will retry",
				"op_id", op.ID,
				"entity_id", op.EntityID,
				"retry", op.RetryCount+1,
				"max_retries", op.MaxRetries,
				"error", err)
			continue
		}

		if ferr := q.failOperation(ctx, op, err); ferr != nil {
			return ferr
		}
	}
	return nil
}

func (q *OfflineQueue) failOperation(ctx context.Context, op *OfflineOperation, cause error) error {
	if err := q.store.RemoveOperation(ctx, op.ID); err != nil {
		return err
	}

	failed := &FailedOperation{
		OperationID: op.ID,
		Type:        op.Type,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
		Error:       cause.Error(),
		FailedAt:    time.Now(),
	}
	if err := q.store.AppendFailedOperation(ctx, failed); err != nil {
		return err
	}

	q.logger.Error("operation dropped after exhausting retries",
		"op_id", op.ID,
		"entity_type", string(op.EntityType),
		"entity_id", op.EntityID,
		"error", cause)
	if q.hub != nil {
		q.hub.Publish(Event{Type: EventOperationFailed, Operation: failed})
	}
	return nil
}

// Start wires the queue to connectivity edges and begins the periodic
// backstop drain.
func (q *OfflineQueue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()

	if q.monitor != nil {
		q.monitor.OnChange(func(online bool) {
			if !online {
				return
			}
			if err := q.ProcessSyncQueue(ctx); err != nil {
				q.logger.Warn("reconnect drain failed", "error", err)
			}
		})
	}

	q.wg.Add(1)
	go q.drainLoop(ctx)
}

// Stop halts the backstop drain.
func (q *OfflineQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *OfflineQueue) drainLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.ProcessSyncQueue(ctx); err != nil {
				q.logger.Warn("periodic drain failed", "error", err)
			}
		}
	}
}
