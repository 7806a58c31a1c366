package shelfsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Service wires the store, catalog client, sync engine, conflict resolver,
// offline queue and connectivity monitor into one facade. Hosts that need
// finer control can assemble the components directly.
type Service struct {
	config   Config
	store    *LocalStore
	client   *CatalogClient
	engine   *SyncEngine
	resolver *ConflictResolver
	queue    *OfflineQueue
	monitor  *ConnectivityMonitor
	team     TeamStore
	listener *TeamChangeListener
	hub      *StatusHub
	logger   *slog.Logger
}

// ServiceOption customizes service construction.
type ServiceOption func(*serviceDeps)

type serviceDeps struct {
	httpClient HTTPDoer
	team       TeamStore
	logger     *slog.Logger
}

// WithHTTPClient overrides the HTTP client used by every component.
func WithHTTPClient(client HTTPDoer) ServiceOption {
	return func(d *serviceDeps) { d.httpClient = client }
}

// WithTeamStore overrides the annotation backend.
func WithTeamStore(team TeamStore) ServiceOption {
	return func(d *serviceDeps) { d.team = team }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(d *serviceDeps) { d.logger = logger }
}

// NewService opens the local store and assembles every component.
func NewService(config Config, tokens TokenSource, opts ...ServiceOption) (*Service, error) {
	var deps serviceDeps
	for _, opt := range opts {
		opt(&deps)
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := OpenStore(config.Store)
	if err != nil {
		return nil, err
	}

	hub := NewStatusHub()
	client := NewCatalogClient(config.Client, tokens, deps.httpClient)
	engine := NewSyncEngine(config.Sync, store, client, tokens, hub, logger)
	resolver := NewConflictResolver(config.Conflict, store, hub, logger)
	monitor := NewConnectivityMonitor(config.Connectivity, deps.httpClient, logger)

	team := deps.team
	if team == nil && config.Team.BaseURL != "" {
		team = NewHTTPTeamStore(config.Team, tokens, deps.httpClient)
	}

	s := &Service{
		config:   config,
		store:    store,
		client:   client,
		engine:   engine,
		resolver: resolver,
		monitor:  monitor,
		team:     team,
		hub:      hub,
		logger:   logger,
	}

	s.queue = NewOfflineQueue(config.Queue, store, OperationApplierFunc(s.applyOperation), monitor, hub, logger)

	if config.Team.StreamURL != "" {
		s.listener = NewTeamChangeListener(config.Team, tokens, s.handleRemoteChange, logger)
	}

	monitor.OnChange(func(online bool) {
		hub.Publish(Event{Type: EventConnectivity, Online: online})
	})

	return s, nil
}

// Start launches the background components.
func (s *Service) Start() {
	s.monitor.Start()
	s.queue.Start()
	if s.listener != nil {
		s.listener.Start()
	}
	s.logger.Info("service started")
}

// Stop halts the background components and closes the store.
func (s *Service) Stop() error {
	if s.listener != nil {
		s.listener.Stop()
	}
	s.queue.Stop()
	s.monitor.Stop()
	err := s.store.Close()
	s.logger.Info("service stopped")
	return err
}

// Subscribe returns a feed of status events.
func (s *Service) Subscribe() *Subscription {
	return s.hub.Subscribe(0)
}

// --- Sync facade ---

// FullSync pulls the entire catalog from the beginning.
func (s *Service) FullSync(ctx context.Context) (*SyncResult, error) {
	return s.engine.RunFullSync(ctx)
}

// IncrementalSync resumes from the persisted cursor.
func (s *Service) IncrementalSync(ctx context.Context) (*SyncResult, error) {
	return s.engine.RunIncrementalSync(ctx)
}

// CancelSync requests cancellation of the in-flight sync.
func (s *Service) CancelSync() {
	s.engine.CancelSync()
}

// SyncStatus returns the persisted sync status.
func (s *Service) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	return s.engine.Status(ctx)
}

// ResetSyncStatus recovers from a crash that left the in-progress flag set.
func (s *Service) ResetSyncStatus(ctx context.Context) error {
	return s.engine.ResetSyncStatus(ctx)
}

// --- Catalog facade ---

// CatalogObject returns a locally stored object, nil if absent.
func (s *Service) CatalogObject(ctx context.Context, id string) (*CatalogObject, error) {
	return s.store.GetCatalogObject(ctx, id)
}

// CatalogObjectCount returns the number of locally mirrored objects.
func (s *Service) CatalogObjectCount(ctx context.Context) (int, error) {
	return s.store.CountCatalogObjects(ctx)
}

// --- Team annotation facade ---

// TeamData returns the local annotation record for an item, nil if absent.
func (s *Service) TeamData(ctx context.Context, itemID string) (*TeamData, error) {
	return s.store.GetTeamData(ctx, itemID)
}

// SaveTeamData persists an annotation edit. Offline, the edit lands
// locally and queues for replay. Online, the remote record is checked for
// concurrent edits first; a divergence goes through the resolver with the
// configured default strategy, and the winner lands on both sides.
// StrategyManual surfaces ErrManualResolutionRequired with the conflict
// parked for the user.
func (s *Service) SaveTeamData(ctx context.Context, data *TeamData) error {
	data.UpdatedAt = time.Now()

	if s.team == nil || (s.monitor != nil && !s.monitor.IsOnline()) {
		return s.saveOffline(ctx, data)
	}

	remote, err := s.team.Get(ctx, data.ItemID)
	if err != nil {
		s.logger.Warn("remote annotation fetch failed, queueing edit", "item_id", data.ItemID, "error", err)
		return s.saveOffline(ctx, data)
	}

	winner := data
	if remote != nil {
		// Conflicts are judged against the remote state as of the last
		// sync, so an unchanged remote does not count as a conflict.
		if conflict := DetectConflict(data, remote); conflict != nil && remote.UpdatedAt.After(data.LastSyncAt) {
			winner, err = s.resolver.Resolve(ctx, conflict, "")
			if err != nil {
				return err
			}
		}
	}

	pushed, err := s.team.Put(ctx, winner)
	if err != nil {
		return err
	}
	pushed.LastSyncAt = time.Now()
	return s.store.UpsertTeamData(ctx, pushed)
}

func (s *Service) saveOffline(ctx context.Context, data *TeamData) error {
	if err := s.store.UpsertTeamData(ctx, data); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal team data: %w", err)
	}
	_, err = s.queue.QueueOperation(ctx, OpUpdate, EntityTeamData, data.ItemID, payload)
	return err
}

// handleRemoteChange applies a streamed annotation change, running it
// through conflict detection against the local copy.
func (s *Service) handleRemoteChange(change *TeamChange) {
	if change.Data == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	local, err := s.store.GetTeamData(ctx, change.ItemID)
	if err != nil {
		s.logger.Warn("failed to load local annotation for streamed change", "item_id", change.ItemID, "error", err)
		return
	}

	apply := change.Data
	if local != nil {
		if conflict := DetectConflict(local, change.Data); conflict != nil {
			winner, err := s.resolver.Resolve(ctx, conflict, "")
			if err != nil {
				// Manual conflicts stay parked; the local copy is
				// untouched until the user decides.
				return
			}
			apply = winner
		}
	}

	apply.LastSyncAt = time.Now()
	if err := s.store.UpsertTeamData(ctx, apply); err != nil {
		s.logger.Warn("failed to apply streamed change", "item_id", change.ItemID, "error", err)
	}
}

// --- Conflict facade ---

// ActiveConflicts returns conflicts awaiting manual resolution.
func (s *Service) ActiveConflicts(ctx context.Context) ([]*DataConflict, error) {
	return s.resolver.ActiveConflicts(ctx)
}

// ResolvedConflicts returns the bounded resolution history.
func (s *Service) ResolvedConflicts(ctx context.Context) ([]*DataConflict, error) {
	return s.resolver.ResolvedConflicts(ctx)
}

// ResolveConflict completes a pending conflict with the user's choice and
// pushes the winner.
func (s *Service) ResolveConflict(ctx context.Context, conflictID string, chosen *TeamData) error {
	winner, err := s.resolver.ManualResolve(ctx, conflictID, chosen)
	if err != nil {
		return err
	}

	if s.team != nil && s.monitor != nil && s.monitor.IsOnline() {
		pushed, err := s.team.Put(ctx, winner)
		if err == nil {
			pushed.LastSyncAt = time.Now()
			return s.store.UpsertTeamData(ctx, pushed)
		}
		s.logger.Warn("failed to push manual resolution, queueing", "item_id", winner.ItemID, "error", err)
	}
	return s.saveOffline(ctx, winner)
}

// DismissConflict discards a pending conflict without applying either side.
func (s *Service) DismissConflict(ctx context.Context, conflictID string) error {
	return s.resolver.Dismiss(ctx, conflictID)
}

// --- Queue facade ---

// PendingOperations returns the offline queue contents.
func (s *Service) PendingOperations(ctx context.Context) ([]*OfflineOperation, error) {
	return s.queue.Pending(ctx)
}

// FailedOperations returns the permanent-failure log.
func (s *Service) FailedOperations(ctx context.Context) ([]*FailedOperation, error) {
	return s.queue.Failed(ctx)
}

// DrainQueue replays queued operations now instead of waiting for the
// next connectivity edge or timer tick.
func (s *Service) DrainQueue(ctx context.Context) error {
	return s.queue.ProcessSyncQueue(ctx)
}

// applyOperation routes a queued operation to the right backend.
func (s *Service) applyOperation(ctx context.Context, op *OfflineOperation) error {
	switch op.EntityType {
	case EntityTeamData:
		return s.applyTeamDataOperation(ctx, op)
	case EntityCatalogItem:
		return s.applyCatalogOperation(ctx, op)
	default:
		return fmt.Errorf("%w: entity type %q", ErrOperationNotSupported, op.EntityType)
	}
}

func (s *Service) applyTeamDataOperation(ctx context.Context, op *OfflineOperation) error {
	if s.team == nil {
		return fmt.Errorf("%w: no annotation backend configured", ErrOperationNotSupported)
	}

	var data TeamData
	if err := json.Unmarshal(op.Payload, &data); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrOperationNotSupported, err)
	}

	remote, err := s.team.Get(ctx, data.ItemID)
	if err != nil {
		return err
	}

	winner := &data
	if remote != nil && remote.UpdatedAt.After(data.LastSyncAt) {
		if conflict := DetectConflict(&data, remote); conflict != nil {
			winner, err = s.resolver.Resolve(ctx, conflict, "")
			if err != nil {
				return err
			}
		}
	}

	pushed, err := s.team.Put(ctx, winner)
	if err != nil {
		return err
	}
	pushed.LastSyncAt = time.Now()
	return s.store.UpsertTeamData(ctx, pushed)
}

func (s *Service) applyCatalogOperation(ctx context.Context, op *OfflineOperation) error {
	switch op.Type {
	case OpCreate, OpUpdate:
		var obj CatalogObject
		if err := json.Unmarshal(op.Payload, &obj); err != nil {
			return fmt.Errorf("%w: malformed payload: %v", ErrOperationNotSupported, err)
		}
		updated, err := s.client.UpsertObject(ctx, &obj)
		if err != nil {
			return err
		}
		return s.store.UpsertCatalogObjects(ctx, []CatalogObject{*updated})
	case OpDelete:
		return s.client.DeleteObject(ctx, op.EntityID)
	default:
		return fmt.Errorf("%w: operation type %q", ErrOperationNotSupported, op.Type)
	}
}
