package shelfsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SyncType distinguishes a from-scratch sync from a resuming one.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// SyncOutcome is how a sync run ended.
type SyncOutcome string

const (
	SyncCompleted SyncOutcome = "completed"
	SyncFailed    SyncOutcome = "failed"
	SyncCancelled SyncOutcome = "cancelled"
)

// SyncStatus is the persisted singleton describing sync state. It survives
// restarts, which is what makes interrupted syncs resumable.
type SyncStatus struct {
	IsSyncing      bool       `json:"is_syncing"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	SyncError      string     `json:"sync_error,omitempty"`
	SyncProgress   int        `json:"sync_progress"`
	SyncTotal      int        `json:"sync_total"`
	SyncType       SyncType   `json:"sync_type,omitempty"`
	SyncAttempt    int        `json:"sync_attempt"`
	LastPageCursor string     `json:"last_page_cursor,omitempty"`
}

// SyncResult summarizes a finished sync run.
type SyncResult struct {
	Outcome        SyncOutcome
	Type           SyncType
	ObjectsApplied int
	Pages          int
	Duration       time.Duration
}

// syncStore is the slice of the local store the engine needs.
type syncStore interface {
	ReadSyncStatus(ctx context.Context) (*SyncStatus, error)
	WriteSyncStatus(ctx context.Context, status *SyncStatus) error
	UpsertCatalogObjects(ctx context.Context, objects []CatalogObject) error
}

// SyncEngine pulls the remote catalog page by page into the local store.
// Pages apply transactionally and the page cursor persists after each one,
// so a run that dies mid-listing resumes where it stopped. At most one run
// is in flight at a time.
type SyncEngine struct {
	config  SyncConfig
	store   syncStore
	fetcher PageFetcher
	tokens  TokenSource
	hub     *StatusHub
	logger  *slog.Logger

	mu        sync.Mutex
	cancelled atomic.Bool
}

// NewSyncEngine creates a sync engine.
func NewSyncEngine(config SyncConfig, store syncStore, fetcher PageFetcher, tokens TokenSource, hub *StatusHub, logger *slog.Logger) *SyncEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncEngine{
		config:  config,
		store:   store,
		fetcher: fetcher,
		tokens:  tokens,
		hub:     hub,
		logger:  logger,
	}
}

// RunFullSync pulls the whole catalog from the beginning, ignoring any
// persisted cursor.
func (e *SyncEngine) RunFullSync(ctx context.Context) (*SyncResult, error) {
	return e.run(ctx, SyncFull)
}

// RunIncrementalSync resumes from the persisted cursor if one exists,
// otherwise behaves like a full sync.
func (e *SyncEngine) RunIncrementalSync(ctx context.Context) (*SyncResult, error) {
	return e.run(ctx, SyncIncremental)
}

// CancelSync requests cooperative cancellation of the in-flight run. The
// run stops at the next page boundary; the page being applied still lands.
func (e *SyncEngine) CancelSync() {
	e.cancelled.Store(true)
}

// Status returns the persisted sync status.
func (e *SyncEngine) Status(ctx context.Context) (*SyncStatus, error) {
	return e.store.ReadSyncStatus(ctx)
}

// ResetSyncStatus clears a stale in-progress flag and error, keeping the
// cursor so a later incremental run can still resume. Intended for
// recovery after a crash left is_syncing set.
func (e *SyncEngine) ResetSyncStatus(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, err := e.store.ReadSyncStatus(ctx)
	if err != nil {
		return err
	}
	status.IsSyncing = false
	status.SyncError = ""
	status.SyncProgress = 0
	if err := e.store.WriteSyncStatus(ctx, status); err != nil {
		return err
	}
	e.publishStatus(status)
	return nil
}

func (e *SyncEngine) run(ctx context.Context, typ SyncType) (*SyncResult, error) {
	// Auth is a precondition: a missing or expired credential must not
	// flip the in-progress flag.
	if _, err := e.tokens.Token(ctx); err != nil {
		return nil, err
	}

	status, err := e.acquire(ctx, typ)
	if err != nil {
		return nil, err
	}

	e.cancelled.Store(false)
	start := time.Now()
	cursor := status.LastPageCursor

	e.logger.Info("sync started",
		"type", string(typ),
		"attempt", status.SyncAttempt,
		"resume_cursor", cursor != "")

	result := &SyncResult{Type: typ}
	for {
		if e.cancelled.Load() || ctx.Err() != nil {
			return e.finish(ctx, status, result, SyncCancelled, start, nil)
		}

		page, err := e.fetcher.FetchPage(ctx, cursor)
		if err != nil {
			runErr := &SyncRunError{Type: typ, Cursor: cursor, Attempt: status.SyncAttempt, Cause: err}
			_, ferr := e.finish(ctx, status, result, SyncFailed, start, runErr)
			if ferr != nil {
				e.logger.Error("failed to persist sync failure", "error", ferr)
			}
			return nil, runErr
		}

		if err := e.store.UpsertCatalogObjects(ctx, page.Objects); err != nil {
			runErr := &SyncRunError{Type: typ, Cursor: cursor, Attempt: status.SyncAttempt, Cause: err}
			_, ferr := e.finish(ctx, status, result, SyncFailed, start, runErr)
			if ferr != nil {
				e.logger.Error("failed to persist sync failure", "error", ferr)
			}
			return nil, runErr
		}

		result.Pages++
		result.ObjectsApplied += len(page.Objects)
		cursor = page.Cursor

		// The cursor of the last applied page persists before the next
		// fetch, so a failure there resumes from here.
		status.LastPageCursor = cursor
		status.SyncProgress += len(page.Objects)
		if err := e.store.WriteSyncStatus(ctx, status); err != nil {
			runErr := &SyncRunError{Type: typ, Cursor: cursor, Attempt: status.SyncAttempt, Cause: err}
			// Best effort: a transient status-write failure must not leave
			// the persisted in-progress flag set.
			_, ferr := e.finish(ctx, status, result, SyncFailed, start, runErr)
			if ferr != nil {
				e.logger.Error("failed to persist sync failure", "error", ferr)
			}
			return nil, runErr
		}
		e.publishStatus(status)

		if cursor == "" {
			return e.finish(ctx, status, result, SyncCompleted, start, nil)
		}
	}
}

// acquire atomically checks and sets the persisted in-progress flag.
func (e *SyncEngine) acquire(ctx context.Context, typ SyncType) (*SyncStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, err := e.store.ReadSyncStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status.IsSyncing {
		return nil, ErrAlreadySyncing
	}

	status.IsSyncing = true
	status.SyncType = typ
	status.SyncError = ""
	status.SyncProgress = 0
	status.SyncTotal = e.config.ProgressCeiling
	status.SyncAttempt++
	if typ == SyncFull {
		status.LastPageCursor = ""
	}

	if err := e.store.WriteSyncStatus(ctx, status); err != nil {
		return nil, err
	}
	e.publishStatus(status)
	return status, nil
}

func (e *SyncEngine) finish(ctx context.Context, status *SyncStatus, result *SyncResult, outcome SyncOutcome, start time.Time, runErr error) (*SyncResult, error) {
	// The final status write must land even when the caller's context is
	// already cancelled.
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	status.IsSyncing = false
	switch outcome {
	case SyncCompleted:
		now := time.Now()
		status.LastSyncTime = &now
		status.SyncError = ""
		status.SyncAttempt = 0
		status.LastPageCursor = ""
	case SyncFailed:
		// Cursor stays where the last applied page left it.
		status.SyncError = runErr.Error()
	case SyncCancelled:
		status.SyncError = ""
	}

	if err := e.store.WriteSyncStatus(ctx, status); err != nil {
		return nil, err
	}
	e.publishStatus(status)

	result.Outcome = outcome
	result.Duration = time.Since(start)

	e.logger.Info("sync finished",
		"type", string(result.Type),
		"outcome", string(outcome),
		"pages", result.Pages,
		"objects", result.ObjectsApplied,
		"duration", result.Duration)
	return result, nil
}

func (e *SyncEngine) publishStatus(status *SyncStatus) {
	if e.hub == nil {
		return
	}
	copied := *status
	e.hub.Publish(Event{Type: EventSyncStatusChanged, Status: &copied})
}
