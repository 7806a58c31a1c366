package shelfsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// StoreConfig configures the on-device SQLite store.
type StoreConfig struct {
	// Path to the SQLite database file
	Path string `yaml:"path"`

	// CacheSize is the SQLite page cache size in KB (default: 2000 = 2MB)
	CacheSize int `yaml:"cache_size"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string `yaml:"journal_mode"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout"`

	// FailedOpLimit caps the permanent-failure log (default: 50)
	FailedOpLimit int `yaml:"failed_op_limit"`

	// ResolvedConflictLimit caps the resolved-conflict history (default: 100)
	ResolvedConflictLimit int `yaml:"resolved_conflict_limit"`
}

// DefaultStoreConfig returns default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path:                  "shelfsync.db",
		CacheSize:             2000,
		JournalMode:           "WAL",
		BusyTimeout:           5000,
		FailedOpLimit:         50,
		ResolvedConflictLimit: 100,
	}
}

// LocalStore is the on-device relational store holding catalog objects,
// team annotations, sync metadata, the offline operation queue and the
// conflict lists. All multi-row writes happen inside transactions.
type LocalStore struct {
	db     *sql.DB
	config StoreConfig
	mu     sync.RWMutex
	closed bool

	upsertObjStmt  *sql.Stmt
	getObjStmt     *sql.Stmt
	upsertTeamStmt *sql.Stmt
	getTeamStmt    *sql.Stmt
}

// OpenStore opens (creating if necessary) the local store.
func OpenStore(config StoreConfig) (*LocalStore, error) {
	if config.Path == "" {
		config.Path = "shelfsync.db"
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 2000
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.FailedOpLimit <= 0 {
		config.FailedOpLimit = 50
	}
	if config.ResolvedConflictLimit <= 0 {
		config.ResolvedConflictLimit = 100
	}

	dsn := fmt.Sprintf("%s?_cache_size=%d&_journal_mode=%s&_busy_timeout=%d",
		config.Path, config.CacheSize, config.JournalMode, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// The mobile store has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &LocalStore{
		db:     db,
		config: config,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

func (s *LocalStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS catalog_objects (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			data BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS team_data (
			item_id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			last_sync_at INTEGER,
			owner TEXT
		);

		-- Singleton: exactly one row, id always 1.
		CREATE TABLE IF NOT EXISTS sync_status (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			is_syncing INTEGER NOT NULL DEFAULT 0,
			last_sync_time INTEGER,
			sync_error TEXT NOT NULL DEFAULT '',
			sync_progress INTEGER NOT NULL DEFAULT 0,
			sync_total INTEGER NOT NULL DEFAULT 0,
			sync_type TEXT NOT NULL DEFAULT '',
			sync_attempt INTEGER NOT NULL DEFAULT 0,
			last_page_cursor TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS offline_operations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			op_type TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload BLOB,
			created_at INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			last_attempt INTEGER
		);

		CREATE TABLE IF NOT EXISTS failed_operations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id TEXT NOT NULL,
			op_type TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			error TEXT NOT NULL,
			failed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_conflicts (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			data BLOB NOT NULL,
			detected_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS resolved_conflicts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			data BLOB NOT NULL,
			resolved_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_catalog_objects_type ON catalog_objects(type);
		CREATE INDEX IF NOT EXISTS idx_catalog_objects_updated ON catalog_objects(updated_at);
		CREATE INDEX IF NOT EXISTS idx_pending_conflicts_item ON pending_conflicts(item_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Seed the singleton status row on first run.
	_, err := s.db.Exec(`INSERT OR IGNORE INTO sync_status (id) VALUES (1)`)
	return err
}

func (s *LocalStore) prepareStatements() error {
	var err error

	s.upsertObjStmt, err = s.db.Prepare(`
		INSERT OR REPLACE INTO catalog_objects (id, type, version, updated_at, is_deleted, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare catalog upsert: %w", err)
	}

	s.getObjStmt, err = s.db.Prepare(`SELECT data FROM catalog_objects WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare catalog select: %w", err)
	}

	s.upsertTeamStmt, err = s.db.Prepare(`
		INSERT OR REPLACE INTO team_data (item_id, data, last_sync_at, owner)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare team upsert: %w", err)
	}

	s.getTeamStmt, err = s.db.Prepare(`SELECT data FROM team_data WHERE item_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare team select: %w", err)
	}

	return nil
}

func (s *LocalStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close releases the database handle.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.upsertObjStmt, s.getObjStmt, s.upsertTeamStmt, s.getTeamStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// --- Catalog objects ---

// UpsertCatalogObjects applies a fetched page to the store inside a single
// transaction. A page either applies completely or not at all; re-applying
// the same page is idempotent because objects are keyed by id.
func (s *LocalStore) UpsertCatalogObjects(ctx context.Context, objects []CatalogObject) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(objects) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.upsertObjStmt)
	for i := range objects {
		obj := &objects[i]
		data, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to marshal catalog object %s: %w", obj.ID, err)
		}
		deleted := 0
		if obj.IsDeleted {
			deleted = 1
		}
		_, err = stmt.ExecContext(ctx, obj.ID, string(obj.Type), obj.Version,
			obj.UpdatedAt.UnixMilli(), deleted, data)
		if err != nil {
			return fmt.Errorf("failed to upsert catalog object %s: %w", obj.ID, err)
		}
	}

	return tx.Commit()
}

// GetCatalogObject returns the stored object for an id, or nil if absent.
func (s *LocalStore) GetCatalogObject(ctx context.Context, id string) (*CatalogObject, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.getObjStmt.QueryRowContext(ctx, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog object: %w", err)
	}

	var obj CatalogObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog object: %w", err)
	}
	return &obj, nil
}

// CountCatalogObjects returns the number of stored catalog objects.
func (s *LocalStore) CountCatalogObjects(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_objects`).Scan(&n)
	return n, err
}

// ListCatalogObjects returns all stored catalog objects, id order.
func (s *LocalStore) ListCatalogObjects(ctx context.Context) ([]CatalogObject, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM catalog_objects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog objects: %w", err)
	}
	defer rows.Close()

	var objects []CatalogObject
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var obj CatalogObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("failed to unmarshal catalog object: %w", err)
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// --- Sync status ---

// ReadSyncStatus returns the singleton status row.
func (s *LocalStore) ReadSyncStatus(ctx context.Context) (*SyncStatus, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT is_syncing, last_sync_time, sync_error, sync_progress, sync_total,
		       sync_type, sync_attempt, last_page_cursor
		FROM sync_status WHERE id = 1
	`)

	var st SyncStatus
	var syncing int
	var lastSync sql.NullInt64
	var syncType string
	if err := row.Scan(&syncing, &lastSync, &st.SyncError, &st.SyncProgress,
		&st.SyncTotal, &syncType, &st.SyncAttempt, &st.LastPageCursor); err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}
	st.IsSyncing = syncing != 0
	st.SyncType = SyncType(syncType)
	if lastSync.Valid {
		t := time.UnixMilli(lastSync.Int64)
		st.LastSyncTime = &t
	}
	return &st, nil
}

// WriteSyncStatus replaces the singleton status row.
func (s *LocalStore) WriteSyncStatus(ctx context.Context, st *SyncStatus) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	syncing := 0
	if st.IsSyncing {
		syncing = 1
	}
	var lastSync any
	if st.LastSyncTime != nil {
		lastSync = st.LastSyncTime.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_status SET
			is_syncing = ?, last_sync_time = ?, sync_error = ?, sync_progress = ?,
			sync_total = ?, sync_type = ?, sync_attempt = ?, last_page_cursor = ?
		WHERE id = 1
	`, syncing, lastSync, st.SyncError, st.SyncProgress, st.SyncTotal,
		string(st.SyncType), st.SyncAttempt, st.LastPageCursor)
	if err != nil {
		return fmt.Errorf("failed to write sync status: %w", err)
	}
	return nil
}

// LastSyncCursor returns the persisted page cursor, empty if none.
func (s *LocalStore) LastSyncCursor(ctx context.Context) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT last_page_cursor FROM sync_status WHERE id = 1`).Scan(&cursor)
	if err != nil {
		return "", fmt.Errorf("failed to read cursor: %w", err)
	}
	return cursor, nil
}

// SaveLastSyncCursor persists the page cursor without touching the rest of
// the status row.
func (s *LocalStore) SaveLastSyncCursor(ctx context.Context, cursor string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sync_status SET last_page_cursor = ? WHERE id = 1`, cursor)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// --- Team annotation data ---

// UpsertTeamData stores the annotation record for an item.
func (s *LocalStore) UpsertTeamData(ctx context.Context, data *TeamData) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal team data: %w", err)
	}

	var lastSync any
	if !data.LastSyncAt.IsZero() {
		lastSync = data.LastSyncAt.UnixMilli()
	}

	_, err = s.upsertTeamStmt.ExecContext(ctx, data.ItemID, blob, lastSync, data.Owner)
	if err != nil {
		return fmt.Errorf("failed to upsert team data: %w", err)
	}
	return nil
}

// GetTeamData returns the annotation record for an item, or nil if absent.
func (s *LocalStore) GetTeamData(ctx context.Context, itemID string) (*TeamData, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var blob []byte
	err := s.getTeamStmt.QueryRowContext(ctx, itemID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read team data: %w", err)
	}

	var data TeamData
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal team data: %w", err)
	}
	return &data, nil
}

// ListTeamData returns all annotation records, item-id order.
func (s *LocalStore) ListTeamData(ctx context.Context) ([]*TeamData, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM team_data ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list team data: %w", err)
	}
	defer rows.Close()

	var out []*TeamData
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var data TeamData
		if err := json.Unmarshal(blob, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal team data: %w", err)
		}
		out = append(out, &data)
	}
	return out, rows.Err()
}

// --- Offline operation queue ---

// AppendOperation appends an operation to the durable queue. Payloads are
// snappy-compressed at rest.
func (s *LocalStore) AppendOperation(ctx context.Context, op *OfflineOperation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var payload []byte
	if len(op.Payload) > 0 {
		payload = snappy.Encode(nil, op.Payload)
	}
	var lastAttempt any
	if op.LastAttempt != nil {
		lastAttempt = op.LastAttempt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_operations
			(id, op_type, entity_type, entity_id, payload, created_at, retry_count, max_retries, last_attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, string(op.Type), string(op.EntityType), op.EntityID, payload,
		op.Timestamp.UnixMilli(), op.RetryCount, op.MaxRetries, lastAttempt)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

// ListOperations returns queued operations in original enqueue order.
func (s *LocalStore) ListOperations(ctx context.Context) ([]*OfflineOperation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, entity_type, entity_id, payload, created_at,
		       retry_count, max_retries, last_attempt
		FROM offline_operations ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*OfflineOperation
	for rows.Next() {
		var op OfflineOperation
		var opType, entityType string
		var payload []byte
		var createdAt int64
		var lastAttempt sql.NullInt64
		if err := rows.Scan(&op.ID, &opType, &entityType, &op.EntityID, &payload,
			&createdAt, &op.RetryCount, &op.MaxRetries, &lastAttempt); err != nil {
			return nil, err
		}
		op.Type = OperationType(opType)
		op.EntityType = EntityType(entityType)
		op.Timestamp = time.UnixMilli(createdAt)
		if lastAttempt.Valid {
			t := time.UnixMilli(lastAttempt.Int64)
			op.LastAttempt = &t
		}
		if len(payload) > 0 {
			decoded, err := snappy.Decode(nil, payload)
			if err != nil {
				return nil, fmt.Errorf("failed to decode operation payload: %w", err)
			}
			op.Payload = decoded
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// UpdateOperationRetry bumps the retry bookkeeping for a queued operation.
func (s *LocalStore) UpdateOperationRetry(ctx context.Context, id string, retryCount int, lastAttempt time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE offline_operations SET retry_count = ?, last_attempt = ? WHERE id = ?
	`, retryCount, lastAttempt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update operation retry: %w", err)
	}
	return nil
}

// RemoveOperation deletes an operation from the queue.
func (s *LocalStore) RemoveOperation(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove operation: %w", err)
	}
	return nil
}

// AppendFailedOperation records a permanent failure, evicting the oldest
// entries beyond the configured cap.
func (s *LocalStore) AppendFailedOperation(ctx context.Context, f *FailedOperation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO failed_operations (operation_id, op_type, entity_type, entity_id, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.OperationID, string(f.Type), string(f.EntityType), f.EntityID, f.Error, f.FailedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append failed operation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM failed_operations WHERE seq NOT IN (
			SELECT seq FROM failed_operations ORDER BY seq DESC LIMIT ?
		)
	`, s.config.FailedOpLimit)
	if err != nil {
		return fmt.Errorf("failed to trim failed operations: %w", err)
	}

	return tx.Commit()
}

// ListFailedOperations returns the permanent-failure log, oldest first.
func (s *LocalStore) ListFailedOperations(ctx context.Context) ([]*FailedOperation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, op_type, entity_type, entity_id, error, failed_at
		FROM failed_operations ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed operations: %w", err)
	}
	defer rows.Close()

	var out []*FailedOperation
	for rows.Next() {
		var f FailedOperation
		var opType, entityType string
		var failedAt int64
		if err := rows.Scan(&f.OperationID, &opType, &entityType, &f.EntityID, &f.Error, &failedAt); err != nil {
			return nil, err
		}
		f.Type = OperationType(opType)
		f.EntityType = EntityType(entityType)
		f.FailedAt = time.UnixMilli(failedAt)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// --- Conflicts ---

// SavePendingConflict persists a conflict awaiting manual resolution.
func (s *LocalStore) SavePendingConflict(ctx context.Context, c *DataConflict) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_conflicts (id, item_id, data, detected_at)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.ItemID, blob, c.DetectedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save pending conflict: %w", err)
	}
	return nil
}

// DeletePendingConflict removes a conflict from the pending list.
func (s *LocalStore) DeletePendingConflict(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_conflicts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending conflict: %w", err)
	}
	return nil
}

// ListPendingConflicts returns pending conflicts ordered by detection time.
func (s *LocalStore) ListPendingConflicts(ctx context.Context) ([]*DataConflict, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM pending_conflicts ORDER BY detected_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending conflicts: %w", err)
	}
	defer rows.Close()

	var out []*DataConflict
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var c DataConflict
		if err := json.Unmarshal(blob, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AppendResolvedConflict records a resolved (or dismissed) conflict in the
// bounded history, evicting the oldest beyond the cap.
func (s *LocalStore) AppendResolvedConflict(ctx context.Context, c *DataConflict) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}
	resolvedAt := time.Now()
	if c.ResolvedAt != nil {
		resolvedAt = *c.ResolvedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolved_conflicts (id, item_id, strategy, status, data, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ItemID, string(c.Strategy), string(c.Status), blob, resolvedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append resolved conflict: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM resolved_conflicts WHERE seq NOT IN (
			SELECT seq FROM resolved_conflicts ORDER BY seq DESC LIMIT ?
		)
	`, s.config.ResolvedConflictLimit)
	if err != nil {
		return fmt.Errorf("failed to trim resolved conflicts: %w", err)
	}

	return tx.Commit()
}

// ListResolvedConflicts returns the bounded history, most recent first.
func (s *LocalStore) ListResolvedConflicts(ctx context.Context) ([]*DataConflict, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM resolved_conflicts ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved conflicts: %w", err)
	}
	defer rows.Close()

	var out []*DataConflict
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var c DataConflict
		if err := json.Unmarshal(blob, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
