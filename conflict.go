package shelfsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResolutionStrategy selects how a detected conflict is resolved.
type ResolutionStrategy string

const (
	StrategyLastWriteWins  ResolutionStrategy = "last_write_wins"
	StrategyFirstWriteWins ResolutionStrategy = "first_write_wins"
	StrategyPreserveLocal  ResolutionStrategy = "preserve_local"
	StrategyAcceptRemote   ResolutionStrategy = "accept_remote"
	StrategyManual         ResolutionStrategy = "manual"
	StrategyFieldMerge     ResolutionStrategy = "field_level_merge"
)

// ConflictStatus is the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictPending   ConflictStatus = "pending"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictDismissed ConflictStatus = "dismissed"
)

// FieldName identifies a conflicting annotation field.
type FieldName string

const (
	FieldCaseUPC      FieldName = "case_upc"
	FieldCaseCost     FieldName = "case_cost"
	FieldCaseQuantity FieldName = "case_quantity"
	FieldVendor       FieldName = "vendor"
	FieldDiscontinued FieldName = "discontinued"
	FieldNotes        FieldName = "notes"
)

// ConflictValue is a tagged variant holding one side of a conflicting
// field. Exactly one of the value members is meaningful, per Kind.
type ConflictValue struct {
	Kind    string   `json:"kind"`
	String  *string  `json:"string,omitempty"`
	Double  *float64 `json:"double,omitempty"`
	Integer *int     `json:"integer,omitempty"`
	Bool    *bool    `json:"bool,omitempty"`
	Notes   []Note   `json:"notes,omitempty"`
}

func stringValue(v *string) ConflictValue  { return ConflictValue{Kind: "string", String: v} }
func doubleValue(v *float64) ConflictValue { return ConflictValue{Kind: "double", Double: v} }
func intValue(v *int) ConflictValue        { return ConflictValue{Kind: "integer", Integer: v} }
func boolValue(v bool) ConflictValue       { return ConflictValue{Kind: "bool", Bool: &v} }
func notesValue(v []Note) ConflictValue    { return ConflictValue{Kind: "notes", Notes: v} }

// ConflictField is one field that diverged between local and remote.
type ConflictField struct {
	Field  FieldName     `json:"field"`
	Local  ConflictValue `json:"local"`
	Remote ConflictValue `json:"remote"`
}

// DataConflict captures a divergence between the local and remote versions
// of one item's annotation record.
type DataConflict struct {
	ID              string             `json:"id"`
	ItemID          string             `json:"item_id"`
	Fields          []ConflictField    `json:"fields"`
	LocalData       *TeamData          `json:"local_data"`
	RemoteData      *TeamData          `json:"remote_data"`
	LocalTimestamp  time.Time          `json:"local_timestamp"`
	RemoteTimestamp time.Time          `json:"remote_timestamp"`
	DetectedAt      time.Time          `json:"detected_at"`
	Status          ConflictStatus     `json:"status"`
	Strategy        ResolutionStrategy `json:"strategy,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
}

// DetectConflict compares the local and remote annotation records and
// returns a conflict listing every diverged field, or nil when the records
// agree. Only annotation fields participate; sync metadata never conflicts.
func DetectConflict(local, remote *TeamData) *DataConflict {
	if local == nil || remote == nil {
		return nil
	}

	var fields []ConflictField
	if !strPtrEqual(local.CaseUPC, remote.CaseUPC) {
		fields = append(fields, ConflictField{
			Field:  FieldCaseUPC,
			Local:  stringValue(local.CaseUPC),
			Remote: stringValue(remote.CaseUPC),
		})
	}
	if !float64PtrEqual(local.CaseCost, remote.CaseCost) {
		fields = append(fields, ConflictField{
			Field:  FieldCaseCost,
			Local:  doubleValue(local.CaseCost),
			Remote: doubleValue(remote.CaseCost),
		})
	}
	if !intPtrEqual(local.CaseQuantity, remote.CaseQuantity) {
		fields = append(fields, ConflictField{
			Field:  FieldCaseQuantity,
			Local:  intValue(local.CaseQuantity),
			Remote: intValue(remote.CaseQuantity),
		})
	}
	if !strPtrEqual(local.Vendor, remote.Vendor) {
		fields = append(fields, ConflictField{
			Field:  FieldVendor,
			Local:  stringValue(local.Vendor),
			Remote: stringValue(remote.Vendor),
		})
	}
	if local.Discontinued != remote.Discontinued {
		fields = append(fields, ConflictField{
			Field:  FieldDiscontinued,
			Local:  boolValue(local.Discontinued),
			Remote: boolValue(remote.Discontinued),
		})
	}
	if !notesEqual(local.Notes, remote.Notes) {
		fields = append(fields, ConflictField{
			Field:  FieldNotes,
			Local:  notesValue(local.Notes),
			Remote: notesValue(remote.Notes),
		})
	}

	if len(fields) == 0 {
		return nil
	}

	return &DataConflict{
		ID:              uuid.NewString(),
		ItemID:          local.ItemID,
		Fields:          fields,
		LocalData:       local.Clone(),
		RemoteData:      remote.Clone(),
		LocalTimestamp:  local.UpdatedAt,
		RemoteTimestamp: remote.UpdatedAt,
		DetectedAt:      time.Now(),
		Status:          ConflictPending,
	}
}

// ConflictResolver applies resolution strategies to detected conflicts and
// maintains the pending list and the bounded resolution history.
type ConflictResolver struct {
	store  *LocalStore
	hub    *StatusHub
	logger *slog.Logger
	config ConflictConfig

	mu sync.Mutex
}

// NewConflictResolver creates a resolver over the given store.
func NewConflictResolver(config ConflictConfig, store *LocalStore, hub *StatusHub, logger *slog.Logger) *ConflictResolver {
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = StrategyLastWriteWins
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConflictResolver{
		store:  store,
		hub:    hub,
		logger: logger,
		config: config,
	}
}

// Resolve applies the given strategy (the configured default when empty)
// and returns the winning record. The manual strategy persists the conflict
// for later user action and returns ErrManualResolutionRequired. All other
// strategies record the outcome in the resolution history.
func (r *ConflictResolver) Resolve(ctx context.Context, conflict *DataConflict, strategy ResolutionStrategy) (*TeamData, error) {
	if strategy == "" {
		strategy = r.config.DefaultStrategy
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if strategy == StrategyManual {
		conflict.Status = ConflictPending
		conflict.Strategy = StrategyManual
		if err := r.store.SavePendingConflict(ctx, conflict); err != nil {
			return nil, err
		}
		if r.hub != nil {
			r.hub.Publish(Event{Type: EventConflictDetected, Conflict: conflict})
		}
		return nil, ErrManualResolutionRequired
	}

	winner, err := resolveWith(conflict, strategy, r.logger)
	if err != nil {
		return nil, err
	}
	return winner, r.finishLocked(ctx, conflict, strategy)
}

func resolveWith(conflict *DataConflict, strategy ResolutionStrategy, logger *slog.Logger) (*TeamData, error) {
	switch strategy {
	case StrategyLastWriteWins:
		if conflict.RemoteTimestamp.After(conflict.LocalTimestamp) {
			return conflict.RemoteData.Clone(), nil
		}
		return conflict.LocalData.Clone(), nil
	case StrategyFirstWriteWins:
		if conflict.RemoteTimestamp.Before(conflict.LocalTimestamp) {
			return conflict.RemoteData.Clone(), nil
		}
		return conflict.LocalData.Clone(), nil
	case StrategyPreserveLocal:
		return conflict.LocalData.Clone(), nil
	case StrategyAcceptRemote:
		return conflict.RemoteData.Clone(), nil
	case StrategyFieldMerge:
		return mergeFields(conflict, logger), nil
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// mergeFields resolves each diverged field independently. Fields that did
// not diverge keep the local value.
func mergeFields(conflict *DataConflict, logger *slog.Logger) *TeamData {
	merged := conflict.LocalData.Clone()
	local, remote := conflict.LocalData, conflict.RemoteData

	for _, f := range conflict.Fields {
		switch f.Field {
		case FieldCaseUPC:
			// A recorded UPC beats an empty one; two recorded UPCs fall
			// back to recency.
			switch {
			case local.CaseUPC == nil:
				merged.CaseUPC = cloneStrPtr(remote.CaseUPC)
			case remote.CaseUPC == nil:
				merged.CaseUPC = cloneStrPtr(local.CaseUPC)
			case conflict.RemoteTimestamp.After(conflict.LocalTimestamp):
				merged.CaseUPC = cloneStrPtr(remote.CaseUPC)
			default:
				merged.CaseUPC = cloneStrPtr(local.CaseUPC)
			}
		case FieldCaseCost:
			// The larger cost wins: stale low costs undercharge.
			switch {
			case local.CaseCost == nil:
				merged.CaseCost = cloneFloat64Ptr(remote.CaseCost)
			case remote.CaseCost == nil:
				merged.CaseCost = cloneFloat64Ptr(local.CaseCost)
			case *remote.CaseCost > *local.CaseCost:
				merged.CaseCost = cloneFloat64Ptr(remote.CaseCost)
			default:
				merged.CaseCost = cloneFloat64Ptr(local.CaseCost)
			}
		case FieldDiscontinued:
			// Discontinuation is sticky: either side marking it keeps it.
			merged.Discontinued = local.Discontinued || remote.Discontinued
		case FieldNotes:
			merged.Notes = mergeNotes(local.Notes, remote.Notes)
		case FieldCaseQuantity:
			if conflict.RemoteTimestamp.After(conflict.LocalTimestamp) {
				merged.CaseQuantity = cloneIntPtr(remote.CaseQuantity)
			}
		case FieldVendor:
			if conflict.RemoteTimestamp.After(conflict.LocalTimestamp) {
				merged.Vendor = cloneStrPtr(remote.Vendor)
			}
		default:
			logger.Warn("skipping unknown conflict field", "field", string(f.Field), "item_id", conflict.ItemID)
		}
	}

	if conflict.RemoteTimestamp.After(merged.UpdatedAt) {
		merged.UpdatedAt = conflict.RemoteTimestamp
	}
	return merged
}

// ManualResolve completes a pending conflict with the record the user
// chose. Unknown ids yield ErrConflictNotFound.
func (r *ConflictResolver) ManualResolve(ctx context.Context, conflictID string, chosen *TeamData) (*TeamData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conflict, err := r.findPendingLocked(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	winner := chosen.Clone()
	return winner, r.finishLocked(ctx, conflict, StrategyManual)
}

// Dismiss discards a pending conflict without applying either side. The
// dismissal is still recorded in the history.
func (r *ConflictResolver) Dismiss(ctx context.Context, conflictID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conflict, err := r.findPendingLocked(ctx, conflictID)
	if err != nil {
		return err
	}

	if err := r.store.DeletePendingConflict(ctx, conflictID); err != nil {
		return err
	}

	now := time.Now()
	conflict.Status = ConflictDismissed
	conflict.ResolvedAt = &now
	if err := r.store.AppendResolvedConflict(ctx, conflict); err != nil {
		return err
	}

	if r.hub != nil {
		r.hub.Publish(Event{Type: EventConflictResolved, Conflict: conflict})
	}
	r.logger.Info("conflict dismissed", "conflict_id", conflictID, "item_id", conflict.ItemID)
	return nil
}

func (r *ConflictResolver) findPendingLocked(ctx context.Context, conflictID string) (*DataConflict, error) {
	pending, err := r.store.ListPendingConflicts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range pending {
		if c.ID == conflictID {
			return c, nil
		}
	}
	return nil, ErrConflictNotFound
}

func (r *ConflictResolver) finishLocked(ctx context.Context, conflict *DataConflict, strategy ResolutionStrategy) error {
	now := time.Now()
	conflict.Status = ConflictResolved
	conflict.Strategy = strategy
	conflict.ResolvedAt = &now

	// The conflict may have been parked for manual resolution earlier; a
	// resolved conflict must never remain in the pending list.
	if err := r.store.DeletePendingConflict(ctx, conflict.ID); err != nil {
		return err
	}
	if err := r.store.AppendResolvedConflict(ctx, conflict); err != nil {
		return err
	}

	if r.hub != nil {
		r.hub.Publish(Event{Type: EventConflictResolved, Conflict: conflict})
	}
	r.logger.Info("conflict resolved",
		"conflict_id", conflict.ID,
		"item_id", conflict.ItemID,
		"strategy", string(strategy),
		"fields", len(conflict.Fields))
	return nil
}

// ActiveConflicts returns conflicts awaiting manual resolution.
func (r *ConflictResolver) ActiveConflicts(ctx context.Context) ([]*DataConflict, error) {
	return r.store.ListPendingConflicts(ctx)
}

// ResolvedConflicts returns the bounded resolution history, newest first.
func (r *ConflictResolver) ResolvedConflicts(ctx context.Context) ([]*DataConflict, error) {
	return r.store.ListResolvedConflicts(ctx)
}
