package shelfsync

import (
	"sort"
	"time"
)

// Note is a single team note attached to a catalog item.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TeamData is the team-shared annotation record for one catalog item. It is
// the only bidirectionally-edited record in the system and therefore the
// sole subject of conflict detection. Exactly one record exists per item id;
// records are never hard-deleted, only soft-flagged via Discontinued.
type TeamData struct {
	ItemID       string     `json:"item_id"`
	CaseUPC      *string    `json:"case_upc,omitempty"`
	CaseCost     *float64   `json:"case_cost,omitempty"`
	CaseQuantity *int       `json:"case_quantity,omitempty"`
	Vendor       *string    `json:"vendor,omitempty"`
	Discontinued bool       `json:"discontinued"`
	Notes        []Note     `json:"notes,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
	LastSyncAt   time.Time  `json:"last_sync_at,omitempty"`
	Owner        string     `json:"owner,omitempty"`
}

// Clone returns a deep copy of the record.
func (d *TeamData) Clone() *TeamData {
	if d == nil {
		return nil
	}
	out := &TeamData{
		ItemID:       d.ItemID,
		CaseUPC:      cloneStrPtr(d.CaseUPC),
		CaseCost:     cloneFloat64Ptr(d.CaseCost),
		CaseQuantity: cloneIntPtr(d.CaseQuantity),
		Vendor:       cloneStrPtr(d.Vendor),
		Discontinued: d.Discontinued,
		UpdatedAt:    d.UpdatedAt,
		LastSyncAt:   d.LastSyncAt,
		Owner:        d.Owner,
	}
	if len(d.Notes) > 0 {
		out.Notes = make([]Note, len(d.Notes))
		copy(out.Notes, d.Notes)
	}
	return out
}

// notesEqual reports whether two note collections are equal under the
// conflict-detection rule: identical id-sets, identical count, and for
// every shared id equal content and completion flag.
func notesEqual(a, b []Note) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]Note, len(a))
	for _, n := range a {
		byID[n.ID] = n
	}
	for _, n := range b {
		other, ok := byID[n.ID]
		if !ok {
			return false
		}
		if other.Content != n.Content || other.Complete != n.Complete {
			return false
		}
	}
	return true
}

// mergeNotes unions two note collections by id, keeping for each id the
// version with the later per-note UpdatedAt. The merged collection is
// deterministically ordered by CreatedAt ascending.
func mergeNotes(local, remote []Note) []Note {
	byID := make(map[string]Note, len(local)+len(remote))
	for _, n := range local {
		byID[n.ID] = n
	}
	for _, n := range remote {
		existing, ok := byID[n.ID]
		if !ok || n.UpdatedAt.After(existing.UpdatedAt) {
			byID[n.ID] = n
		}
	}

	merged := make([]Note, 0, len(byID))
	for _, n := range byID {
		merged = append(merged, n)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}
