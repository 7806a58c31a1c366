package shelfsync

import (
	"testing"
	"time"
)

func TestNotesEqual(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		a, b []Note
		want bool
	}{
		{"both empty", nil, nil, true},
		{
			"identical",
			[]Note{{ID: "n1", Content: "a", CreatedAt: now}},
			[]Note{{ID: "n1", Content: "a", CreatedAt: now}},
			true,
		},
		{
			"count differs",
			[]Note{{ID: "n1", Content: "a"}},
			nil,
			false,
		},
		{
			"id set differs",
			[]Note{{ID: "n1", Content: "a"}},
			[]Note{{ID: "n2", Content: "a"}},
			false,
		},
		{
			"content differs",
			[]Note{{ID: "n1", Content: "a"}},
			[]Note{{ID: "n1", Content: "b"}},
			false,
		},
		{
			"completion differs",
			[]Note{{ID: "n1", Content: "a"}},
			[]Note{{ID: "n1", Content: "a", Complete: true}},
			false,
		},
		{
			"order does not matter",
			[]Note{{ID: "n1", Content: "a"}, {ID: "n2", Content: "b"}},
			[]Note{{ID: "n2", Content: "b"}, {ID: "n1", Content: "a"}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := notesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("notesEqual = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeNotesUnionAndRecency(t *testing.T) {
	base := time.Now()

	local := []Note{
		{ID: "n1", Content: "local edit", CreatedAt: base, UpdatedAt: base.Add(2 * time.Minute)},
		{ID: "n2", Content: "local only", CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)},
	}
	remote := []Note{
		{ID: "n1", Content: "remote edit", CreatedAt: base, UpdatedAt: base.Add(time.Minute)},
		{ID: "n3", Content: "remote only", CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(2 * time.Second)},
	}

	merged := mergeNotes(local, remote)
	if len(merged) != 3 {
		t.Fatalf("expected union of 3 notes, got %d", len(merged))
	}
	// n1: the later edit wins.
	if merged[0].ID != "n1" || merged[0].Content != "local edit" {
		t.Errorf("expected later local edit of n1 first, got %+v", merged[0])
	}
	// Ordered by creation time.
	if merged[1].ID != "n2" || merged[2].ID != "n3" {
		t.Errorf("expected creation order n1,n2,n3, got %s,%s,%s", merged[0].ID, merged[1].ID, merged[2].ID)
	}
}

func TestMergeNotesDeterministicTiebreak(t *testing.T) {
	base := time.Now()
	a := []Note{{ID: "b-note", Content: "x", CreatedAt: base, UpdatedAt: base}}
	b := []Note{{ID: "a-note", Content: "y", CreatedAt: base, UpdatedAt: base}}

	first := mergeNotes(a, b)
	second := mergeNotes(a, b)
	if first[0].ID != second[0].ID {
		t.Errorf("tiebreak not deterministic: %s vs %s", first[0].ID, second[0].ID)
	}
	if first[0].ID != "a-note" {
		t.Errorf("expected id tiebreak ascending, got %s first", first[0].ID)
	}
}

func TestTeamDataClone(t *testing.T) {
	orig := &TeamData{
		ItemID:       "ITEM-1",
		CaseUPC:      strPtr("012345678905"),
		CaseCost:     float64Ptr(9.99),
		CaseQuantity: intPtr(6),
		Vendor:       strPtr("Acme"),
		Notes:        []Note{{ID: "n1", Content: "a"}},
	}

	clone := orig.Clone()
	*clone.CaseUPC = "changed"
	*clone.CaseCost = 1.00
	clone.Notes[0].Content = "b"

	if *orig.CaseUPC != "012345678905" {
		t.Error("clone shares CaseUPC pointer with original")
	}
	if *orig.CaseCost != 9.99 {
		t.Error("clone shares CaseCost pointer with original")
	}
	if orig.Notes[0].Content != "a" {
		t.Error("clone shares notes slice with original")
	}
}

func TestTeamDataCloneNil(t *testing.T) {
	var d *TeamData
	if d.Clone() != nil {
		t.Error("expected nil clone of nil data")
	}
}
