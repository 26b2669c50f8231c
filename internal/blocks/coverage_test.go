package blocks

import (
	"reflect"
	"testing"

	"github.com/haasonsaas/docsight/pkg/models"
)

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"lowercases", "Pump FLOW Rate", []string{"pump", "flow", "rate"}},
		{"drops single runes", "a pump b", []string{"pump"}},
		{"keeps digits", "DN 150 pipe", []string{"dn", "150", "pipe"}},
		{"unicode words", "расход насоса", []string{"расход", "насоса"}},
		{"empty", "  ?! ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTerms(tt.query); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractTerms(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestScore(t *testing.T) {
	terms := []string{"pump", "flow", "rate"}
	tests := []struct {
		name  string
		block models.Block
		pages map[int]bool
		want  float64
	}{
		{
			name:  "two hits",
			block: models.Block{ContentRaw: "The pump flow is steady over the cycle.", PageNumber: 3},
			want:  2,
		},
		{
			name:  "preferred page bonus",
			block: models.Block{ContentRaw: "The pump runs at half speed today.", PageNumber: 2},
			pages: map[int]bool{2: true},
			want:  2.5,
		},
		{
			name:  "short content penalty",
			block: models.Block{ContentRaw: "pump flow", PageNumber: 1},
			want:  1.5,
		},
		{
			name:  "no hits short",
			block: models.Block{ContentRaw: "n/a", PageNumber: 1},
			want:  -0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.block, terms, tt.pages); got != tt.want {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func closureFixture() []models.Block {
	return []models.Block{
		{ID: "AAAA-0001-AA1", Kind: models.BlockText, PageNumber: 1, LinkedBlockIDs: []string{"BBBB-0001-BB1"}},
		{ID: "BBBB-0001-BB1", Kind: models.BlockText, PageNumber: 1, LinkedBlockIDs: []string{"CCCC-0002-CC1"}},
		{ID: "CCCC-0002-CC1", Kind: models.BlockImage, PageNumber: 2},
		{ID: "DDDD-0002-DD1", Kind: models.BlockText, PageNumber: 2, LinkedBlockIDs: []string{"AAAA-0001-AA1"}},
		{ID: "EEEE-0003-EE1", Kind: models.BlockText, PageNumber: 3, LinkedBlockIDs: []string{"ZZZZ-9999-ZZ9"}},
	}
}

func TestLinkedClosure(t *testing.T) {
	all := closureFixture()
	tests := []struct {
		name     string
		selected []string
		want     []string
	}{
		{
			// A links B links C, D links A: selecting A pulls the whole chain
			// forward and D backward.
			name:     "both directions transitively",
			selected: []string{"AAAA-0001-AA1"},
			want:     []string{"BBBB-0001-BB1", "CCCC-0002-CC1", "DDDD-0002-DD1"},
		},
		{
			name:     "reverse only",
			selected: []string{"CCCC-0002-CC1"},
			want:     []string{"AAAA-0001-AA1", "BBBB-0001-BB1", "DDDD-0002-DD1"},
		},
		{
			name:     "unknown link target ignored",
			selected: []string{"EEEE-0003-EE1"},
			want:     nil,
		},
		{
			name:     "empty selection",
			selected: nil,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected := make(map[string]bool)
			for _, id := range tt.selected {
				selected[id] = true
			}
			got := LinkedClosure(all, selected)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LinkedClosure = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuggestAdditional(t *testing.T) {
	all := []models.Block{
		{ID: "TXT1-0001-AA1", Kind: models.BlockText, PageNumber: 1, ContentRaw: "The pump flow rate is listed in the schedule below."},
		{ID: "TXT2-0002-AA1", Kind: models.BlockText, PageNumber: 2, ContentRaw: "The pump supplier and warranty terms are unchanged."},
		{ID: "TXT3-0003-AA1", Kind: models.BlockText, PageNumber: 3, ContentRaw: "General notes about the building envelope."},
		{ID: "IMG1-0001-AA1", Kind: models.BlockImage, PageNumber: 1, ContentRaw: "pump flow rate diagram with annotations"},
		{ID: "TXT4-0004-AA1", Kind: models.BlockText, PageNumber: 4, ContentRaw: "pump flow"},
	}
	query := "pump flow rate"

	t.Run("threshold and ordering", func(t *testing.T) {
		// TXT1 scores 3, TXT2 scores 1+1.5 on the preferred page, TXT3
		// scores 0, IMG1 is skipped, TXT4 loses the short content penalty.
		got := SuggestAdditional(all, nil, query, []int{2}, 10)
		ids := blockIDs(got)
		want := []string{"TXT1-0001-AA1", "TXT2-0002-AA1"}
		if !reflect.DeepEqual(ids, want) {
			t.Errorf("suggested = %v, want %v", ids, want)
		}
	})

	t.Run("cap", func(t *testing.T) {
		got := SuggestAdditional(all, nil, query, []int{2}, 1)
		if len(got) != 1 || got[0].ID != "TXT1-0001-AA1" {
			t.Errorf("suggested = %v, want only TXT1-0001-AA1", blockIDs(got))
		}
	})

	t.Run("already selected excluded", func(t *testing.T) {
		got := SuggestAdditional(all, map[string]bool{"TXT1-0001-AA1": true}, query, []int{2}, 10)
		ids := blockIDs(got)
		want := []string{"TXT2-0002-AA1"}
		if !reflect.DeepEqual(ids, want) {
			t.Errorf("suggested = %v, want %v", ids, want)
		}
	})

	t.Run("no terms", func(t *testing.T) {
		if got := SuggestAdditional(all, nil, "?", nil, 10); got != nil {
			t.Errorf("suggested = %v, want nil", blockIDs(got))
		}
	})
}

func TestAugment(t *testing.T) {
	all := []models.Block{
		{ID: "TXT1-0001-AA1", Kind: models.BlockText, PageNumber: 1, ContentRaw: "Intro, see →IMG1-0001-AA1 for the plan.", LinkedBlockIDs: []string{"IMG1-0001-AA1"}},
		{ID: "IMG1-0001-AA1", Kind: models.BlockImage, PageNumber: 1, ContentRaw: "Plan of the pump room at basement level."},
		{ID: "TXT2-0002-AA1", Kind: models.BlockText, PageNumber: 2, ContentRaw: "The pump flow rate equals 42 cubic metres per hour."},
	}

	t.Run("closure plus suggestions plus image request", func(t *testing.T) {
		got := Augment(all, []string{"TXT1-0001-AA1"}, nil, "pump flow rate", nil, 10)
		ids := blockIDs(got.Added)
		want := []string{"IMG1-0001-AA1", "TXT2-0002-AA1"}
		if !reflect.DeepEqual(ids, want) {
			t.Fatalf("added = %v, want %v", ids, want)
		}
		if len(got.ImageRequests) != 1 {
			t.Fatalf("image requests = %d, want 1", len(got.ImageRequests))
		}
		req := got.ImageRequests[0]
		if req.BlockID != "IMG1-0001-AA1" || req.Reason != "coverage-check" || req.Priority != models.PriorityMedium {
			t.Errorf("unexpected image request: %+v", req)
		}
	})

	t.Run("already requested image not duplicated", func(t *testing.T) {
		requested := []models.ImageRequest{{BlockID: "IMG1-0001-AA1", Reason: "relevant"}}
		got := Augment(all, []string{"TXT1-0001-AA1"}, requested, "pump flow rate", nil, 10)
		if len(got.ImageRequests) != 0 {
			t.Errorf("image requests = %+v, want none", got.ImageRequests)
		}
	})

	t.Run("nothing to add", func(t *testing.T) {
		got := Augment(all, []string{"TXT1-0001-AA1", "IMG1-0001-AA1", "TXT2-0002-AA1"}, nil, "pump", nil, 10)
		if len(got.Added) != 0 || len(got.ImageRequests) != 0 {
			t.Errorf("expected empty augmentation, got %+v", got)
		}
	})
}

func blockIDs(list []models.Block) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.ID
	}
	return out
}
