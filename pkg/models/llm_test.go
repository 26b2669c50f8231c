package models

import "testing"

func TestAnswerResponse_HasFollowups(t *testing.T) {
	tests := []struct {
		name string
		ans  AnswerResponse
		want bool
	}{
		{"none", AnswerResponse{}, false},
		{"images", AnswerResponse{FollowupImages: []string{"AAAA-BBBB-001"}}, true},
		{"rois", AnswerResponse{FollowupROIs: []ROIRequest{{BlockID: "AAAA-BBBB-001", BBoxNorm: BBox{0, 0, 1, 1}}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ans.HasFollowups(); got != tt.want {
				t.Errorf("HasFollowups() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswerResponse_HasROICitation(t *testing.T) {
	ans := AnswerResponse{Citations: []Citation{
		{BlockID: "AAAA-BBBB-001", Kind: CiteTextBlock},
		{BlockID: "AAAA-BBBB-002", Kind: CiteImageBlock},
	}}
	if ans.HasROICitation() {
		t.Error("no roi citation expected")
	}
	ans.Citations = append(ans.Citations, Citation{BlockID: "AAAA-BBBB-002", Kind: CiteROI})
	if !ans.HasROICitation() {
		t.Error("roi citation expected")
	}
}

func TestDocumentFacts_Empty(t *testing.T) {
	var nilFacts *DocumentFacts
	if !nilFacts.Empty() {
		t.Error("nil facts should be empty")
	}
	if !(&DocumentFacts{}).Empty() {
		t.Error("zero facts should be empty")
	}
	facts := &DocumentFacts{Facts: []Fact{{Key: "rated_voltage", Value: "10", Unit: "kV"}}}
	if facts.Empty() {
		t.Error("populated facts should not be empty")
	}
}
