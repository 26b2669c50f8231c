package models

import "testing"

func TestValidBlockID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"canonical", "AAAA-BBBB-001", true},
		{"digits and letters", "A1B2-C3D4-E5F", true},
		{"lowercase rejected", "aaaa-bbbb-001", false},
		{"too short", "AAA-BBBB-001", false},
		{"too long tail", "AAAA-BBBB-0011", false},
		{"missing dash", "AAAABBBB-001", false},
		{"empty", "", false},
		{"path-like", "crops/AAAA-BBBB-001.pdf", false},
		{"whitespace", " AAAA-BBBB-001", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidBlockID(tt.id); got != tt.want {
				t.Errorf("ValidBlockID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNormalizeBlockID(t *testing.T) {
	if got := NormalizeBlockID("  aaaa-bbbb-001 "); got != "AAAA-BBBB-001" {
		t.Errorf("NormalizeBlockID = %q, want AAAA-BBBB-001", got)
	}
	if !ValidBlockID(NormalizeBlockID("zzzz-zzzz-002")) {
		t.Error("normalised lowercase id should validate")
	}
}

func TestBBox_Valid(t *testing.T) {
	tests := []struct {
		name string
		box  BBox
		want bool
	}{
		{"full page", BBox{0, 0, 1, 1}, true},
		{"interior", BBox{0.1, 0.2, 0.4, 0.6}, true},
		{"zero width", BBox{0.5, 0, 0.5, 1}, false},
		{"inverted x", BBox{0.8, 0, 0.2, 1}, false},
		{"zero height", BBox{0, 0.3, 1, 0.3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBBox_Clamp(t *testing.T) {
	got := BBox{-0.1, 0, 1.1, 1}.Clamp()
	want := BBox{0, 0, 1, 1}
	if got != want {
		t.Errorf("Clamp() = %v, want %v", got, want)
	}
	if !got.Valid() {
		t.Error("clamped full-page box should stay valid")
	}
}

func TestBBox_Key(t *testing.T) {
	a := BBox{0.123456, 0.2, 0.99999999, 1}
	b := BBox{0.12351, 0.2, 1.0, 1} // rounds to the same 4 decimals
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() != "0.1235,0.2000,1.0000,1.0000" {
		t.Errorf("Key() = %q", a.Key())
	}
}
