package models

import (
	"fmt"
	"regexp"
	"strings"
)

// BlockKind classifies a document block.
type BlockKind string

const (
	BlockText  BlockKind = "TEXT"
	BlockImage BlockKind = "IMAGE"
	BlockTable BlockKind = "TABLE"
)

// BlockIDPattern is the canonical block identifier shape. Identifiers that do
// not match are treated as hallucinated and dropped.
var BlockIDPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{3}$`)

// ValidBlockID reports whether id matches the canonical pattern.
func ValidBlockID(id string) bool {
	return BlockIDPattern.MatchString(id)
}

// Block is a typed unit of a parsed document.
type Block struct {
	ID             string    `json:"block_id"`
	Kind           BlockKind `json:"block_kind"`
	PageNumber     int       `json:"page_number"`
	ContentRaw     string    `json:"content_raw"`
	LinkedBlockIDs []string  `json:"linked_block_ids,omitempty"`
}

// BlockIndexEntry is one row of the blocks-index manifest. The manifest is
// the authoritative block_id → crop mapping for a document; field names
// follow the ingestion pipeline's wire format.
type BlockIndexEntry struct {
	ID        string `json:"id"`
	BlockType string `json:"block_type,omitempty"`
	PageIndex int    `json:"page_index,omitempty"`
	CropURL   string `json:"crop_url,omitempty"`
}

// BlocksIndex is the manifest document itself.
type BlocksIndex struct {
	Blocks []BlockIndexEntry `json:"blocks"`
}

// BBox is a normalised bounding box (x1, y1, x2, y2) in [0,1]^4.
type BBox [4]float64

// Valid reports whether the box has positive area and ordered corners.
func (b BBox) Valid() bool {
	return b[2] > b[0] && b[3] > b[1]
}

// Clamp returns the box with every coordinate clamped into [0,1].
func (b BBox) Clamp() BBox {
	out := b
	for i, v := range out {
		if v < 0 {
			out[i] = 0
		} else if v > 1 {
			out[i] = 1
		}
	}
	return out
}

// Round4 returns the box rounded to 4 decimals. Cache keys use the rounded
// form so float noise does not split entries.
func (b BBox) Round4() BBox {
	out := b
	for i, v := range out {
		out[i] = round4(v)
	}
	return out
}

// Key renders the rounded box as a stable string fragment for cache keys and
// dedup sets.
func (b BBox) Key() string {
	r := b.Round4()
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", r[0], r[1], r[2], r[3])
}

func round4(v float64) float64 {
	if v < 0 {
		return -round4(-v)
	}
	return float64(int64(v*10000+0.5)) / 10000
}

// NormalizeBlockID uppercases and trims an identifier before validation.
// The LLM occasionally echoes IDs with stray whitespace or lowered case.
func NormalizeBlockID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
