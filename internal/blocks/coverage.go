package blocks

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/docsight/pkg/models"
)

const (
	// ScoreThreshold is the minimum term score for a block to be suggested.
	ScoreThreshold = 2.0
	// DefaultMaxAdd caps how many scored blocks coverage may add.
	DefaultMaxAdd = 10

	preferredPageBonus  = 1.5
	shortContentPenalty = 0.5
	shortContentRunes   = 20
	minTermRunes        = 2
)

var termRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// ExtractTerms lowercases the query and returns its word-like tokens of at
// least two runes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, t := range termRe.FindAllString(strings.ToLower(query), -1) {
		if utf8.RuneCountInString(t) >= minTermRunes {
			terms = append(terms, t)
		}
	}
	return terms
}

// Score rates a block against query terms: one point per term contained in
// the lowercased content, a bonus when the block sits on a preferred page
// and a penalty for very short content.
func Score(b models.Block, terms []string, preferredPages map[int]bool) float64 {
	content := strings.ToLower(b.ContentRaw)
	var score float64
	for _, t := range terms {
		if strings.Contains(content, t) {
			score++
		}
	}
	if preferredPages[b.PageNumber] {
		score += preferredPageBonus
	}
	if utf8.RuneCountInString(b.ContentRaw) < shortContentRunes {
		score -= shortContentPenalty
	}
	return score
}

// LinkedClosure expands selected with link references in both directions
// until a fixpoint: blocks referenced by a selected block join the set, and
// so do blocks referencing a selected one. The returned IDs are the newly
// added ones in document order.
func LinkedClosure(all []models.Block, selected map[string]bool) []string {
	inSet := make(map[string]bool, len(selected))
	for id := range selected {
		inSet[id] = true
	}

	byID := make(map[string]models.Block, len(all))
	incoming := make(map[string][]string)
	for _, b := range all {
		byID[b.ID] = b
		for _, target := range b.LinkedBlockIDs {
			incoming[target] = append(incoming[target], b.ID)
		}
	}

	for changed := true; changed; {
		changed = false
		for id := range inSet {
			if b, ok := byID[id]; ok {
				for _, target := range b.LinkedBlockIDs {
					if _, exists := byID[target]; exists && !inSet[target] {
						inSet[target] = true
						changed = true
					}
				}
			}
			for _, src := range incoming[id] {
				if !inSet[src] {
					inSet[src] = true
					changed = true
				}
			}
		}
	}

	var added []string
	for _, b := range all {
		if inSet[b.ID] && !selected[b.ID] {
			added = append(added, b.ID)
		}
	}
	return added
}

// SuggestAdditional scores the not yet selected TEXT and TABLE blocks against
// the query and returns up to maxAdd of them with score at or above
// ScoreThreshold, best first. Ties keep document order.
func SuggestAdditional(all []models.Block, selected map[string]bool, query string, preferredPages []int, maxAdd int) []models.Block {
	if maxAdd <= 0 {
		maxAdd = DefaultMaxAdd
	}
	terms := ExtractTerms(query)
	if len(terms) == 0 {
		return nil
	}
	pages := make(map[int]bool, len(preferredPages))
	for _, p := range preferredPages {
		pages[p] = true
	}

	type scored struct {
		block models.Block
		score float64
	}
	var candidates []scored
	for _, b := range all {
		if selected[b.ID] || b.Kind == models.BlockImage {
			continue
		}
		if s := Score(b, terms, pages); s >= ScoreThreshold {
			candidates = append(candidates, scored{block: b, score: s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxAdd {
		candidates = candidates[:maxAdd]
	}
	out := make([]models.Block, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.block)
	}
	return out
}

// Augmented is the outcome of a coverage pass over a collector selection.
type Augmented struct {
	// Added holds the blocks joined to the selection, closure additions
	// first, then scored suggestions.
	Added []models.Block
	// ImageRequests are synthesised render requests for IMAGE blocks that
	// entered the selection and were not already requested.
	ImageRequests []models.ImageRequest
}

// Augment widens a collector block selection: it closes the set under link
// references, adds high-scoring unselected blocks and synthesises medium
// priority render requests for IMAGE blocks the pass pulled in.
func Augment(all []models.Block, selectedIDs []string, requested []models.ImageRequest, query string, preferredPages []int, maxAdd int) Augmented {
	selected := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}
	byID := make(map[string]models.Block, len(all))
	for _, b := range all {
		byID[b.ID] = b
	}

	var added []models.Block
	for _, id := range LinkedClosure(all, selected) {
		added = append(added, byID[id])
		selected[id] = true
	}
	added = append(added, SuggestAdditional(all, selected, query, preferredPages, maxAdd)...)
	for _, b := range added {
		selected[b.ID] = true
	}

	alreadyRequested := make(map[string]bool, len(requested))
	for _, r := range requested {
		alreadyRequested[r.BlockID] = true
	}
	var reqs []models.ImageRequest
	for _, b := range added {
		if b.Kind == models.BlockImage && !alreadyRequested[b.ID] {
			alreadyRequested[b.ID] = true
			reqs = append(reqs, models.ImageRequest{
				BlockID:  b.ID,
				Reason:   "coverage-check",
				Priority: models.PriorityMedium,
			})
		}
	}
	return Augmented{Added: added, ImageRequests: reqs}
}
