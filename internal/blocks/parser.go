// Package blocks parses the per-document Markdown block stream and augments
// LLM block selections with link closure and term-scored coverage.
package blocks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/docsight/pkg/models"
)

var (
	blockHeaderRe = regexp.MustCompile(`^###\s+BLOCK\s+\[(TEXT|IMAGE|TABLE)\]:\s+([A-Z0-9-]+)\s*$`)
	pageHeaderRe  = regexp.MustCompile(`^##\s+.*?(\d+)\s*$`)
	linkRe        = regexp.MustCompile(`→([A-Z0-9-]+)`)
)

// Parse walks the Markdown stream and builds the block list. Page numbers
// are inherited from the most recent page heading (default 1); content runs
// until the next block or page header and is newline-joined and trimmed.
func Parse(md string) []models.Block {
	var (
		out     []models.Block
		current *models.Block
		content []string
		page    = 1
	)

	flush := func() {
		if current == nil {
			return
		}
		raw := strings.TrimSpace(strings.Join(content, "\n"))
		current.ContentRaw = raw
		current.LinkedBlockIDs = ExtractLinks(raw)
		out = append(out, *current)
		current, content = nil, nil
	}

	for _, line := range strings.Split(md, "\n") {
		if m := blockHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &models.Block{
				ID:         m[2],
				Kind:       models.BlockKind(m[1]),
				PageNumber: page,
			}
			continue
		}
		if m := pageHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			if n, err := strconv.Atoi(m[1]); err == nil {
				page = n
			}
			continue
		}
		if current != nil {
			content = append(content, line)
		}
	}
	flush()
	return out
}

// ExtractLinks returns the ordered, deduplicated arrow-prefixed block
// references inside content.
func ExtractLinks(content string) []string {
	matches := linkRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Render serialises blocks back into the canonical Markdown stream. Parsing
// the output reproduces the same (id, kind, page, links, content) tuples.
func Render(list []models.Block) string {
	var b strings.Builder
	page := 0
	for _, blk := range list {
		if blk.PageNumber != page {
			page = blk.PageNumber
			fmt.Fprintf(&b, "## Page %d\n\n", page)
		}
		fmt.Fprintf(&b, "### BLOCK [%s]: %s\n\n", blk.Kind, blk.ID)
		if blk.ContentRaw != "" {
			b.WriteString(blk.ContentRaw)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// Index maps block IDs to their position in list.
func Index(list []models.Block) map[string]int {
	idx := make(map[string]int, len(list))
	for i, b := range list {
		idx[b.ID] = i
	}
	return idx
}
