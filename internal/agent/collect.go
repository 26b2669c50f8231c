package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/docsight/internal/blocks"
	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/pkg/models"
)

// coverageMaxAdd caps how many unselected blocks the coverage pass can
// join to one document's extractor selection.
const coverageMaxAdd = 10

// collectDocument runs the flash extractor over one document and widens
// its selection with the coverage pass. The phase label distinguishes
// compare sides in the dialog log.
func (s *Service) collectDocument(ctx context.Context, st *runState, p *documentPayload, phase string) (*models.FlashCollectorResponse, error) {
	system := s.prompts.WithHTMLNote(s.prompts.Extractor(ctx, st.settings), st.hasHTML)
	parts := []string{p.fullText()}
	if note := intentNote(st.intent); note != "" {
		parts = append(parts, note)
	}
	parts = append(parts, "USER QUESTION:\n"+st.req.Message)
	user := strings.Join(parts, "\n\n")
	model := s.modelFor(llm.TierFlash, st.settings)

	st.dlog.Request(phase, model, system, user, nil)
	text, err := s.llm.GenerateJSON(ctx, llm.Request{
		Model:       model,
		Tier:        llm.TierFlash,
		Phase:       phase,
		System:      system,
		Message:     user,
		Schema:      llm.FlashCollectorSchema,
		Temperature: st.settings.Temperature,
		TopP:        st.settings.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: extract %s: %w", p.docID, err)
	}
	st.dlog.Response(phase, text)

	var resp models.FlashCollectorResponse
	if err := llm.FlashCollectorSchema.Decode(text, &resp); err != nil {
		return nil, fmt.Errorf("agent: extract %s: %w", p.docID, err)
	}
	s.applyCoverage(st, p, &resp)
	return &resp, nil
}

// applyCoverage closes the selection under block links and joins
// high-scoring unselected blocks, synthesising render requests for
// IMAGE blocks the pass pulls in.
func (s *Service) applyCoverage(st *runState, p *documentPayload, resp *models.FlashCollectorResponse) {
	selectedIDs := make([]string, 0, len(resp.SelectedBlocks))
	var preferredPages []int
	for _, b := range resp.SelectedBlocks {
		selectedIDs = append(selectedIDs, b.BlockID)
		if b.PageNumber > 0 {
			preferredPages = append(preferredPages, b.PageNumber)
		}
	}
	aug := blocks.Augment(p.blocks, selectedIDs, resp.RequestedImages, st.req.Message, preferredPages, coverageMaxAdd)
	for _, b := range aug.Added {
		resp.SelectedBlocks = append(resp.SelectedBlocks, selectedBlock(b))
	}
	resp.RequestedImages = append(resp.RequestedImages, aug.ImageRequests...)

	st.dlog.Section("COVERAGE_CHECK", map[string]any{
		"doc_id":           p.docID,
		"selected_blocks":  len(resp.SelectedBlocks),
		"requested_images": len(resp.RequestedImages),
		"requested_rois":   len(resp.RequestedROIs),
	})
}

// selectBlock converts a parsed block into a selection entry.
func selectedBlock(b models.Block) models.SelectedBlock {
	return models.SelectedBlock{
		BlockID:    b.ID,
		Kind:       b.Kind,
		PageNumber: max(1, b.PageNumber),
		ContentRaw: b.ContentRaw,
	}
}

// selectAll turns the whole parsed block list into a selection; the
// simple profile feeds the answerer every block instead of extracting.
func selectAll(list []models.Block) []models.SelectedBlock {
	if len(list) == 0 {
		return nil
	}
	out := make([]models.SelectedBlock, 0, len(list))
	for _, b := range list {
		out = append(out, selectedBlock(b))
	}
	return out
}

// indexSide fills the block index from one compare side, labelling
// every block's content with its side so backfilled materials carry the
// label too.
func indexSide(st *runState, p *documentPayload, side string) {
	if st.blockMap == nil {
		st.blockMap = make(map[string]models.Block)
	}
	if st.sides == nil {
		st.sides = make(map[string]string)
	}
	prefix := fmt.Sprintf("[%s: %s (%s)] ", side, p.name, p.docID)
	for _, b := range p.blocks {
		if _, ok := st.blockMap[b.ID]; ok {
			continue
		}
		b.ContentRaw = prefix + b.ContentRaw
		st.blockMap[b.ID] = b
		st.ordered = append(st.ordered, b)
		st.sides[b.ID] = side
	}
}

// labelSide rewrites a compare selection so every block names the side
// and document it came from, and records the side per block ID.
func labelSide(st *runState, p *documentPayload, side string, selected []models.SelectedBlock) []models.SelectedBlock {
	if st.sides == nil {
		st.sides = make(map[string]string)
	}
	prefix := fmt.Sprintf("[%s: %s (%s)] ", side, p.name, p.docID)
	out := make([]models.SelectedBlock, 0, len(selected))
	for _, b := range selected {
		b.ContentRaw = prefix + b.ContentRaw
		st.sides[b.BlockID] = side
		out = append(out, b)
	}
	return out
}
