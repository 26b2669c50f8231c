package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/prompts"
	"github.com/haasonsaas/docsight/pkg/models"
)

// extractFacts pulls key-value facts and table structures out of the
// selected TEXT and TABLE blocks. The pass only runs when a
// document_facts prompt resolves; any failure yields nil and the
// pipeline continues without facts.
func (s *Service) extractFacts(ctx context.Context, st *runState, selected []models.SelectedBlock, tier string) *models.DocumentFacts {
	system := s.prompts.Get(ctx, prompts.DocumentFacts)
	if system == "" || len(selected) == 0 {
		return nil
	}
	source := factsContext(selected, factsMaxChars)
	if source == "" {
		return nil
	}
	var b strings.Builder
	if note := intentNote(st.intent); note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "EXTRACTION_SOURCE:\n%s\n\nUSER QUESTION:\n%s", source, st.req.Message)
	user := b.String()
	model := s.modelFor(tier, st.settings)

	st.dlog.Request("document_facts", model, system, user, nil)
	text, err := s.llm.GenerateJSON(ctx, llm.Request{
		Model:       model,
		Tier:        tier,
		Phase:       "document_facts",
		System:      system,
		Message:     user,
		Schema:      llm.FactsSchema,
		Temperature: st.settings.Temperature,
		TopP:        st.settings.TopP,
	})
	if err != nil {
		s.log.Warn(ctx, "facts extraction failed", "error", err)
		return nil
	}
	st.dlog.Response("document_facts", text)

	var facts models.DocumentFacts
	if err := llm.FactsSchema.Decode(text, &facts); err != nil {
		s.log.Warn(ctx, "facts decode failed", "error", err)
		return nil
	}
	if facts.Empty() {
		return nil
	}
	st.dlog.Section("DOCUMENT_FACTS", facts)
	return &facts
}

// factsContext builds the compact block context handed to the
// extractor, capped at maxChars.
func factsContext(selected []models.SelectedBlock, maxChars int) string {
	var b strings.Builder
	for _, block := range selected {
		if block.Kind != models.BlockText && block.Kind != models.BlockTable {
			continue
		}
		body := strings.TrimSpace(block.ContentRaw)
		if body == "" {
			continue
		}
		chunk := fmt.Sprintf("[BLOCK %s | page %d | %s]\n%s\n\n", block.BlockID, block.PageNumber, block.Kind, body)
		if b.Len()+len(chunk) > maxChars {
			break
		}
		b.WriteString(chunk)
	}
	return strings.TrimSpace(b.String())
}
