package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/materials"
	"github.com/haasonsaas/docsight/internal/partial"
	"github.com/haasonsaas/docsight/internal/prompts"
	"github.com/haasonsaas/docsight/pkg/models"
)

// materialsPrompt renders the answerer's user turn once materials
// exist: intent, the materials payload and the question.
func (st *runState) materialsPrompt() string {
	var b strings.Builder
	if note := intentNote(st.intent); note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}
	payload, _ := json.Marshal(st.materials)
	fmt.Fprintf(&b, "MATERIALS_JSON:\n%s\n\nUSER QUESTION:\n%s", payload, st.question)
	return b.String()
}

// streamAnswer runs one schema-constrained answerer pass, streaming the
// answer_markdown field as llm_token deltas while the raw JSON
// accumulates. Thought summaries pass through as llm_thinking. The
// decoded answer has its list fields normalised to non-nil.
func (s *Service) streamAnswer(ctx context.Context, st *runState, tier, phase, system, user string) (*models.AnswerResponse, error) {
	model := s.modelFor(tier, st.settings)
	st.dlog.Request(phase, model, system, user, fileNames(st.files))

	chunks, err := s.llm.GenerateStream(ctx, llm.Request{
		Model:       model,
		Tier:        tier,
		Phase:       phase,
		System:      system,
		Message:     user,
		Files:       st.files,
		Schema:      llm.AnswerSchema,
		Temperature: st.settings.Temperature,
		TopP:        st.settings.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %s: %w", phase, err)
	}

	extractor := partial.NewExtractor()
	var raw strings.Builder
	for chunk := range chunks {
		switch chunk.Type {
		case llm.ChunkThinking:
			if perr := st.stream.Publish(ctx, models.EventLLMThinking, models.ThinkingData{Delta: chunk.Text}); perr != nil {
				return nil, perr
			}
		case llm.ChunkText:
			raw.WriteString(chunk.Text)
			delta, accumulated := extractor.Feed(raw.String())
			if delta == "" {
				continue
			}
			if perr := st.stream.Publish(ctx, models.EventLLMToken, models.TokenData{Delta: delta, Accumulated: accumulated}); perr != nil {
				return nil, perr
			}
		case llm.ChunkDone:
			if chunk.Err != nil {
				return nil, fmt.Errorf("agent: %s: %w", phase, chunk.Err)
			}
		}
	}
	text := raw.String()
	st.dlog.Response(phase, text)

	var answer models.AnswerResponse
	if err := llm.AnswerSchema.Decode(text, &answer); err != nil {
		st.dlog.Section("VALIDATION_ERROR", err.Error())
		return nil, fmt.Errorf("agent: %s: %w", phase, err)
	}
	return &answer, nil
}

// qualityGate forces evidence follow-ups when the intent asked for
// visual detail but the answer neither requested follow-ups nor cited a
// rendered region. With no images on hand it volunteers IMAGE blocks;
// otherwise it asks the ROI requester. preserve keeps the original
// answer_markdown and grafts only the follow-up fields onto it.
func (s *Service) qualityGate(ctx context.Context, st *runState, answer *models.AnswerResponse, tier string, preserve bool) {
	if !st.intent.RequiresVisualDetail || answer.HasFollowups() || answer.HasROICitation() {
		return
	}
	if st.materials == nil || len(st.materials.Images) == 0 {
		if suggested := st.suggestImages(followupImageLimit); len(suggested) > 0 {
			answer.FollowupImages = suggested
			answer.NeedsMoreEvidence = true
			st.dlog.Section("QUALITY_GATE", map[string]any{
				"action":          "followup_images",
				"reason":          "requires_visual_detail_without_evidence",
				"followup_images": suggested,
			})
			return
		}
	}
	roi, err := s.requestROIFollowup(ctx, st, tier)
	if err != nil || roi == nil {
		answer.NeedsMoreEvidence = true
		return
	}
	valid, invalid := filterROIs(roi.FollowupROIs)
	if len(valid) == 0 && len(roi.FollowupImages) == 0 {
		st.dlog.Section("QUALITY_GATE", map[string]any{
			"action":                "skip_invalid_rois",
			"reason":                "all_rois_invalid_block_id",
			"filtered_invalid_rois": invalid,
		})
		return
	}
	if preserve {
		answer.FollowupROIs = valid
		answer.FollowupImages = roi.FollowupImages
		answer.NeedsMoreEvidence = true
	} else {
		roi.FollowupROIs = valid
		*answer = *roi
	}
	st.dlog.Section("QUALITY_GATE", map[string]any{
		"action":                "followup_rois",
		"reason":                "requires_visual_detail_without_evidence",
		"followup_rois":         valid,
		"followup_images":       answer.FollowupImages,
		"filtered_invalid_rois": invalid,
	})
}

// requestROIFollowup asks the ROI requester, on the given tier, which
// regions would close the evidence gap. A missing prompt or an invalid
// response returns nil.
func (s *Service) requestROIFollowup(ctx context.Context, st *runState, tier string) (*models.AnswerResponse, error) {
	system := s.prompts.Get(ctx, prompts.ROIRequest)
	if system == "" {
		return nil, nil
	}
	user := st.materialsPrompt()
	model := s.modelFor(tier, st.settings)

	st.dlog.Request("roi_request", model, system, user, fileNames(st.files))
	text, err := s.llm.GenerateJSON(ctx, llm.Request{
		Model:       model,
		Tier:        tier,
		Phase:       "roi_request",
		System:      system,
		Message:     user,
		Files:       st.files,
		Schema:      llm.AnswerSchema,
		Temperature: st.settings.Temperature,
		TopP:        st.settings.TopP,
	})
	if err != nil {
		s.log.Warn(ctx, "roi request failed", "error", err)
		return nil, err
	}
	st.dlog.Response("roi_request", text)

	var roi models.AnswerResponse
	if err := llm.AnswerSchema.Decode(text, &roi); err != nil {
		s.log.Warn(ctx, "roi response decode failed", "error", err)
		return nil, err
	}
	return &roi, nil
}

// suggestImages returns up to limit IMAGE block IDs not yet rendered
// into the materials, in document order.
func (st *runState) suggestImages(limit int) []string {
	rendered := make(map[string]bool)
	if st.materials != nil {
		for _, img := range st.materials.Images {
			rendered[img.BlockID] = true
		}
	}
	var out []string
	for _, b := range st.ordered {
		if b.Kind != models.BlockImage || rendered[b.ID] {
			continue
		}
		out = append(out, b.ID)
		if len(out) == limit {
			break
		}
	}
	return out
}

// filterROIs drops follow-up regions whose block ID does not match the
// canonical pattern, normalising the rest.
func filterROIs(rois []models.ROIRequest) (valid []models.ROIRequest, invalid int) {
	for _, r := range rois {
		id := models.NormalizeBlockID(r.BlockID)
		if !models.ValidBlockID(id) {
			invalid++
			continue
		}
		r.BlockID = id
		valid = append(valid, r)
	}
	return valid, invalid
}

// applyFollowups resolves an answer's follow-up requests into a
// materials rebuild. It reports whether new evidence files were
// produced; without them another answer pass would see the same inputs
// and the loop stops.
func (s *Service) applyFollowups(ctx context.Context, st *runState, answer *models.AnswerResponse, reason string) (bool, error) {
	st.dlog.Section("FOLLOWUP_REQUESTS", map[string]any{
		"followup_images": answer.FollowupImages,
		"followup_rois":   answer.FollowupROIs,
	})

	imageReqs := make([]models.ImageRequest, 0, len(answer.FollowupImages))
	for _, id := range answer.FollowupImages {
		imageReqs = append(imageReqs, models.ImageRequest{
			BlockID:  id,
			Reason:   "followup",
			Priority: models.PriorityHigh,
		})
	}
	rois, invalid := filterROIs(answer.FollowupROIs)
	if invalid > 0 {
		st.dlog.Section("INVALID_BLOCK_ID", map[string]any{
			"source":  "followup_rois",
			"dropped": invalid,
		})
	}

	if err := st.stream.Publish(ctx, models.EventPhaseStarted, models.PhaseStartedData{
		Phase: "tool_execution", Description: "Rendering evidence",
	}); err != nil {
		return false, err
	}

	result, err := s.materials.Build(ctx, materials.Request{
		ChatID:       st.req.ChatID,
		UserID:       st.req.UserID,
		DocumentIDs:  st.docIDs,
		Selected:     st.selected,
		Images:       imageReqs,
		ROIs:         rois,
		BlockMap:     st.blockMap,
		HTMLCropMap:  st.htmlCrops,
		AttachedKeys: st.attachedKeys(),
		Facts:        st.facts,
		Existing:     st.materials,
		Reason:       reason,
	}, st.stream, st.dlog)
	if err != nil {
		return false, err
	}
	st.materials = &result.Materials
	st.dlog.Section("MATERIALS_JSON_UPDATE", st.materials)
	st.files = mergeFileRefs(st.attachments, result.Files)
	if len(result.Files) == 0 {
		s.log.Warn(ctx, "follow-up produced no evidence files", "reason", reason)
		return false, nil
	}
	return true, nil
}
