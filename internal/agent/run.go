package agent

import (
	"context"
	"fmt"

	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/materials"
	"github.com/haasonsaas/docsight/internal/prompts"
	"github.com/haasonsaas/docsight/pkg/models"
)

// runSimple answers in one flash pass over the full document text. The
// whole parsed block list goes into the materials so the quality gate
// and follow-up loop can still pull renders when the intent needs them.
func (s *Service) runSimple(ctx context.Context, st *runState) (*models.Message, error) {
	fullContext := combineDocumentTexts(st.payloads, st.treeText)
	indexBlocks(st, st.payloads)
	s.classifyIntent(ctx, st, fullContext)

	st.selected = selectAll(st.ordered)
	st.facts = s.extractFacts(ctx, st, st.selected, llm.TierFlash)
	if len(st.selected) > 0 {
		if err := s.buildMaterials(ctx, st, nil, nil, "initial_materials"); err != nil {
			return nil, err
		}
	}

	system := s.prompts.WithHTMLNote(s.prompts.Answer(ctx, prompts.FlashAnswer, st.settings), st.hasHTML)
	for i := 1; i <= maxAnswerIterations; i++ {
		user := fullContext
		if st.hasHTML {
			user += "\n\n" + htmlAttachmentNote
		}
		if st.materials != nil {
			user += "\n\n" + st.materialsPrompt()
		} else {
			user += "\n\nUSER QUESTION:\n" + st.question
		}

		answer, err := s.streamAnswer(ctx, st, llm.TierFlash, fmt.Sprintf("simple_answer_%d", i), system, user)
		if err != nil {
			return nil, err
		}
		s.qualityGate(ctx, st, answer, llm.TierFlash, true)

		if answer.HasFollowups() && i < maxAnswerIterations {
			built, ferr := s.applyFollowups(ctx, st, answer, "followup")
			if ferr != nil {
				return nil, ferr
			}
			if built {
				continue
			}
		}
		return s.finalize(ctx, st, answer, llm.TierFlash)
	}
	return nil, fmt.Errorf("agent: no answer after %d iterations", maxAnswerIterations)
}

// runComplex extracts per document on the flash tier, assembles
// materials and answers on the pro tier.
func (s *Service) runComplex(ctx context.Context, st *runState) (*models.Message, error) {
	fullContext := combineDocumentTexts(st.payloads, st.treeText)
	indexBlocks(st, st.payloads)
	s.classifyIntent(ctx, st, fullContext)

	if err := st.stream.Publish(ctx, models.EventPhaseStarted, models.PhaseStartedData{
		Phase: "flash_stage", Description: "Collecting context",
	}); err != nil {
		return nil, err
	}
	var images []models.ImageRequest
	var rois []models.ROIRequest
	for i, p := range st.payloads {
		if err := st.stream.Publish(ctx, models.EventPhaseProgress, models.PhaseProgressData{
			Phase: "flash_stage", Message: p.name, Current: i + 1, Total: len(st.payloads),
		}); err != nil {
			return nil, err
		}
		resp, err := s.collectDocument(ctx, st, p, fmt.Sprintf("flash_collect_%s", p.docID))
		if err != nil {
			return nil, err
		}
		st.selected = append(st.selected, resp.SelectedBlocks...)
		images = append(images, resp.RequestedImages...)
		rois = append(rois, resp.RequestedROIs...)
	}

	st.facts = s.extractFacts(ctx, st, st.selected, llm.TierPro)
	if err := s.buildMaterials(ctx, st, images, rois, "initial_materials"); err != nil {
		return nil, err
	}

	if err := st.stream.Publish(ctx, models.EventPhaseStarted, models.PhaseStartedData{
		Phase: "pro_stage", Description: "Composing answer",
	}); err != nil {
		return nil, err
	}
	system := s.prompts.Answer(ctx, prompts.ProAnswer, st.settings)
	for i := 1; i <= maxAnswerIterations; i++ {
		answer, err := s.streamAnswer(ctx, st, llm.TierPro, fmt.Sprintf("pro_answer_%d", i), system, st.materialsPrompt())
		if err != nil {
			return nil, err
		}
		s.qualityGate(ctx, st, answer, llm.TierPro, false)

		if answer.HasFollowups() && i < maxAnswerIterations {
			built, ferr := s.applyFollowups(ctx, st, answer, "pro_followup")
			if ferr != nil {
				return nil, ferr
			}
			if built {
				continue
			}
		}
		return s.finalize(ctx, st, answer, llm.TierPro)
	}
	return nil, fmt.Errorf("agent: no answer after %d iterations", maxAnswerIterations)
}

// runCompare extracts both document sets separately, labels every block
// with its side and asks the pro tier for a diff. Diff items whose
// evidence covers only one side are dropped before the answer
// finalises.
func (s *Service) runCompare(ctx context.Context, st *runState) (*models.Message, error) {
	fullContext := combineDocumentTexts(append(append([]*documentPayload{}, st.payloadsA...), st.payloadsB...), st.treeText)
	s.classifyIntent(ctx, st, fullContext)
	st.question = "Compare DOC_A vs DOC_B. " + st.req.Message

	if err := st.stream.Publish(ctx, models.EventPhaseStarted, models.PhaseStartedData{
		Phase: "flash_stage", Description: "Collecting both sides",
	}); err != nil {
		return nil, err
	}
	var images []models.ImageRequest
	var rois []models.ROIRequest
	collect := func(payloads []*documentPayload, side string) error {
		for _, p := range payloads {
			if err := st.stream.Publish(ctx, models.EventPhaseProgress, models.PhaseProgressData{
				Phase: "flash_stage", Message: fmt.Sprintf("%s: %s", side, p.name),
			}); err != nil {
				return err
			}
			resp, err := s.collectDocument(ctx, st, p, fmt.Sprintf("flash_collect_%s_%s", side, p.docID))
			if err != nil {
				return err
			}
			st.selected = append(st.selected, labelSide(st, p, side, resp.SelectedBlocks)...)
			images = append(images, resp.RequestedImages...)
			rois = append(rois, resp.RequestedROIs...)
			indexSide(st, p, side)
		}
		return nil
	}
	if err := collect(st.payloadsA, "DOC_A"); err != nil {
		return nil, err
	}
	if err := collect(st.payloadsB, "DOC_B"); err != nil {
		return nil, err
	}

	st.facts = s.extractFacts(ctx, st, st.selected, llm.TierPro)
	if err := s.buildMaterials(ctx, st, images, rois, "compare_materials"); err != nil {
		return nil, err
	}

	if err := st.stream.Publish(ctx, models.EventPhaseStarted, models.PhaseStartedData{
		Phase: "pro_stage", Description: "Comparing documents",
	}); err != nil {
		return nil, err
	}
	system := s.prompts.Answer(ctx, prompts.ProAnswer, st.settings)
	for i := 1; i <= maxAnswerIterations; i++ {
		answer, err := s.streamAnswer(ctx, st, llm.TierPro, fmt.Sprintf("compare_pro_answer_%d", i), system, st.materialsPrompt())
		if err != nil {
			return nil, err
		}
		s.qualityGate(ctx, st, answer, llm.TierPro, false)

		if answer.HasFollowups() && i < maxAnswerIterations {
			built, ferr := s.applyFollowups(ctx, st, answer, "compare_followup")
			if ferr != nil {
				return nil, ferr
			}
			if built {
				continue
			}
		}
		st.filterDiff(answer)
		return s.finalize(ctx, st, answer, llm.TierPro)
	}
	return nil, fmt.Errorf("agent: no answer after %d iterations", maxAnswerIterations)
}

// buildMaterials assembles the initial materials payload from the
// current selection, registering the produced facts and evidence files
// on the run state.
func (s *Service) buildMaterials(ctx context.Context, st *runState, images []models.ImageRequest, rois []models.ROIRequest, reason string) error {
	result, err := s.materials.Build(ctx, materials.Request{
		ChatID:       st.req.ChatID,
		UserID:       st.req.UserID,
		DocumentIDs:  st.docIDs,
		Selected:     st.selected,
		Images:       images,
		ROIs:         rois,
		BlockMap:     st.blockMap,
		HTMLCropMap:  st.htmlCrops,
		AttachedKeys: st.attachedKeys(),
		Facts:        st.facts,
		Reason:       reason,
	}, st.stream, st.dlog)
	if err != nil {
		return err
	}
	st.materials = &result.Materials
	st.dlog.Section("MATERIALS_JSON", st.materials)
	st.files = mergeFileRefs(st.attachments, result.Files)
	return nil
}

// filterDiff drops diff items that claim a concrete before/after change
// while their evidence cites only one side. Items with empty evidence
// or with no stated change pass through.
func (st *runState) filterDiff(answer *models.AnswerResponse) {
	if len(answer.Diff) == 0 {
		return
	}
	kept := answer.Diff[:0]
	var dropped []models.DiffItem
	for _, item := range answer.Diff {
		if (item.Before == "" && item.After == "") || len(item.Evidence) == 0 || st.citesBothSides(item.Evidence) {
			kept = append(kept, item)
			continue
		}
		dropped = append(dropped, item)
	}
	answer.Diff = kept
	if len(dropped) > 0 {
		st.dlog.Section("VALIDATION_ERROR", map[string]any{
			"reason":       "one_sided_diff_evidence",
			"dropped_diff": dropped,
		})
	}
}

func (st *runState) citesBothSides(evidence []models.Citation) bool {
	var a, b bool
	for _, c := range evidence {
		switch st.sides[models.NormalizeBlockID(c.BlockID)] {
		case "DOC_A":
			a = true
		case "DOC_B":
			b = true
		}
	}
	return a && b
}
