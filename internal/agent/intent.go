package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/prompts"
	"github.com/haasonsaas/docsight/pkg/models"
)

// classifyIntent runs the analysis router over a context snippet and
// stores the result on st. Any failure degrades to an empty intent; the
// router is advisory and never fails the request.
func (s *Service) classifyIntent(ctx context.Context, st *runState, contextText string) {
	system := s.prompts.Get(ctx, prompts.AnalysisRouter)
	if system == "" {
		return
	}
	snippet := contextText
	if len(snippet) > intentSnippetChars {
		snippet = snippet[:intentSnippetChars]
	}
	user := fmt.Sprintf("CONTEXT_SNIPPET:\n%s\n\nUSER QUESTION:\n%s", snippet, st.req.Message)
	model := s.modelFor(llm.TierFlash, st.settings)

	st.dlog.Request("analysis_router", model, system, user, nil)
	text, err := s.llm.GenerateJSON(ctx, llm.Request{
		Model:       model,
		Tier:        llm.TierFlash,
		Phase:       "analysis_router",
		System:      system,
		Message:     user,
		Schema:      llm.IntentSchema,
		Temperature: st.settings.Temperature,
		TopP:        st.settings.TopP,
	})
	if err != nil {
		s.log.Warn(ctx, "intent classification failed", "error", err)
		return
	}
	st.dlog.Response("analysis_router", text)

	var intent models.AnalysisIntent
	if err := llm.IntentSchema.Decode(text, &intent); err != nil {
		s.log.Warn(ctx, "intent decode failed", "error", err)
		return
	}
	st.intent = intent
	st.dlog.Section("ANALYSIS_INTENT", intent)
}

// intentNote renders the classified intent for inclusion in extractor
// and answerer prompts. Empty intents render as "".
func intentNote(intent models.AnalysisIntent) string {
	if intent.TaskType == "" && !intent.RequiresVisualDetail &&
		len(intent.PreferredPages) == 0 && len(intent.QueryTerms) == 0 && intent.Notes == "" {
		return ""
	}
	b, err := json.Marshal(intent)
	if err != nil {
		return ""
	}
	return "ANALYSIS_INTENT:\n" + string(b)
}
