// Package agent drives the analysis pipeline: one admitted user message
// in, one persisted assistant answer out, with an ordered event stream
// covering every stage in between. Three profiles share the machinery:
// simple answers straight from the flash tier, complex runs a
// per-document extraction pass before a pro-tier answer, and compare
// runs extraction over two document sets and asks for a diff.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/dialog"
	"github.com/haasonsaas/docsight/internal/events"
	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/materials"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/prompts"
	"github.com/haasonsaas/docsight/internal/storage"
	"github.com/haasonsaas/docsight/pkg/models"
)

const (
	// maxAnswerIterations caps the follow-up loop. The answer produced on
	// the last iteration is final even when it still asks for evidence.
	maxAnswerIterations = 5

	// followupImageLimit bounds how many IMAGE blocks the quality gate
	// volunteers when the answerer never asked for any.
	followupImageLimit = 3

	// intentSnippetChars caps the context excerpt sent to the intent
	// router.
	intentSnippetChars = 1200

	// factsMaxChars caps the block text handed to the facts extractor.
	factsMaxChars = 18000
)

const htmlAttachmentNote = "NOTE: HTML OCR file is attached. Use its content as the main text source."

// Generator is the model surface the pipeline drives. *llm.Client
// satisfies it.
type Generator interface {
	GenerateJSON(ctx context.Context, req llm.Request) (string, error)
	GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error)
}

// EvidenceBuilder resolves image and ROI requests into rendered,
// uploaded materials. *materials.Builder satisfies it.
type EvidenceBuilder interface {
	Build(ctx context.Context, req materials.Request, stream *events.Stream, dlog *dialog.Logger) (materials.Result, error)
}

// TreeFile references a document-tree artifact attached to the request.
// Keys under tree_docs/<uuid>/ also bind their document into the
// request's document set.
type TreeFile struct {
	Key      string `json:"key"`
	FileType string `json:"file_type,omitempty"`
}

// Attachment is a provider-visible file attached to the request, with
// the object key it was staged under when known. HTML attachments also
// feed the fallback crop map.
type Attachment struct {
	File       llm.FileRef
	StorageKey string
}

// Request is one user turn to process.
type Request struct {
	ChatID  string
	UserID  string
	Message string

	// DocumentIDs scope the analysis. Compare requests leave this empty
	// and fill both compare sets instead.
	DocumentIDs []string
	CompareA    []string
	CompareB    []string

	TreeFiles   []TreeFile
	Attachments []Attachment

	// UserMessageID skips persisting the user turn when the caller
	// already did.
	UserMessageID string
}

// Service is the pipeline orchestrator. One instance serves all
// requests; per-request state lives on the stack of Process.
type Service struct {
	stores    storage.StoreSet
	objects   objectFetcher
	llm       Generator
	materials EvidenceBuilder
	prompts   *prompts.Resolver
	cfg       *config.Config
	log       *observability.Logger
	tracer    *observability.Tracer
}

// objectFetcher is the slice of the object store the orchestrator needs:
// reading document artifacts and attached tree files.
type objectFetcher interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// New wires the orchestrator.
func New(stores storage.StoreSet, objects objectFetcher, gen Generator, builder EvidenceBuilder, resolver *prompts.Resolver, cfg *config.Config, log *observability.Logger, tracer *observability.Tracer) *Service {
	if log == nil {
		log = observability.NopLogger()
	}
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Service{
		stores:    stores,
		objects:   objects,
		llm:       gen,
		materials: builder,
		prompts:   resolver,
		cfg:       cfg,
		log:       log,
		tracer:    tracer,
	}
}

// runState is one request's resolved context, threaded through the
// stages.
type runState struct {
	req      Request
	stream   *events.Stream
	dlog     *dialog.Logger
	settings *models.UserSettings

	userMsgID string
	docIDs    []string

	payloads  []*documentPayload
	payloadsA []*documentPayload
	payloadsB []*documentPayload

	treeText  string
	htmlCrops map[string]string
	hasHTML   bool

	intent models.AnalysisIntent
	// blockMap indexes every parsed block by ID; ordered keeps document
	// order for deterministic follow-up suggestions.
	blockMap map[string]models.Block
	ordered  []models.Block

	// question is what the answerer is asked. Compare runs prefix it
	// with the diff instruction; everywhere else it is the raw message.
	question string

	// selected is the current block selection carried between follow-up
	// materials rebuilds. sides maps block IDs to DOC_A/DOC_B labels in
	// compare runs.
	selected []models.SelectedBlock
	sides    map[string]string

	facts     *models.DocumentFacts
	materials *models.MaterialsJSON
	// attachments are the request's own provider files; files is the
	// working set sent to the model (attachments plus uploaded renders).
	attachments []llm.FileRef
	files       []llm.FileRef
}

func (st *runState) attachedKeys() []string {
	keys := make([]string, 0, len(st.req.TreeFiles))
	for _, f := range st.req.TreeFiles {
		if f.Key != "" {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Process runs the pipeline for one user message, publishing the event
// sequence on stream. On success it persists the assistant answer and
// publishes completed; on failure it returns the error and the caller
// terminates the stream with it. The queue slot, when any, is managed by
// the caller.
func (s *Service) Process(ctx context.Context, req Request, stream *events.Stream) (err error) {
	ctx, span := s.tracer.Start(ctx, "agent.process")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()
	ctx = observability.WithChatID(ctx, req.ChatID)

	dlog := dialog.New(s.cfg.Logging.DialogDir, req.ChatID, s.cfg.Logging.DialogTruncateChars)
	defer func() {
		if err != nil {
			dlog.Section("ERROR", err.Error())
		}
	}()

	dlog.Section("USER MESSAGE", req.Message)

	docIDs := mergeDocumentIDs(req.DocumentIDs, ExtractTreeDocIDs(req.TreeFiles))
	dlog.Section("REQUEST CONTEXT", map[string]any{
		"document_ids":           docIDs,
		"compare_document_ids_a": req.CompareA,
		"compare_document_ids_b": req.CompareB,
		"attachments":            attachmentURIs(req.Attachments),
		"tree_files":             req.TreeFiles,
	})

	st := &runState{
		req:         req,
		stream:      stream,
		dlog:        dlog,
		docIDs:      docIDs,
		hasHTML:     hasHTMLAttachments(req.Attachments),
		attachments: attachmentRefs(req.Attachments),
	}
	st.files = st.attachments
	if st.hasHTML {
		dlog.Line("HTML attachment detected (text/html).")
	}

	st.settings = s.resolveSettings(ctx, req.UserID)

	if req.UserMessageID != "" {
		st.userMsgID = req.UserMessageID
	} else {
		msg, merr := s.stores.Chats.AddMessage(ctx, req.ChatID, models.RoleUser, req.Message, "text")
		if merr != nil {
			return fmt.Errorf("agent: save user message: %w", merr)
		}
		st.userMsgID = msg.ID
	}

	if err = stream.Publish(ctx, models.EventPhaseStarted, models.PhaseStartedData{
		Phase: "processing", Description: "Loading documents",
	}); err != nil {
		return err
	}

	compare := len(req.CompareA) > 0 && len(req.CompareB) > 0
	if compare {
		if st.payloadsA, err = s.loadPayloads(ctx, req.CompareA); err != nil {
			return err
		}
		if st.payloadsB, err = s.loadPayloads(ctx, req.CompareB); err != nil {
			return err
		}
		st.docIDs = append(append([]string{}, req.CompareA...), req.CompareB...)
	} else {
		if st.payloads, err = s.loadPayloads(ctx, docIDs); err != nil {
			return err
		}
	}
	st.treeText = s.treeFileContext(ctx, req.TreeFiles)
	st.htmlCrops = s.htmlCropMap(ctx, req.Attachments)
	if len(st.htmlCrops) > 0 {
		dlog.Section("HTML_CROP_MAP", map[string]any{"count": len(st.htmlCrops)})
	}
	st.question = req.Message

	if err = stream.Publish(ctx, models.EventPhaseProgress, models.PhaseProgressData{
		Phase: "processing", Message: "Documents loaded",
	}); err != nil {
		return err
	}
	if err = stream.Publish(ctx, models.EventPhaseStarted, models.PhaseStartedData{
		Phase: "llm", Description: "Generating answer",
	}); err != nil {
		return err
	}

	var msg *models.Message
	switch {
	case compare:
		msg, err = s.runCompare(ctx, st)
	case st.settings.ModelProfile == models.ProfileSimple:
		msg, err = s.runSimple(ctx, st)
	default:
		msg, err = s.runComplex(ctx, st)
	}
	if err != nil {
		return err
	}
	return stream.Publish(ctx, models.EventCompleted, models.CompletedData{MessageID: msg.ID})
}

// resolveSettings fetches the user's pipeline knobs, creating defaults on
// first contact. A failing settings read degrades to the simple profile
// instead of failing the request.
func (s *Service) resolveSettings(ctx context.Context, userID string) *models.UserSettings {
	fallback := &models.UserSettings{UserID: userID, ModelProfile: models.ProfileSimple}
	if userID == "" || s.stores.Users == nil {
		return fallback
	}
	settings, err := s.stores.Users.GetSettings(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		settings, err = s.stores.Users.CreateDefaultSettings(ctx, userID)
	}
	if err != nil {
		s.log.Warn(ctx, "settings lookup failed, using defaults", "user_id", userID, "error", err)
		return fallback
	}
	if settings.ModelProfile == "" {
		settings.ModelProfile = models.ProfileSimple
	}
	return settings
}

// finalize persists the assistant answer, links rendered images to the
// user turn so the UI shows them above the reply, and announces the
// final content.
func (s *Service) finalize(ctx context.Context, st *runState, answer *models.AnswerResponse, tier string) (*models.Message, error) {
	msg, err := s.stores.Chats.AddMessage(ctx, st.req.ChatID, models.RoleAssistant, answer.AnswerMarkdown, "text")
	if err != nil {
		return nil, fmt.Errorf("agent: save assistant message: %w", err)
	}
	s.linkImages(ctx, st, st.userMsgID)
	if err := st.stream.Publish(ctx, models.EventLLMFinal, models.FinalData{
		Content: answer.AnswerMarkdown,
		Model:   tier,
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// linkImages attaches this request's rendered images to a message via
// chat_images rows. Failures only cost UI inlining, never the answer.
func (s *Service) linkImages(ctx context.Context, st *runState, messageID string) {
	if messageID == "" || st.materials == nil {
		return
	}
	for _, img := range st.materials.Images {
		if img.StorageFileID == "" {
			continue
		}
		err := s.stores.Chats.AddChatImage(ctx, &models.ChatImage{
			ChatID:      st.req.ChatID,
			MessageID:   messageID,
			FileID:      img.StorageFileID,
			ImageType:   string(img.Kind),
			Description: img.BlockID,
			Width:       img.Width,
			Height:      img.Height,
			URL:         img.PublicURL,
		})
		if err != nil {
			s.log.Warn(ctx, "image link failed",
				"message_id", messageID, "file_id", img.StorageFileID, "error", err)
		}
	}
}

// modelFor resolves the model ID for a tier, honouring per-user
// overrides.
func (s *Service) modelFor(tier string, settings *models.UserSettings) string {
	if tier == llm.TierPro {
		if settings != nil && settings.ProModel != "" {
			return settings.ProModel
		}
		return s.cfg.LLM.DefaultProModel
	}
	if settings != nil && settings.FlashModel != "" {
		return settings.FlashModel
	}
	return s.cfg.LLM.DefaultFlashModel
}

func mergeDocumentIDs(explicit, extracted []string) []string {
	seen := make(map[string]bool, len(explicit)+len(extracted))
	var out []string
	for _, id := range explicit {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range extracted {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func attachmentRefs(attachments []Attachment) []llm.FileRef {
	if len(attachments) == 0 {
		return nil
	}
	refs := make([]llm.FileRef, 0, len(attachments))
	for _, a := range attachments {
		refs = append(refs, a.File)
	}
	return refs
}

func attachmentURIs(attachments []Attachment) []string {
	uris := make([]string, 0, len(attachments))
	for _, a := range attachments {
		uris = append(uris, a.File.URI)
	}
	return uris
}

func hasHTMLAttachments(attachments []Attachment) bool {
	for _, a := range attachments {
		mime := strings.ToLower(a.File.MIMEType)
		uri := strings.ToLower(a.File.URI)
		if strings.Contains(mime, "text/html") || strings.HasSuffix(uri, ".html") || strings.Contains(uri, ".html?") {
			return true
		}
	}
	return false
}

// mergeFileRefs unions file lists by URI, keeping first-seen order.
func mergeFileRefs(base, extra []llm.FileRef) []llm.FileRef {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]llm.FileRef, 0, len(base)+len(extra))
	for _, f := range base {
		if f.URI == "" || seen[f.URI] {
			continue
		}
		seen[f.URI] = true
		out = append(out, f)
	}
	for _, f := range extra {
		if f.URI == "" || seen[f.URI] {
			continue
		}
		seen[f.URI] = true
		out = append(out, f)
	}
	return out
}

func fileNames(files []llm.FileRef) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.Name != "" {
			names = append(names, f.Name)
			continue
		}
		names = append(names, f.URI)
	}
	return names
}
