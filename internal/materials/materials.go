// Package materials resolves the collector's image and ROI requests into
// rendered, uploaded evidence and assembles the MATERIALS_JSON payload the
// answerer consumes. Every failure is per item: a hallucinated block ID, a
// missing crop, a byte stream that is not a PDF, or a failed upload drops
// that item and the batch keeps going.
package materials

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/docsight/internal/artifacts"
	"github.com/haasonsaas/docsight/internal/dialog"
	"github.com/haasonsaas/docsight/internal/events"
	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/render"
	"github.com/haasonsaas/docsight/internal/storage"
	"github.com/haasonsaas/docsight/pkg/models"
)

// Crop PDFs are rendered at a fixed dpi for overviews; ROI requests carry
// their own dpi and are clamped by the renderer.
const previewDPI = 150

const fetchTimeout = 20 * time.Second

// Uploader pushes rendered PNGs to the model provider's file API.
// *llm.Client satisfies it.
type Uploader interface {
	UploadFile(ctx context.Context, name string, data []byte, mimeType string) (llm.FileRef, error)
}

// Builder turns evidence requests into uploaded renders.
type Builder struct {
	store    artifacts.Store
	projects storage.ProjectStore
	chats    storage.ChatStore
	renderer *render.Renderer
	uploader Uploader
	http     *http.Client
	log      *observability.Logger
}

// NewBuilder wires a materials builder. chats may be nil when no metadata
// rows should be written (renders still upload and stream).
func NewBuilder(store artifacts.Store, projects storage.ProjectStore, chats storage.ChatStore, renderer *render.Renderer, uploader Uploader, log *observability.Logger) *Builder {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Builder{
		store:    store,
		projects: projects,
		chats:    chats,
		renderer: renderer,
		uploader: uploader,
		http:     &http.Client{Timeout: fetchTimeout},
		log:      log,
	}
}

// Request is one materials round: the collector's selections plus any
// follow-up image and ROI requests from a previous answer iteration.
type Request struct {
	ChatID      string
	UserID      string
	DocumentIDs []string

	Selected []models.SelectedBlock
	Images   []models.ImageRequest
	ROIs     []models.ROIRequest

	// BlockMap backfills full block content for images requested without
	// a matching selected block.
	BlockMap map[string]models.Block
	// HTMLCropMap is the block_id → crop URL fallback extracted from
	// HTML OCR attachments.
	HTMLCropMap map[string]string
	// AttachedKeys are object keys of files attached to the request
	// context. Keys ending in _document.md locate a sibling _blocks.json
	// manifest when the metadata store has none on record.
	AttachedKeys []string

	Facts *models.DocumentFacts
	// Existing carries the previous iteration's materials; its images
	// seed the dedup set and its provider files are replayed into the
	// result.
	Existing *models.MaterialsJSON
	// Reason labels the emitted tool_call and image_ready events
	// (initial_materials, followup, compare_materials, ...).
	Reason string
}

// Result is the assembled payload plus the provider file references for
// every image in it, replayed ones included, ready to attach to the next
// model call.
type Result struct {
	Materials models.MaterialsJSON
	Files     []llm.FileRef
}

type buildState struct {
	seen   map[string]bool
	images []models.MaterialImage
	files  []llm.FileRef
}

// Build runs the batch. The only errors it returns are stream publish
// failures: a gone consumer or a cancelled context aborts the build, since
// rendering for nobody is wasted work. Everything else degrades per item;
// a batch where every item failed still returns a valid (text-only)
// materials payload.
func (b *Builder) Build(ctx context.Context, req Request, stream *events.Stream, dlog *dialog.Logger) (Result, error) {
	st := &buildState{seen: make(map[string]bool)}

	var existingFacts *models.DocumentFacts
	if req.Existing != nil {
		for _, img := range req.Existing.Images {
			st.seen[dedupKey(img.BlockID, img.Kind, img.BBoxNorm)] = true
			st.files = append(st.files, llm.FileRef{URI: img.PNGURI, MIMEType: "image/png"})
		}
		existingFacts = req.Existing.ExtractedFacts
	}

	if len(req.Images) > 0 {
		ids := make([]string, 0, len(req.Images))
		for _, imgReq := range req.Images {
			ids = append(ids, imgReq.BlockID)
		}
		err := stream.Publish(ctx, models.EventToolCall, models.ToolCallData{
			Name: "request_images",
			Args: map[string]any{"image_ids": ids, "reason": req.Reason},
		})
		if err != nil {
			return Result{}, err
		}
	}
	if len(req.ROIs) > 0 {
		err := stream.Publish(ctx, models.EventToolCall, models.ToolCallData{
			Name: "zoom",
			Args: map[string]any{"count": len(req.ROIs), "reason": req.Reason},
		})
		if err != nil {
			return Result{}, err
		}
	}

	for _, imgReq := range req.Images {
		id := models.NormalizeBlockID(imgReq.BlockID)
		if !models.ValidBlockID(id) {
			b.logInvalidID(ctx, imgReq.BlockID, dlog)
			continue
		}
		pdf, sourceID := b.locateCrop(ctx, id, req, dlog)
		if pdf == nil {
			b.log.Warn(ctx, "crop not found", "block_id", id)
			dlog.Section("MISSING_CROP", map[string]any{"block_id": id})
			continue
		}
		if !isPDF(pdf) {
			b.log.Warn(ctx, "crop is not a pdf", "block_id", id)
			dlog.Section("NON_PDF_CROP", map[string]any{"block_id": id})
			continue
		}
		renders, err := b.renderer.BuildPreviewAndQuadrants(pdf, sourceID, "", 0, previewDPI)
		if err != nil {
			b.log.Warn(ctx, "render failed", "block_id", id, "error", err)
			continue
		}
		for _, r := range renders {
			if err := b.uploadRender(ctx, st, id, r, req, stream, dlog); err != nil {
				return Result{}, err
			}
		}
	}

	for _, roi := range req.ROIs {
		id := models.NormalizeBlockID(roi.BlockID)
		if !models.ValidBlockID(id) {
			b.logInvalidID(ctx, roi.BlockID, dlog)
			continue
		}
		pdf, sourceID := b.locateCrop(ctx, id, req, dlog)
		if pdf == nil {
			b.log.Warn(ctx, "crop not found for roi", "block_id", id)
			dlog.Section("MISSING_CROP", map[string]any{"block_id": id})
			continue
		}
		if !isPDF(pdf) {
			b.log.Warn(ctx, "roi crop is not a pdf", "block_id", id)
			dlog.Section("NON_PDF_CROP", map[string]any{"block_id": id})
			continue
		}
		// Crop PDFs are single-page extracts; the requested page refers
		// to the original document and is ignored.
		r, err := b.renderer.BuildROI(pdf, sourceID, "", roi.BBoxNorm, 0, roi.DPI)
		if err != nil {
			b.log.Warn(ctx, "roi render failed", "block_id", id, "error", err)
			continue
		}
		if err := b.uploadRender(ctx, st, id, r, req, stream, dlog); err != nil {
			return Result{}, err
		}
	}

	fresh := freshBlocks(req.Selected, req.Images, req.BlockMap)
	blocks := fresh
	images := st.images
	facts := req.Facts
	if req.Existing != nil {
		blocks = mergeBlocks(req.Existing.Blocks, fresh)
		images = append(append([]models.MaterialImage{}, req.Existing.Images...), st.images...)
	}
	if facts == nil {
		facts = existingFacts
	}

	docIDs := req.DocumentIDs
	if docIDs == nil {
		docIDs = []string{}
	}
	if blocks == nil {
		blocks = []models.SelectedBlock{}
	}
	if images == nil {
		images = []models.MaterialImage{}
	}

	return Result{
		Materials: models.MaterialsJSON{
			Blocks:          blocks,
			Images:          images,
			SourceDocuments: docIDs,
			ExtractedFacts:  facts,
		},
		Files: st.files,
	}, nil
}

func (b *Builder) logInvalidID(ctx context.Context, id string, dlog *dialog.Logger) {
	b.log.Warn(ctx, "invalid block id, skipping", "block_id", id)
	dlog.Section("INVALID_BLOCK_ID", map[string]any{
		"block_id": id,
		"reason":   "format does not match XXXX-XXXX-XXX, likely hallucinated",
	})
}

// uploadRender pushes one render to the provider's file API and, when that
// succeeds, to the object store for the UI. The provider upload is the one
// that matters: without it the answerer cannot see the image, so its
// failure drops the item. Object-store or metadata failures only cost the
// public URL.
func (b *Builder) uploadRender(ctx context.Context, st *buildState, blockID string, r render.RenderedImage, req Request, stream *events.Stream, dlog *dialog.Logger) error {
	key := dedupKey(blockID, r.Kind, r.BBoxNorm)
	if st.seen[key] {
		return nil
	}
	st.seen[key] = true

	fileName := blockID + "_" + string(r.Kind)
	ref, err := b.uploader.UploadFile(ctx, fileName, r.PNG, "image/png")
	if err != nil {
		b.log.Warn(ctx, "provider upload failed", "block_id", blockID, "kind", r.Kind, "error", err)
		return nil
	}
	st.files = append(st.files, ref)

	objectKey := fmt.Sprintf("chat_images/%s_%s.png", fileName, shortID())
	publicURL := ""
	if url, uerr := b.store.Upload(ctx, objectKey, r.PNG, "image/png"); uerr != nil {
		b.log.Warn(ctx, "object store upload failed", "key", objectKey, "error", uerr)
	} else {
		publicURL = url
	}

	var fileID string
	if publicURL != "" && req.ChatID != "" && b.chats != nil {
		sf := &models.StorageFile{
			UserID:      req.UserID,
			FileName:    fileName + ".png",
			Key:         objectKey,
			ContentType: "image/png",
			SizeBytes:   int64(len(r.PNG)),
			SourceType:  "chat_render",
			PublicURL:   publicURL,
		}
		if rerr := b.chats.RegisterFile(ctx, sf); rerr != nil {
			b.log.Warn(ctx, "register file failed", "key", objectKey, "error", rerr)
		} else {
			fileID = sf.ID
		}
	}

	dlog.Section("UPLOAD_PNG", map[string]any{
		"block_id":        blockID,
		"kind":            r.Kind,
		"bbox_norm":       r.BBoxNorm,
		"uri":             ref.URI,
		"public_url":      publicURL,
		"storage_file_id": fileID,
	})

	st.images = append(st.images, models.MaterialImage{
		BlockID:       blockID,
		Kind:          r.Kind,
		PNGURI:        ref.URI,
		PublicURL:     publicURL,
		Width:         r.Width,
		Height:        r.Height,
		ScaleFactor:   r.ScaleFactor,
		BBoxNorm:      r.BBoxNorm,
		StorageFileID: fileID,
	})

	url := publicURL
	if url == "" {
		url = ref.URI
	}
	return stream.Publish(ctx, models.EventImageReady, models.ImageReadyData{
		BlockID: blockID,
		Kind:    r.Kind,
		URL:     url,
		Width:   r.Width,
		Height:  r.Height,
		Reason:  req.Reason,
	})
}

// cropRef points at crop PDF bytes: an absolute URL from a blocks index,
// or an object key (with optional public URL) from the metadata store.
type cropRef struct {
	cropURL   string
	key       string
	publicURL string
}

// locateCrop resolves crop bytes for a block. Lookup order: the blocks
// index of any referenced document, a manifest path derived from attached
// *_document.md keys, per-document crop files matched by filename, and
// finally the HTML OCR crop map.
func (b *Builder) locateCrop(ctx context.Context, id string, req Request, dlog *dialog.Logger) (pdf []byte, sourceID string) {
	if ref := b.findCrop(ctx, id, req.DocumentIDs, req.AttachedKeys); ref != nil {
		switch {
		case ref.cropURL != "":
			pdf = b.fetchSource(ctx, ref.cropURL)
			sourceID = ref.cropURL
			dlog.Section("BLOCKS_INDEX_CROP", map[string]any{"block_id": id, "crop_url": ref.cropURL})
		case ref.key != "":
			pdf = b.fetchKey(ctx, ref.key)
			sourceID = ref.key
		case ref.publicURL != "":
			pdf = b.fetchURL(ctx, ref.publicURL)
			sourceID = ref.publicURL
		}
	}
	if pdf == nil && len(req.HTMLCropMap) > 0 {
		if cropURL := req.HTMLCropMap[id]; cropURL != "" {
			pdf = b.fetchSource(ctx, cropURL)
			sourceID = cropURL
			dlog.Section("HTML_CROP_MAP", map[string]any{"block_id": id, "crop_url": cropURL})
		}
	}
	return pdf, sourceID
}

func (b *Builder) findCrop(ctx context.Context, id string, docIDs, attachedKeys []string) *cropRef {
	for _, docID := range docIDs {
		idx, err := b.projects.BlocksIndexForNode(ctx, docID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				b.log.Warn(ctx, "blocks index lookup failed", "document_id", docID, "error", err)
			}
			continue
		}
		source := idx.StorageKey
		if source == "" {
			source = idx.PublicURL
		}
		if ref := b.searchManifest(ctx, source, id); ref != nil {
			return ref
		}
	}

	for _, key := range attachedKeys {
		if !strings.Contains(key, "_document.md") {
			continue
		}
		manifestKey := strings.Replace(key, "_document.md", "_blocks.json", 1)
		b.log.Info(ctx, "trying blocks index from attached file naming", "key", manifestKey)
		if ref := b.searchManifest(ctx, manifestKey, id); ref != nil {
			return ref
		}
	}

	var crops []*models.NodeFile
	for _, docID := range docIDs {
		list, err := b.projects.DocumentCrops(ctx, docID)
		if err != nil {
			b.log.Warn(ctx, "crop listing failed", "document_id", docID, "error", err)
			continue
		}
		crops = append(crops, list...)
	}

	var partial *models.NodeFile
	for _, f := range crops {
		name := f.StorageKey
		if name == "" {
			name = f.FileName
		}
		if name == "" {
			continue
		}
		base := strings.TrimSuffix(path.Base(name), path.Ext(name))
		if base == id {
			return &cropRef{key: f.StorageKey, publicURL: f.PublicURL}
		}
		if partial == nil && strings.Contains(base, id) {
			partial = f
		}
	}
	if partial != nil {
		return &cropRef{key: partial.StorageKey, publicURL: partial.PublicURL}
	}
	return nil
}

// searchManifest downloads a blocks-index manifest and returns the crop
// reference for id, if the manifest has one.
func (b *Builder) searchManifest(ctx context.Context, source, id string) *cropRef {
	if source == "" {
		return nil
	}
	data := b.fetchSource(ctx, source)
	if data == nil {
		return nil
	}
	var index models.BlocksIndex
	if err := json.Unmarshal(data, &index); err != nil {
		b.log.Warn(ctx, "bad blocks index", "source", source, "error", err)
		return nil
	}
	for _, entry := range index.Blocks {
		if entry.ID == id && entry.CropURL != "" {
			return &cropRef{cropURL: entry.CropURL}
		}
	}
	return nil
}

// fetchSource dispatches on the source shape: absolute URLs go straight to
// HTTP, everything else is treated as an object key.
func (b *Builder) fetchSource(ctx context.Context, source string) []byte {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return b.fetchURL(ctx, source)
	}
	return b.fetchKey(ctx, source)
}

// fetchKey reads an object from the store, falling back to an HTTP GET
// against the public URL when direct access fails.
func (b *Builder) fetchKey(ctx context.Context, key string) []byte {
	data, err := b.store.Download(ctx, key)
	if err == nil {
		return data
	}
	b.log.Debug(ctx, "store download failed, trying public url", "key", key, "error", err)
	if url := b.store.PublicURL(key); url != "" {
		return b.fetchURL(ctx, url)
	}
	return nil
}

func (b *Builder) fetchURL(ctx context.Context, url string) []byte {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := b.http.Do(httpReq)
	if err != nil {
		b.log.Warn(ctx, "public fetch failed", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.log.Warn(ctx, "public fetch returned non-200", "url", url, "status", resp.StatusCode)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		b.log.Warn(ctx, "public fetch read failed", "url", url, "error", err)
		return nil
	}
	return data
}

// freshBlocks orders this round's blocks: the collector's selections
// first, then blocks whose images were requested without being selected,
// backfilled from the parsed document.
func freshBlocks(selected []models.SelectedBlock, images []models.ImageRequest, blockMap map[string]models.Block) []models.SelectedBlock {
	out := make([]models.SelectedBlock, 0, len(selected))
	pos := make(map[string]int, len(selected))
	for _, bl := range selected {
		if i, ok := pos[bl.BlockID]; ok {
			out[i] = bl
			continue
		}
		pos[bl.BlockID] = len(out)
		out = append(out, bl)
	}
	for _, imgReq := range images {
		id := models.NormalizeBlockID(imgReq.BlockID)
		if _, ok := pos[id]; ok {
			continue
		}
		parsed, ok := blockMap[id]
		if !ok {
			continue
		}
		pos[id] = len(out)
		out = append(out, models.SelectedBlock{
			BlockID:    parsed.ID,
			Kind:       parsed.Kind,
			PageNumber: parsed.PageNumber,
			ContentRaw: parsed.ContentRaw,
		})
	}
	return out
}

// mergeBlocks keeps prior-iteration blocks in place, lets fresh entries
// replace stale content for the same ID, and appends new IDs at the end.
func mergeBlocks(existing, fresh []models.SelectedBlock) []models.SelectedBlock {
	out := make([]models.SelectedBlock, 0, len(existing)+len(fresh))
	pos := make(map[string]int, len(existing))
	for _, bl := range existing {
		if i, ok := pos[bl.BlockID]; ok {
			out[i] = bl
			continue
		}
		pos[bl.BlockID] = len(out)
		out = append(out, bl)
	}
	for _, bl := range fresh {
		if i, ok := pos[bl.BlockID]; ok {
			out[i] = bl
			continue
		}
		pos[bl.BlockID] = len(out)
		out = append(out, bl)
	}
	return out
}

func dedupKey(blockID string, kind models.RenderKind, bbox *models.BBox) string {
	if bbox == nil {
		return blockID + "|" + string(kind) + "|"
	}
	return blockID + "|" + string(kind) + "|" + bbox.Key()
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}
