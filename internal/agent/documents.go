package agent

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/docsight/internal/blocks"
	"github.com/haasonsaas/docsight/internal/htmlcrop"
	"github.com/haasonsaas/docsight/pkg/models"
)

// documentPayload is one document's loaded analysis context: the
// annotated Markdown, the tag-stripped HTML OCR text and the parsed
// block list.
type documentPayload struct {
	docID    string
	name     string
	markdown string
	htmlText string
	blocks   []models.Block
}

// fullText renders the payload the way the extractor and the simple
// answerer consume it: a document header followed by the labelled
// Markdown and OCR texts.
func (p *documentPayload) fullText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== DOCUMENT: %s (%s) ===\n", p.name, p.docID)
	if p.markdown != "" {
		fmt.Fprintf(&b, "[MD]:\n%s\n", p.markdown)
	}
	if p.htmlText != "" {
		fmt.Fprintf(&b, "[HTML_OCR]:\n%s\n", p.htmlText)
	}
	return strings.TrimRight(b.String(), "\n")
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)
var spaceRe = regexp.MustCompile(`\s+`)

func stripHTML(text string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(htmlTagRe.ReplaceAllString(text, " "), " "))
}

// loadPayloads resolves each document's result_md and ocr_html
// artifacts and parses the Markdown into blocks. A document whose
// artifacts fail to download still yields a payload with whatever
// loaded; only context cancellation is fatal.
func (s *Service) loadPayloads(ctx context.Context, docIDs []string) ([]*documentPayload, error) {
	payloads := make([]*documentPayload, 0, len(docIDs))
	for _, id := range docIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &documentPayload{docID: id, name: id}
		if node, err := s.stores.Projects.NodeByID(ctx, id); err == nil && node.Name != "" {
			p.name = node.Name
		}
		p.markdown = s.documentArtifact(ctx, id, models.FileResultMD)
		if html := s.documentArtifact(ctx, id, models.FileOCRHTML); html != "" {
			p.htmlText = stripHTML(html)
		}
		p.blocks = blocks.Parse(p.markdown)
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// documentArtifact downloads the first stored artifact of the given
// type, returning "" on any miss.
func (s *Service) documentArtifact(ctx context.Context, nodeID string, fileType models.DocumentFileType) string {
	results, err := s.stores.Projects.DocumentResults(ctx, nodeID, fileType)
	if err != nil {
		s.log.Warn(ctx, "document artifact lookup failed",
			"node_id", nodeID, "file_type", string(fileType), "error", err)
		return ""
	}
	for _, r := range results {
		if r.StorageKey == "" {
			continue
		}
		data, err := s.objects.Download(ctx, r.StorageKey)
		if err != nil {
			s.log.Warn(ctx, "document artifact download failed",
				"node_id", nodeID, "key", r.StorageKey, "error", err)
			continue
		}
		return string(data)
	}
	return ""
}

// combineDocumentTexts concatenates every payload's full text plus the
// attached tree-file context into the prompt-side document context.
func combineDocumentTexts(payloads []*documentPayload, treeText string) string {
	parts := make([]string, 0, len(payloads)+1)
	for _, p := range payloads {
		parts = append(parts, p.fullText())
	}
	if treeText != "" {
		parts = append(parts, treeText)
	}
	return strings.Join(parts, "\n\n")
}

// indexBlocks fills the request's block index from the given payloads,
// keeping document order.
func indexBlocks(st *runState, payloadSets ...[]*documentPayload) {
	if st.blockMap == nil {
		st.blockMap = make(map[string]models.Block)
	}
	for _, payloads := range payloadSets {
		for _, p := range payloads {
			for _, b := range p.blocks {
				if _, ok := st.blockMap[b.ID]; ok {
					continue
				}
				st.blockMap[b.ID] = b
				st.ordered = append(st.ordered, b)
			}
		}
	}
}

// treeFileContext downloads attached tree files and renders them into
// labelled context sections. Failures skip the file.
func (s *Service) treeFileContext(ctx context.Context, files []TreeFile) string {
	if len(files) == 0 {
		return ""
	}
	var parts []string
	for _, f := range files {
		if f.Key == "" {
			continue
		}
		data, err := s.objects.Download(ctx, f.Key)
		if err != nil {
			s.log.Warn(ctx, "tree file download failed", "key", f.Key, "error", err)
			continue
		}
		text := string(data)
		label := "MD"
		if f.FileType == string(models.FileOCRHTML) {
			text = stripHTML(text)
			label = "HTML_OCR"
		}
		parts = append(parts, fmt.Sprintf("=== FILE: %s (%s) ===\n%s", path.Base(f.Key), label, text))
	}
	return strings.Join(parts, "\n\n")
}

// htmlCropMap extracts the block_id → crop URL fallback map from HTML
// attachments that were staged in the object store.
func (s *Service) htmlCropMap(ctx context.Context, attachments []Attachment) map[string]string {
	var crops map[string]string
	for _, a := range attachments {
		if a.StorageKey == "" {
			continue
		}
		mime := strings.ToLower(a.File.MIMEType)
		if !strings.Contains(mime, "text/html") && !strings.HasSuffix(strings.ToLower(a.StorageKey), ".html") {
			continue
		}
		data, err := s.objects.Download(ctx, a.StorageKey)
		if err != nil {
			s.log.Warn(ctx, "html attachment download failed", "key", a.StorageKey, "error", err)
			continue
		}
		for id, url := range htmlcrop.ExtractImageMap(string(data)) {
			if crops == nil {
				crops = make(map[string]string)
			}
			if _, ok := crops[id]; !ok {
				crops[id] = url
			}
		}
	}
	return crops
}

// ExtractTreeDocIDs pulls document IDs out of tree-file object keys of
// the form tree_docs/<uuid>/<file>. Keys outside that layout are
// ignored.
func ExtractTreeDocIDs(files []TreeFile) []string {
	var ids []string
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		parts := strings.Split(f.Key, "/")
		if len(parts) < 2 || parts[0] != "tree_docs" {
			continue
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			continue
		}
		if !seen[id.String()] {
			seen[id.String()] = true
			ids = append(ids, id.String())
		}
	}
	return ids
}
