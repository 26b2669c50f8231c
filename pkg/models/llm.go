package models

// CitationKind says what a citation points at.
type CitationKind string

const (
	CiteTextBlock  CitationKind = "text_block"
	CiteImageBlock CitationKind = "image_block"
	CiteROI        CitationKind = "roi"
)

// RenderKind identifies one of the three render outputs.
type RenderKind string

const (
	RenderOverview RenderKind = "overview"
	RenderQuadrant RenderKind = "quadrant"
	RenderROI      RenderKind = "roi"
)

// ImagePriority orders image requests when the materials budget is tight.
type ImagePriority string

const (
	PriorityLow    ImagePriority = "low"
	PriorityMedium ImagePriority = "medium"
	PriorityHigh   ImagePriority = "high"
)

// AnalysisIntent is the intent router's output. It steers profile branches;
// an empty value is a safe default when classification fails.
type AnalysisIntent struct {
	TaskType             string   `json:"task_type,omitempty"`
	RequiresVisualDetail bool     `json:"requires_visual_detail"`
	PreferredPages       []int    `json:"preferred_pages,omitempty"`
	QueryTerms           []string `json:"query_terms,omitempty"`
	Notes                string   `json:"notes,omitempty"`
}

// SelectedBlock is a block chosen by the extractor, carried verbatim into
// the materials payload. In compare mode ContentRaw is prefixed with the
// side label.
type SelectedBlock struct {
	BlockID    string    `json:"block_id"`
	Kind       BlockKind `json:"block_kind,omitempty" jsonschema:"enum=TEXT,enum=IMAGE,enum=TABLE"`
	PageNumber int       `json:"page_number,omitempty"`
	ContentRaw string    `json:"content_raw"`
	Relevance  string    `json:"relevance,omitempty"`
}

// ImageRequest asks for an overview render of one IMAGE block.
type ImageRequest struct {
	BlockID  string        `json:"block_id"`
	Reason   string        `json:"reason,omitempty"`
	Priority ImagePriority `json:"priority,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
}

// ROIRequest asks for a zoomed region render. Page refers to the original
// document and is ignored for single-page crop PDFs.
type ROIRequest struct {
	BlockID  string  `json:"block_id"`
	Page     int     `json:"page,omitempty"`
	BBoxNorm BBox    `json:"bbox_norm"`
	DPI      int     `json:"dpi,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// FlashCollectorResponse is the per-document extractor output.
type FlashCollectorResponse struct {
	SelectedBlocks   []SelectedBlock `json:"selected_blocks"`
	RequestedImages  []ImageRequest  `json:"requested_images"`
	RequestedROIs    []ROIRequest    `json:"requested_rois"`
	MaterialsSummary string          `json:"materials_summary,omitempty"`
}

// Citation ties an answer claim to a block. An unset Kind means
// text_block; consumers fill the default after decoding.
type Citation struct {
	BlockID    string       `json:"block_id"`
	Kind       CitationKind `json:"kind,omitempty" jsonschema:"enum=text_block,enum=image_block,enum=roi"`
	PageNumber int          `json:"page_number,omitempty"`
	BBoxNorm   *BBox        `json:"bbox_norm,omitempty"`
	Note       string       `json:"note,omitempty"`
}

// Issue is a severity-tagged problem found in the documents. An unset
// Severity means medium.
type Issue struct {
	IssueType   string     `json:"issue_type"`
	Severity    string     `json:"severity,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
	Description string     `json:"description"`
	Evidence    []Citation `json:"evidence,omitempty"`
}

// DiffItem is one compared aspect in compare mode. Evidence must cite blocks
// from both sides, or the item is dropped.
type DiffItem struct {
	Item     string     `json:"item"`
	Before   string     `json:"before,omitempty"`
	After    string     `json:"after,omitempty"`
	Impact   string     `json:"impact,omitempty"`
	Evidence []Citation `json:"evidence,omitempty"`
}

// AnswerResponse is the answerer's structured output.
type AnswerResponse struct {
	AnswerMarkdown    string       `json:"answer_markdown"`
	Citations         []Citation   `json:"citations"`
	Issues            []Issue      `json:"issues"`
	Recommendations   []string     `json:"recommendations"`
	Diff              []DiffItem   `json:"diff"`
	NeedsMoreEvidence bool         `json:"needs_more_evidence"`
	FollowupImages    []string     `json:"followup_images"`
	FollowupROIs      []ROIRequest `json:"followup_rois"`
}

// HasFollowups reports whether the answer asks for more evidence renders.
func (a *AnswerResponse) HasFollowups() bool {
	return len(a.FollowupImages) > 0 || len(a.FollowupROIs) > 0
}

// HasROICitation reports whether any citation points at a zoomed region.
func (a *AnswerResponse) HasROICitation() bool {
	for _, c := range a.Citations {
		if c.Kind == CiteROI {
			return true
		}
	}
	return false
}

// Fact is one extracted key/value pair.
type Fact struct {
	Key           string `json:"key"`
	Value         string `json:"value"`
	Unit          string `json:"unit,omitempty"`
	SourceBlockID string `json:"source_block_id,omitempty"`
	PageNumber    int    `json:"page_number,omitempty"`
}

// TabularExtract is a table recovered from TABLE blocks.
type TabularExtract struct {
	Title         string     `json:"title,omitempty"`
	Headers       []string   `json:"headers,omitempty"`
	Rows          [][]string `json:"rows,omitempty"`
	SourceBlockID string     `json:"source_block_id,omitempty"`
}

// DocumentFacts is the facts extractor output. Zero value means "no facts";
// extraction failures degrade to it.
type DocumentFacts struct {
	Facts  []Fact           `json:"facts,omitempty"`
	Tables []TabularExtract `json:"tables,omitempty"`
}

// Empty reports whether nothing was extracted.
func (d *DocumentFacts) Empty() bool {
	return d == nil || (len(d.Facts) == 0 && len(d.Tables) == 0)
}

// MaterialImage references one uploaded render inside the materials payload.
type MaterialImage struct {
	BlockID       string     `json:"block_id"`
	Kind          RenderKind `json:"kind" jsonschema:"enum=overview,enum=quadrant,enum=roi"`
	PNGURI        string     `json:"png_uri"`
	PublicURL     string     `json:"public_url,omitempty"`
	Width         int        `json:"width,omitempty"`
	Height        int        `json:"height,omitempty"`
	ScaleFactor   float64    `json:"scale_factor,omitempty"`
	BBoxNorm      *BBox      `json:"bbox_norm,omitempty"`
	StorageFileID string     `json:"storage_file_id,omitempty"`
}

// MaterialsJSON is the assembled evidence payload handed to the answerer.
type MaterialsJSON struct {
	Blocks          []SelectedBlock `json:"blocks"`
	Images          []MaterialImage `json:"images"`
	SourceDocuments []string        `json:"source_documents"`
	ExtractedFacts  *DocumentFacts  `json:"extracted_facts,omitempty"`
}
