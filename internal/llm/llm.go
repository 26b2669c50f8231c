// Package llm wraps the Gemini API behind the two call shapes the
// analysis pipeline uses: single-shot structured JSON constrained by a
// response schema, and token streaming with interleaved thought
// summaries. It also fronts the Files API for attaching rendered
// evidence to requests.
//
// The package never retries. Transient provider failures surface to the
// caller, which reports them to the user instead of silently extending
// an already long-running request.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/observability"
)

// Model tiers as they appear in metrics labels.
const (
	TierFlash = "flash"
	TierPro   = "pro"
)

var (
	// ErrSchemaViolation marks model output that failed JSON extraction
	// or schema validation. Not retryable.
	ErrSchemaViolation = errors.New("llm: response violates output schema")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("llm: empty model response")
)

// FileRef points at a file the model can read: a Files API upload or a
// public URL. MIMEType is inferred from the URI when empty.
type FileRef struct {
	Name     string
	URI      string
	MIMEType string
}

// Request describes one model call.
type Request struct {
	// Model is the Gemini model ID. Required.
	Model string

	// Tier and Phase label metrics and logs. Tier falls back to a guess
	// from the model name when empty.
	Tier  string
	Phase string

	// System carries the composed system prompt, sent as a system
	// instruction on both structured and streaming calls.
	System string

	// Message is the user turn. Files are attached before it so page
	// references resolve against the documents.
	Message string
	Files   []FileRef

	// Schema switches the call to JSON output constrained by the schema.
	Schema *Schema

	// Generation knobs. Unset values fall back to configured defaults.
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens int

	// ThinkingBudget caps reasoning tokens. 0 keeps the provider default.
	ThinkingBudget int

	// MediaResolution is one of low, medium, high.
	MediaResolution string
}

func (r Request) tier() string {
	if r.Tier != "" {
		return r.Tier
	}
	if strings.Contains(r.Model, "pro") {
		return TierPro
	}
	return TierFlash
}

func (r Request) phase() string {
	if r.Phase == "" {
		return "other"
	}
	return r.Phase
}

// ChunkType distinguishes streamed chunk payloads.
type ChunkType string

const (
	ChunkThinking ChunkType = "thinking"
	ChunkText     ChunkType = "text"
	ChunkDone     ChunkType = "done"
)

// Chunk is one streamed increment. The final chunk before the channel
// closes has type done; Err is set on it when the stream failed.
type Chunk struct {
	Type ChunkType
	Text string
	Err  error
}

// Client talks to the Gemini API. Methods are safe for concurrent use.
type Client struct {
	genai   *genai.Client
	cfg     config.LLMConfig
	log     *observability.Logger
	metrics *observability.Metrics
}

// New dials the Gemini API. An empty API key fails here rather than on
// the first call.
func New(ctx context.Context, cfg config.LLMConfig, log *observability.Logger, metrics *observability.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if log == nil {
		log = observability.NopLogger()
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}

	return &Client{genai: gc, cfg: cfg, log: log, metrics: metrics}, nil
}

// GenerateJSON runs one structured call and returns the raw response
// text. Callers decode it with Schema.Decode, which validates against
// the same schema the model was constrained by.
func (c *Client) GenerateJSON(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		return "", errors.New("llm: model is required")
	}

	contents := []*genai.Content{userContent(req)}
	cfg := c.buildConfig(req)

	c.log.Debug(ctx, "llm request",
		"model", req.Model, "phase", req.phase(), "files", len(req.Files), "structured", req.Schema != nil)

	start := time.Now()
	resp, err := c.genai.Models.GenerateContent(ctx, req.Model, contents, cfg)
	c.observe(req, start, err)
	if err != nil {
		return "", fmt.Errorf("llm: generate %s: %w", req.Model, err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", ErrEmptyResponse
	}
	if usage := resp.UsageMetadata; usage != nil {
		c.log.Debug(ctx, "llm response",
			"model", req.Model, "phase", req.phase(),
			"prompt_tokens", usage.PromptTokenCount, "output_tokens", usage.CandidatesTokenCount)
	}
	return text, nil
}

// GenerateStream runs one streaming call. The returned channel yields
// thinking and text chunks in arrival order and closes after a done
// chunk. Cancelling ctx abandons the stream; the producer stops at the
// next send.
func (c *Client) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.Model == "" {
		return nil, errors.New("llm: model is required")
	}

	contents := []*genai.Content{userContent(req)}
	cfg := c.buildConfig(req)

	c.log.Debug(ctx, "llm stream request",
		"model", req.Model, "phase", req.phase(), "files", len(req.Files), "structured", req.Schema != nil)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		start := time.Now()
		stream := c.genai.Models.GenerateContentStream(ctx, req.Model, contents, cfg)
		err := c.consumeStream(ctx, stream, chunks)
		c.observe(req, start, err)
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				c.log.Warn(ctx, "llm stream failed", "model", req.Model, "error", err)
			}
			c.send(ctx, chunks, Chunk{Type: ChunkDone, Err: fmt.Errorf("llm: stream %s: %w", req.Model, err)})
			return
		}
		c.send(ctx, chunks, Chunk{Type: ChunkDone})
	}()
	return chunks, nil
}

func (c *Client) consumeStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- Chunk) error {
	for resp, err := range stream {
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				kind := ChunkText
				if part.Thought {
					kind = ChunkThinking
				}
				if !c.send(ctx, chunks, Chunk{Type: kind, Text: part.Text}) {
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

// send drops the chunk and reports false once ctx is done, so an
// abandoned stream never wedges the producer goroutine.
func (c *Client) send(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// UploadFile pushes bytes to the Gemini Files API and returns a
// reference usable in Request.Files. Uploads expire server-side after
// 48 hours, so references are request-scoped, never persisted.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte, mimeType string) (FileRef, error) {
	if mimeType == "" {
		mimeType = GuessMIMEType(name)
	}

	f, err := c.genai.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		DisplayName: name,
		MIMEType:    mimeType,
	})
	if err != nil {
		return FileRef{}, fmt.Errorf("llm: upload %s: %w", name, err)
	}

	ref := FileRef{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}
	if ref.MIMEType == "" {
		ref.MIMEType = mimeType
	}
	return ref, nil
}

func (c *Client) buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	temp := c.cfg.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	cfg.Temperature = genai.Ptr(float32(temp))

	topP := c.cfg.TopP
	if req.TopP != nil {
		topP = *req.TopP
	}
	cfg.TopP = genai.Ptr(float32(topP))

	maxTokens := c.cfg.MaxTokens
	if req.MaxOutputTokens > 0 {
		maxTokens = req.MaxOutputTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(min(maxTokens, math.MaxInt32))
	}

	resolution := req.MediaResolution
	if resolution == "" {
		resolution = c.cfg.MediaResolution
	}
	cfg.MediaResolution = mediaResolution(resolution)

	cfg.ThinkingConfig = c.thinkingConfig(req)

	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema.response
	}
	return cfg
}

func (c *Client) thinkingConfig(req Request) *genai.ThinkingConfig {
	if !c.cfg.ThinkingEnabled {
		return &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(0))}
	}
	tc := &genai.ThinkingConfig{IncludeThoughts: true}
	budget := req.ThinkingBudget
	if budget <= 0 {
		budget = c.cfg.ThinkingBudget
	}
	if budget > 0 {
		tc.ThinkingBudget = genai.Ptr(int32(min(budget, math.MaxInt32)))
	}
	return tc
}

func (c *Client) observe(req Request, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	tier, phase := req.tier(), req.phase()
	c.metrics.LLMRequestCounter.WithLabelValues(tier, phase, status).Inc()
	if err == nil {
		c.metrics.LLMRequestDuration.WithLabelValues(tier, phase).Observe(time.Since(start).Seconds())
	}
}

// userContent assembles the user turn: file parts first, then the
// message text.
func userContent(req Request) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	for _, f := range req.Files {
		mime := f.MIMEType
		if mime == "" {
			mime = GuessMIMEType(f.URI)
		}
		content.Parts = append(content.Parts, &genai.Part{
			FileData: &genai.FileData{FileURI: f.URI, MIMEType: mime},
		})
	}
	if req.Message != "" {
		content.Parts = append(content.Parts, &genai.Part{Text: req.Message})
	}
	return content
}

// responseText concatenates the text parts of the first candidate,
// skipping thought summaries.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func mediaResolution(s string) genai.MediaResolution {
	switch strings.ToLower(s) {
	case "low":
		return genai.MediaResolutionLow
	case "medium":
		return genai.MediaResolutionMedium
	case "high":
		return genai.MediaResolutionHigh
	default:
		return ""
	}
}

// GuessMIMEType infers a MIME type from a file name or URL. Matching is
// substring-based so query strings on signed URLs don't defeat it.
func GuessMIMEType(uri string) string {
	lower := strings.ToLower(uri)
	switch {
	case strings.Contains(lower, ".pdf"):
		return "application/pdf"
	case strings.Contains(lower, ".md"):
		return "text/markdown"
	case strings.Contains(lower, ".html"):
		return "text/html"
	case strings.Contains(lower, ".txt"):
		return "text/plain"
	case strings.Contains(lower, ".json"):
		return "application/json"
	case strings.Contains(lower, ".csv"):
		return "text/csv"
	case strings.Contains(lower, ".png"):
		return "image/png"
	case strings.Contains(lower, ".jpg"), strings.Contains(lower, ".jpeg"):
		return "image/jpeg"
	case strings.Contains(lower, ".webp"):
		return "image/webp"
	case strings.Contains(lower, ".gif"):
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
