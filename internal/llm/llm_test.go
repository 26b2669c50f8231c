package llm

import (
	"context"
	"errors"
	"iter"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/observability"
)

func testClient() *Client {
	return &Client{cfg: config.Default().LLM, log: observability.NopLogger()}
}

func TestBuildConfigDefaults(t *testing.T) {
	c := testClient()
	cfg := c.buildConfig(Request{Model: "gemini-3-flash-preview"})

	if cfg.Temperature == nil || *cfg.Temperature != 1.0 {
		t.Errorf("Temperature = %v, want 1.0", cfg.Temperature)
	}
	if cfg.TopP == nil || *cfg.TopP != 0.95 {
		t.Errorf("TopP = %v, want 0.95", cfg.TopP)
	}
	if cfg.MaxOutputTokens != 8192 {
		t.Errorf("MaxOutputTokens = %d, want 8192", cfg.MaxOutputTokens)
	}
	if cfg.MediaResolution != genai.MediaResolutionHigh {
		t.Errorf("MediaResolution = %q, want high", cfg.MediaResolution)
	}
	if cfg.SystemInstruction != nil {
		t.Error("SystemInstruction should be unset without a system prompt")
	}
	if cfg.ResponseMIMEType != "" || cfg.ResponseSchema != nil {
		t.Error("response schema should be unset without a schema")
	}
	tc := cfg.ThinkingConfig
	if tc == nil || !tc.IncludeThoughts {
		t.Fatalf("ThinkingConfig = %+v, want thoughts included", tc)
	}
	if tc.ThinkingBudget != nil {
		t.Errorf("ThinkingBudget = %v, want provider default", *tc.ThinkingBudget)
	}
}

func TestBuildConfigOverrides(t *testing.T) {
	c := testClient()
	temp, topP := 0.2, 0.5
	req := Request{
		Model:           "gemini-3-pro-preview",
		System:          "be terse",
		Schema:          IntentSchema,
		Temperature:     &temp,
		TopP:            &topP,
		MaxOutputTokens: 1024,
		ThinkingBudget:  512,
		MediaResolution: "low",
	}
	cfg := c.buildConfig(req)

	if *cfg.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", *cfg.Temperature)
	}
	if *cfg.TopP != 0.5 {
		t.Errorf("TopP = %v, want 0.5", *cfg.TopP)
	}
	if cfg.MaxOutputTokens != 1024 {
		t.Errorf("MaxOutputTokens = %d, want 1024", cfg.MaxOutputTokens)
	}
	if cfg.MediaResolution != genai.MediaResolutionLow {
		t.Errorf("MediaResolution = %q, want low", cfg.MediaResolution)
	}
	if cfg.SystemInstruction == nil || len(cfg.SystemInstruction.Parts) != 1 || cfg.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("SystemInstruction = %+v, want system text", cfg.SystemInstruction)
	}
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q, want application/json", cfg.ResponseMIMEType)
	}
	if cfg.ResponseSchema != IntentSchema.response {
		t.Error("ResponseSchema should come from the request schema")
	}
	if tc := cfg.ThinkingConfig; tc == nil || tc.ThinkingBudget == nil || *tc.ThinkingBudget != 512 {
		t.Errorf("ThinkingConfig = %+v, want budget 512", tc)
	}
}

func TestThinkingDisabled(t *testing.T) {
	c := testClient()
	c.cfg.ThinkingEnabled = false
	tc := c.thinkingConfig(Request{ThinkingBudget: 512})
	if tc == nil || tc.ThinkingBudget == nil || *tc.ThinkingBudget != 0 {
		t.Fatalf("ThinkingConfig = %+v, want explicit zero budget", tc)
	}
	if tc.IncludeThoughts {
		t.Error("disabled thinking should not include thoughts")
	}
}

func TestUserContent(t *testing.T) {
	req := Request{
		Message: "what changed?",
		Files: []FileRef{
			{URI: "https://files.example/docs/a.pdf?sig=1"},
			{URI: "gs://bucket/b", MIMEType: "text/markdown"},
		},
	}
	content := userContent(req)

	if content.Role != genai.RoleUser {
		t.Errorf("Role = %q, want user", content.Role)
	}
	if len(content.Parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(content.Parts))
	}
	first := content.Parts[0].FileData
	if first == nil || first.MIMEType != "application/pdf" {
		t.Errorf("first part = %+v, want inferred application/pdf", first)
	}
	second := content.Parts[1].FileData
	if second == nil || second.MIMEType != "text/markdown" {
		t.Errorf("second part = %+v, want explicit text/markdown", second)
	}
	if content.Parts[2].Text != "what changed?" {
		t.Errorf("last part = %q, want message text", content.Parts[2].Text)
	}
}

func TestGuessMIMEType(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"report.pdf", "application/pdf"},
		{"https://files.example/x/report.PDF?sig=abc", "application/pdf"},
		{"notes_document.md", "text/markdown"},
		{"page.html", "text/html"},
		{"readme.txt", "text/plain"},
		{"blocks.json", "application/json"},
		{"table.csv", "text/csv"},
		{"crop.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"anim.webp", "image/webp"},
		{"anim.gif", "image/gif"},
		{"archive.zip", "application/octet-stream"},
		{"", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := GuessMIMEType(tt.uri); got != tt.want {
			t.Errorf("GuessMIMEType(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestRequestTierAndPhase(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantTier  string
		wantPhase string
	}{
		{"explicit", Request{Tier: TierPro, Phase: "answer"}, TierPro, "answer"},
		{"pro from model", Request{Model: "gemini-3-pro-preview"}, TierPro, "other"},
		{"flash fallback", Request{Model: "gemini-3-flash-preview", Phase: "collector"}, TierFlash, "collector"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.tier(); got != tt.wantTier {
				t.Errorf("tier() = %q, want %q", got, tt.wantTier)
			}
			if got := tt.req.phase(); got != tt.wantPhase {
				t.Errorf("phase() = %q, want %q", got, tt.wantPhase)
			}
		})
	}
}

type streamPair struct {
	resp *genai.GenerateContentResponse
	err  error
}

func fakeStream(pairs ...streamPair) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, p := range pairs {
			if !yield(p.resp, p.err) {
				return
			}
		}
	}
}

func partsResp(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestConsumeStream(t *testing.T) {
	c := testClient()
	stream := fakeStream(
		streamPair{resp: partsResp(
			&genai.Part{Text: "planning the answer", Thought: true},
			&genai.Part{Text: "The contract"},
		)},
		streamPair{resp: nil},
		streamPair{resp: partsResp(&genai.Part{Text: " was amended."})},
	)

	chunks := make(chan Chunk, 16)
	if err := c.consumeStream(context.Background(), stream, chunks); err != nil {
		t.Fatalf("consumeStream: %v", err)
	}
	close(chunks)

	var got []Chunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	want := []Chunk{
		{Type: ChunkThinking, Text: "planning the answer"},
		{Type: ChunkText, Text: "The contract"},
		{Type: ChunkText, Text: " was amended."},
	}
	if len(got) != len(want) {
		t.Fatalf("chunks = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestConsumeStreamError(t *testing.T) {
	c := testClient()
	boom := errors.New("rate limited")
	stream := fakeStream(
		streamPair{resp: partsResp(&genai.Part{Text: "partial"})},
		streamPair{err: boom},
	)

	chunks := make(chan Chunk, 16)
	if err := c.consumeStream(context.Background(), stream, chunks); !errors.Is(err, boom) {
		t.Fatalf("consumeStream error = %v, want %v", err, boom)
	}
}

func TestConsumeStreamCancelled(t *testing.T) {
	c := testClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := fakeStream(streamPair{resp: partsResp(&genai.Part{Text: "never delivered"})})
	chunks := make(chan Chunk) // no reader
	if err := c.consumeStream(ctx, stream, chunks); !errors.Is(err, context.Canceled) {
		t.Fatalf("consumeStream error = %v, want context.Canceled", err)
	}
}

func TestResponseText(t *testing.T) {
	resp := partsResp(
		&genai.Part{Text: "hidden reasoning", Thought: true},
		&genai.Part{Text: `{"answer_markdown":`},
		&genai.Part{Text: `"done"}`},
	)
	if got, want := responseText(resp), `{"answer_markdown":"done"}`; got != want {
		t.Errorf("responseText = %q, want %q", got, want)
	}
	if responseText(nil) != "" {
		t.Error("nil response should yield empty text")
	}
	if responseText(&genai.GenerateContentResponse{}) != "" {
		t.Error("empty response should yield empty text")
	}
}
