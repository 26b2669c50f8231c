package models

import "time"

// EventType names one kind of stream event.
type EventType string

const (
	EventPhaseStarted      EventType = "phase_started"
	EventPhaseProgress     EventType = "phase_progress"
	EventLLMToken          EventType = "llm_token"
	EventLLMThinking       EventType = "llm_thinking"
	EventLLMFinal          EventType = "llm_final"
	EventToolCall          EventType = "tool_call"
	EventImageReady        EventType = "image_ready"
	EventQueuePosition     EventType = "queue_position"
	EventProcessingStarted EventType = "processing_started"
	EventError             EventType = "error"
	EventCompleted         EventType = "completed"
)

// StreamEvent is one entry of a request's ordered event stream. Data is the
// typed payload for the event kind; the transport serialises it verbatim.
type StreamEvent struct {
	Type      EventType `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStreamEvent stamps an event with the current UTC time.
func NewStreamEvent(t EventType, data any) StreamEvent {
	return StreamEvent{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}

// PhaseStartedData opens a pipeline phase.
type PhaseStartedData struct {
	Phase       string `json:"phase"`
	Description string `json:"description,omitempty"`
}

// PhaseProgressData reports progress inside a phase.
type PhaseProgressData struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// TokenData carries one visible answer delta. Accumulated is the extracted
// answer_markdown so far, never the raw JSON surface.
type TokenData struct {
	Delta       string `json:"delta"`
	Accumulated string `json:"accumulated"`
}

// ThinkingData carries one reasoning delta when the provider exposes them.
type ThinkingData struct {
	Delta string `json:"delta"`
}

// FinalData carries the finished answer markdown and the tier that wrote it.
type FinalData struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// ToolCallData reports an evidence resolution step (request_images, zoom).
type ToolCallData struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ImageReadyData announces one uploaded render.
type ImageReadyData struct {
	BlockID string     `json:"block_id"`
	Kind    RenderKind `json:"kind"`
	URL     string     `json:"url,omitempty"`
	Width   int        `json:"width,omitempty"`
	Height  int        `json:"height,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// QueuePositionData is the periodic waiting-state report.
type QueuePositionData struct {
	Position             int     `json:"position"`
	EstimatedWaitSeconds float64 `json:"estimated_wait_seconds"`
	ActiveRequests       int     `json:"active_requests"`
	QueueSize            int     `json:"queue_size"`
}

// ProcessingStartedData marks queue admission.
type ProcessingStartedData struct {
	RequestID string `json:"request_id"`
}

// ErrorData terminates a stream with a failure. Details is empty unless
// debug is enabled.
type ErrorData struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// CompletedData terminates a stream successfully.
type CompletedData struct {
	MessageID string `json:"message_id,omitempty"`
}
