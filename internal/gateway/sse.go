package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/haasonsaas/docsight/internal/agent"
	"github.com/haasonsaas/docsight/internal/events"
	"github.com/haasonsaas/docsight/internal/queue"
	"github.com/haasonsaas/docsight/pkg/models"
)

// streamRequest runs the request through the queue and pipeline while
// relaying the event stream as SSE frames. The producer owns every
// event except the terminal error: when it returns an error the
// transport publishes the error event, so exactly one terminal event
// closes every stream.
func (s *Server) streamRequest(w http.ResponseWriter, r *http.Request, req agent.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	stream := events.NewStream()
	// On early handler exit the producer finds the bus abandoned at its
	// next publish and unwinds.
	defer stream.Abandon()

	go func() {
		err := s.queue.Execute(ctx, req.ChatID, stream, func(ctx context.Context) error {
			return s.pipeline.Process(ctx, req, stream)
		})
		if err != nil && !errors.Is(err, events.ErrConsumerGone) {
			s.log.Error(ctx, "request failed", "chat_id", req.ChatID, "error", err)
			data := models.ErrorData{Message: publicError(err)}
			if s.cfg.Server.Debug {
				data.Details = err.Error()
			}
			_ = stream.Publish(ctx, models.EventError, data)
		}
		stream.Close()
	}()

	for ev := range stream.Events() {
		if err := writeSSE(w, ev); err != nil {
			// Client went away; the deferred Abandon stops the producer.
			return
		}
		flusher.Flush()
		if ev.Terminal() {
			return
		}
	}
}

// writeSSE frames one event: "event: <name>\ndata: <json>\n\n".
func writeSSE(w http.ResponseWriter, ev models.StreamEvent) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}

// publicError maps pipeline failures to client-safe messages. Details
// only ride along in debug mode.
func publicError(err error) string {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return "server busy, try again later"
	case errors.Is(err, queue.ErrAcquireTimeout):
		return "request timed out waiting for a slot"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return "request processing failed"
	}
}
