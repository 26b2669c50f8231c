// Package events carries the ordered per-request event stream between
// the analysis pipeline and the transport. One producer, one consumer;
// events are never reordered or dropped. When the consumer walks away
// the producer learns about it at its next publish and unwinds.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/haasonsaas/docsight/pkg/models"
)

// ErrConsumerGone is returned by Publish once the consumer abandoned
// the stream. Producers treat it as a cancellation signal.
var ErrConsumerGone = errors.New("events: consumer gone")

const defaultBuffer = 100

// Stream is the event channel for one analysis request.
//
// The producer side publishes until done and then calls Close exactly
// once; publishing after Close is a bug. The consumer side ranges over
// Events until the channel closes or a terminal event arrives, and
// calls Abandon when it stops early so blocked publishers unwind.
type Stream struct {
	ch   chan models.StreamEvent
	gone chan struct{}

	abandonOnce sync.Once
	closeOnce   sync.Once
}

// NewStream returns a stream with room for short token bursts. The
// buffer only smooths delivery; ordering and no-drop hold at any size.
func NewStream() *Stream {
	return newStream(defaultBuffer)
}

func newStream(buffer int) *Stream {
	return &Stream{
		ch:   make(chan models.StreamEvent, buffer),
		gone: make(chan struct{}),
	}
}

// Publish stamps data with the current UTC time and queues it. It
// blocks while the consumer is behind and returns ErrConsumerGone or
// the context error when delivery can no longer happen.
func (s *Stream) Publish(ctx context.Context, t models.EventType, data any) error {
	select {
	case <-s.gone:
		return ErrConsumerGone
	default:
	}

	select {
	case s.ch <- models.NewStreamEvent(t, data):
		return nil
	case <-s.gone:
		return ErrConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer's end. It closes after the producer calls
// Close.
func (s *Stream) Events() <-chan models.StreamEvent {
	return s.ch
}

// Close ends the stream from the producer side.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Abandon signals that the consumer stopped reading. Safe to call more
// than once and concurrently with Publish.
func (s *Stream) Abandon() {
	s.abandonOnce.Do(func() { close(s.gone) })
}
