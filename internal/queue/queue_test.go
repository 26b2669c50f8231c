package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/events"
	"github.com/haasonsaas/docsight/pkg/models"
)

func testQueue(maxConcurrent, maxSize int) *Queue {
	return New(config.QueueConfig{
		MaxConcurrent:  maxConcurrent,
		MaxSize:        maxSize,
		TimeoutSeconds: 300,
	}, nil, nil)
}

// drain collects every event until the stream closes.
func drain(s *events.Stream) <-chan []models.StreamEvent {
	out := make(chan []models.StreamEvent, 1)
	go func() {
		var got []models.StreamEvent
		for ev := range s.Events() {
			got = append(got, ev)
		}
		out <- got
	}()
	return out
}

func TestEnqueueFullRejects(t *testing.T) {
	q := testQueue(2, 2)

	if _, st, err := q.Enqueue("chat-1"); err != nil || st.Position != 1 {
		t.Fatalf("first Enqueue: status=%+v err=%v", st, err)
	}
	if _, st, err := q.Enqueue("chat-2"); err != nil || st.Position != 2 {
		t.Fatalf("second Enqueue: status=%+v err=%v", st, err)
	}
	if _, _, err := q.Enqueue("chat-3"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Enqueue err = %v, want ErrQueueFull", err)
	}
}

func TestExecuteRunsProducerAndReleases(t *testing.T) {
	q := testQueue(1, 10)
	stream := events.NewStream()
	ctx := context.Background()

	execErr := make(chan error, 1)
	go func() {
		err := q.Execute(ctx, "chat-1", stream, func(ctx context.Context) error {
			return stream.Publish(ctx, models.EventCompleted, models.CompletedData{MessageID: "m1"})
		})
		stream.Close()
		execErr <- err
	}()

	got := <-drain(stream)
	if err := <-execErr; err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("events = %d (%+v), want queue_position, processing_started, completed", len(got), got)
	}
	pos, ok := got[0].Data.(models.QueuePositionData)
	if got[0].Type != models.EventQueuePosition || !ok || pos.Position != 1 {
		t.Errorf("event[0] = %+v, want initial queue_position 1", got[0])
	}
	if pos.EstimatedWaitSeconds != initialAvgProcessing {
		t.Errorf("estimated wait = %v, want seed %v", pos.EstimatedWaitSeconds, initialAvgProcessing)
	}
	if got[1].Type != models.EventProcessingStarted {
		t.Errorf("event[1] = %+v, want processing_started", got[1])
	}
	if got[2].Type != models.EventCompleted {
		t.Errorf("event[2] = %+v, want completed", got[2])
	}

	if st := q.Status("missing"); st.ActiveRequests != 0 || st.QueueSize != 0 {
		t.Errorf("queue not drained after Execute: %+v", st)
	}

	// Slot must be reusable.
	stream2 := events.NewStream()
	go drain(stream2)
	if err := q.Execute(ctx, "chat-2", stream2, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	stream2.Close()
}

func TestSecondRequestWaitsAtPositionOne(t *testing.T) {
	q := testQueue(1, 10)
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	stream1 := events.NewStream()
	go drain(stream1)
	go func() {
		_ = q.Execute(ctx, "chat-1", stream1, func(context.Context) error {
			close(started)
			<-finish
			return nil
		})
		stream1.Close()
	}()
	<-started

	stream2 := events.NewStream()
	exec2 := make(chan error, 1)
	go func() {
		exec2 <- q.Execute(ctx, "chat-2", stream2, func(context.Context) error { return nil })
	}()

	ev := <-stream2.Events()
	pos, ok := ev.Data.(models.QueuePositionData)
	if ev.Type != models.EventQueuePosition || !ok {
		t.Fatalf("first event = %+v, want queue_position", ev)
	}
	if pos.Position != 1 || pos.ActiveRequests != 1 || pos.QueueSize != 1 {
		t.Errorf("status = %+v, want position 1 behind 1 active", pos)
	}

	close(finish)
	ev = <-stream2.Events()
	if ev.Type != models.EventProcessingStarted {
		t.Fatalf("next event = %+v, want processing_started after slot freed", ev)
	}
	if err := <-exec2; err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestAcquireTimeoutRemovesWaiter(t *testing.T) {
	q := testQueue(1, 10)
	q.timeout = 50 * time.Millisecond
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	stream1 := events.NewStream()
	go drain(stream1)
	go func() {
		_ = q.Execute(ctx, "chat-1", stream1, func(context.Context) error {
			close(started)
			<-finish
			return nil
		})
		stream1.Close()
	}()
	<-started

	stream2 := events.NewStream()
	go drain(stream2)
	err := q.Execute(ctx, "chat-2", stream2, func(context.Context) error {
		t.Error("producer must not run after timeout")
		return nil
	})
	stream2.Close()
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("Execute err = %v, want ErrAcquireTimeout", err)
	}
	if st := q.Status("missing"); st.QueueSize != 0 {
		t.Errorf("timed-out waiter still queued: %+v", st)
	}

	// The held slot is unaffected and still releases cleanly.
	close(finish)
	stream3 := events.NewStream()
	go drain(stream3)
	if err := q.Execute(ctx, "chat-3", stream3, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Execute after timeout: %v", err)
	}
	stream3.Close()
}

func TestConsumerGoneBeforeAdmission(t *testing.T) {
	q := testQueue(1, 10)
	stream := events.NewStream()
	stream.Abandon()

	err := q.Execute(context.Background(), "chat-1", stream, func(context.Context) error {
		t.Error("producer must not run for an abandoned stream")
		return nil
	})
	if !errors.Is(err, events.ErrConsumerGone) {
		t.Fatalf("Execute err = %v, want ErrConsumerGone", err)
	}
	if st := q.Status("missing"); st.QueueSize != 0 || st.ActiveRequests != 0 {
		t.Errorf("abandoned request left state behind: %+v", st)
	}
}

func TestProducerErrorStillReleases(t *testing.T) {
	q := testQueue(1, 10)
	stream := events.NewStream()
	go drain(stream)

	boom := errors.New("pipeline exploded")
	err := q.Execute(context.Background(), "chat-1", stream, func(context.Context) error { return boom })
	stream.Close()
	if !errors.Is(err, boom) {
		t.Fatalf("Execute err = %v, want producer error", err)
	}

	stream2 := events.NewStream()
	go drain(stream2)
	if err := q.Execute(context.Background(), "chat-2", stream2, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("slot not released after producer error: %v", err)
	}
	stream2.Close()
}

func TestWaitEstimatorUsesRunningMean(t *testing.T) {
	q := testQueue(2, 10)
	stream := events.NewStream()
	go drain(stream)

	if err := q.Execute(context.Background(), "chat-1", stream, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	stream.Close()

	q.mu.Lock()
	completed, avg := q.completed, q.avgProcessing
	q.mu.Unlock()
	if completed != 1 {
		t.Fatalf("completed = %d, want 1", completed)
	}
	if avg >= initialAvgProcessing {
		t.Errorf("avg = %v, want running mean below the %vs seed after a fast request", avg, initialAvgProcessing)
	}
}

func TestShutdownDrains(t *testing.T) {
	q := testQueue(2, 10)

	// Idle queue drains immediately.
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown idle: %v", err)
	}

	started := make(chan struct{})
	finish := make(chan struct{})
	stream := events.NewStream()
	go drain(stream)
	done := make(chan struct{})
	go func() {
		_ = q.Execute(context.Background(), "chat-1", stream, func(context.Context) error {
			close(started)
			<-finish
			return nil
		})
		stream.Close()
		close(done)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown with active request = %v, want deadline exceeded", err)
	}

	close(finish)
	<-done
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown after drain: %v", err)
	}
}
