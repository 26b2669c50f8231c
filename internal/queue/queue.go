// Package queue admits analysis requests into a bounded set of
// concurrent pipeline slots. Waiting requests hold a FIFO position and
// stream periodic queue_position updates; admission is guarded by a
// weighted semaphore and an overall timeout.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/events"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/pkg/models"
)

var (
	// ErrQueueFull rejects new requests once the waiting set is at
	// capacity. Surfaced immediately, never retried here.
	ErrQueueFull = errors.New("queue: full")

	// ErrAcquireTimeout means no slot freed up within the admission
	// deadline. The request is already removed from the waiting set.
	ErrAcquireTimeout = errors.New("queue: timed out waiting for a slot")
)

// statusInterval is how often waiting requests hear their position.
const statusInterval = 2 * time.Second

// initialAvgProcessing seeds the wait estimator before any request has
// completed.
const initialAvgProcessing = 15.0

type queuedRequest struct {
	id        string
	chatID    string
	createdAt time.Time
	startedAt time.Time
}

// Status is a point-in-time view of one waiting request. Position is
// the 1-based FIFO index, or 0 once the request left the waiting set.
type Status struct {
	Position             int
	EstimatedWaitSeconds float64
	ActiveRequests       int
	QueueSize            int
}

func (s Status) positionData() models.QueuePositionData {
	return models.QueuePositionData{
		Position:             s.Position,
		EstimatedWaitSeconds: s.EstimatedWaitSeconds,
		ActiveRequests:       s.ActiveRequests,
		QueueSize:            s.QueueSize,
	}
}

// Queue is the process-wide admission controller. Create one at startup
// and hand it to the transport.
type Queue struct {
	log     *observability.Logger
	metrics *observability.Metrics

	sem           *semaphore.Weighted
	maxConcurrent int
	maxSize       int
	timeout       time.Duration

	mu      sync.Mutex
	waiting map[string]*queuedRequest
	active  map[string]*queuedRequest
	order   []string

	// Wait estimator: a running mean over completed processing times.
	avgProcessing   float64
	totalProcessing float64
	completed       int
}

// New builds a queue from configuration. Zero or negative knobs fall
// back to safe minimums.
func New(cfg config.QueueConfig, log *observability.Logger, metrics *observability.Metrics) *Queue {
	if log == nil {
		log = observability.NopLogger()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 1
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Queue{
		log:           log,
		metrics:       metrics,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: maxConcurrent,
		maxSize:       maxSize,
		timeout:       timeout,
		waiting:       make(map[string]*queuedRequest),
		active:        make(map[string]*queuedRequest),
		avgProcessing: initialAvgProcessing,
	}
}

// Execute runs producer under queue admission. Queue lifecycle events
// (queue_position, processing_started) go to stream; terminal error
// events are the caller's job, keyed off the returned error. The slot
// is released on every exit path.
func (q *Queue) Execute(ctx context.Context, chatID string, stream *events.Stream, producer func(context.Context) error) error {
	requestID, status, err := q.Enqueue(chatID)
	if err != nil {
		return err
	}

	if err := stream.Publish(ctx, models.EventQueuePosition, status.positionData()); err != nil {
		q.remove(requestID)
		return err
	}

	if err := q.acquire(ctx, requestID, stream); err != nil {
		return err
	}
	defer q.release(requestID)

	if err := stream.Publish(ctx, models.EventProcessingStarted, models.ProcessingStartedData{RequestID: requestID}); err != nil {
		return err
	}
	return producer(ctx)
}

// Enqueue registers a request in the waiting set, failing fast with
// ErrQueueFull at capacity. The returned status reflects the position
// just taken.
func (q *Queue) Enqueue(chatID string) (string, Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) >= q.maxSize {
		return "", Status{}, fmt.Errorf("%w: %d requests waiting", ErrQueueFull, len(q.waiting))
	}

	id := uuid.NewString()
	q.waiting[id] = &queuedRequest{id: id, chatID: chatID, createdAt: time.Now()}
	q.order = append(q.order, id)
	q.updateGaugesLocked()

	status := q.statusLocked(id)
	q.log.Info(context.Background(), "request enqueued",
		"request_id", id, "chat_id", chatID, "position", status.Position, "queue_size", status.QueueSize)
	return id, status, nil
}

// Status reports the current queue view for one request.
func (q *Queue) Status(requestID string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked(requestID)
}

func (q *Queue) statusLocked(requestID string) Status {
	position := 0
	if _, ok := q.waiting[requestID]; ok {
		position = len(q.order)
		for i, id := range q.order {
			if id == requestID {
				position = i + 1
				break
			}
		}
	}
	return Status{
		Position:             position,
		EstimatedWaitSeconds: math.Floor(float64(position) * q.avgProcessing),
		ActiveRequests:       len(q.active),
		QueueSize:            len(q.waiting),
	}
}

// acquire waits for a slot, re-publishing the queue position every
// statusInterval. On success the request moves to the active set; on
// timeout, cancellation, or a gone consumer it leaves the queue
// entirely and the semaphore stays balanced.
func (q *Queue) acquire(ctx context.Context, requestID string, stream *events.Stream) error {
	acquireCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	acquired := make(chan error, 1)
	go func() { acquired <- q.sem.Acquire(acquireCtx, 1) }()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-acquired:
			if err != nil {
				q.remove(requestID)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				q.log.Warn(ctx, "queue admission timed out", "request_id", requestID)
				return ErrAcquireTimeout
			}
			q.admit(requestID)
			return nil

		case <-ticker.C:
			status := q.Status(requestID)
			if status.Position <= 0 {
				continue
			}
			if pubErr := stream.Publish(ctx, models.EventQueuePosition, status.positionData()); pubErr != nil {
				cancel()
				if err := <-acquired; err == nil {
					q.sem.Release(1)
				}
				q.remove(requestID)
				return pubErr
			}
		}
	}
}

func (q *Queue) admit(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.waiting[requestID]
	if !ok {
		return
	}
	delete(q.waiting, requestID)
	req.startedAt = time.Now()
	q.active[requestID] = req
	for i, id := range q.order {
		if id == requestID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.updateGaugesLocked()
	if q.metrics != nil {
		q.metrics.QueueWaitDuration.Observe(req.startedAt.Sub(req.createdAt).Seconds())
	}
	q.log.Info(context.Background(), "request admitted",
		"request_id", requestID, "active", len(q.active), "waited_ms", req.startedAt.Sub(req.createdAt).Milliseconds())
}

// release frees the slot and feeds the wait estimator. Call only after
// a successful admit.
func (q *Queue) release(requestID string) {
	q.mu.Lock()
	req, ok := q.active[requestID]
	if ok {
		delete(q.active, requestID)
		elapsed := time.Since(req.startedAt).Seconds()
		q.totalProcessing += elapsed
		q.completed++
		q.avgProcessing = q.totalProcessing / float64(q.completed)
		q.log.Info(context.Background(), "request completed",
			"request_id", requestID, "elapsed_s", elapsed, "avg_s", q.avgProcessing)
	}
	q.updateGaugesLocked()
	q.mu.Unlock()

	if ok {
		q.sem.Release(1)
	}
}

// remove drops a request that never got a slot.
func (q *Queue) remove(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.waiting, requestID)
	for i, id := range q.order {
		if id == requestID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.updateGaugesLocked()
}

func (q *Queue) updateGaugesLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.QueueWaiting.Set(float64(len(q.waiting)))
	q.metrics.QueueActive.Set(float64(len(q.active)))
}

// Shutdown waits for active requests to finish by draining every slot,
// bounded by ctx. Waiting requests keep their admission timeout.
func (q *Queue) Shutdown(ctx context.Context) error {
	if err := q.sem.Acquire(ctx, int64(q.maxConcurrent)); err != nil {
		return fmt.Errorf("queue: shutdown drain: %w", err)
	}
	q.sem.Release(int64(q.maxConcurrent))
	return nil
}
