// Package deletion removes everything a chat left behind: rendered
// artifacts in the object store, the local dialog trace, and the
// metadata rows. Deletion runs on a single background consumer so the
// request path only enqueues and returns.
package deletion

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/docsight/internal/dialog"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/storage"
)

// ErrBacklogFull is returned when the deletion backlog cannot take
// another chat. The chat stays visible and can be re-submitted.
var ErrBacklogFull = errors.New("deletion: backlog full")

// ErrStopped is returned when scheduling against a closed worker.
var ErrStopped = errors.New("deletion: worker stopped")

const (
	backlogSize = 256

	// drainTimeout bounds the shutdown drain before pending cascades
	// are abandoned to the next start.
	drainTimeout = 10 * time.Second
)

// ObjectDeleter is the slice of the artifact store the cascade needs.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Worker consumes chat IDs and runs the cascade for each: object-store
// artifacts first, then the dialog trace, then the metadata rows
// (chat_images, messages, chats, in that order inside the store).
// Per-item failures are logged and counted; they never abort the rest
// of the cascade.
type Worker struct {
	chats     storage.ChatStore
	objects   ObjectDeleter
	dialogDir string
	log       *observability.Logger
	metrics   *observability.Metrics

	queue chan string
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewWorker builds the worker and starts its consumer.
func NewWorker(chats storage.ChatStore, objects ObjectDeleter, dialogDir string, log *observability.Logger, metrics *observability.Metrics) *Worker {
	if log == nil {
		log = observability.NopLogger()
	}
	w := &Worker{
		chats:     chats,
		objects:   objects,
		dialogDir: dialogDir,
		log:       log,
		metrics:   metrics,
		queue:     make(chan string, backlogSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Schedule enqueues a chat for deletion without blocking.
func (w *Worker) Schedule(chatID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- chatID:
		w.log.Info(context.Background(), "deletion scheduled", "chat_id", chatID)
		return nil
	default:
		return ErrBacklogFull
	}
}

// Close stops intake and drains the backlog with a soft deadline.
// Cascades still queued when the deadline passes are dropped; the rows
// they would have removed stay until the chat is resubmitted.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		return errors.New("deletion: drain timed out")
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for chatID := range w.queue {
		w.deleteChat(context.Background(), chatID)
	}
}

// deleteChat runs one cascade. The order matters: once the metadata
// rows are gone the file list is unreachable, so objects go first.
func (w *Worker) deleteChat(ctx context.Context, chatID string) {
	ctx = observability.WithChatID(ctx, chatID)
	w.log.Info(ctx, "deleting chat", "chat_id", chatID)

	files, err := w.chats.ChatStorageFiles(ctx, chatID)
	if err != nil {
		w.log.Warn(ctx, "chat file listing failed", "chat_id", chatID, "error", err)
	}
	for _, f := range files {
		if f.Key == "" {
			continue
		}
		if err := w.objects.Delete(ctx, f.Key); err != nil {
			w.count("object", "error")
			w.log.Warn(ctx, "artifact delete failed", "key", f.Key, "error", err)
			continue
		}
		w.count("object", "success")
	}

	if w.dialogDir != "" {
		path := dialog.LogPath(w.dialogDir, chatID)
		switch err := os.Remove(path); {
		case err == nil:
			w.count("log", "success")
		case os.IsNotExist(err):
			// Nothing was ever logged for this chat.
		default:
			w.count("log", "error")
			w.log.Warn(ctx, "dialog trace delete failed", "path", path, "error", err)
		}
	}

	if err := w.chats.DeleteChatCascade(ctx, chatID); err != nil {
		w.count("rows", "error")
		w.log.Error(ctx, "metadata cascade failed", "chat_id", chatID, "error", err)
		return
	}
	w.count("rows", "success")
	w.log.Info(ctx, "chat deleted", "chat_id", chatID, "objects", len(files))
}

func (w *Worker) count(target, status string) {
	if w.metrics == nil {
		return
	}
	w.metrics.DeletionCounter.WithLabelValues(target, status).Inc()
}
