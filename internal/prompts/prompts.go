// Package prompts resolves the named prompt fragments the pipeline sends
// as LLM system prompts. Files in a configured directory (<name>.md)
// overlay prompt rows from the store, and the directory is watched so
// edits apply without a restart.
package prompts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/storage"
	"github.com/haasonsaas/docsight/pkg/models"
)

// Prompt names looked up by the pipeline phases.
const (
	AnalysisRouter = "analysis_router"
	ROIRequest     = "roi_request"
	FlashAnswer    = "flash_answer"
	ProAnswer      = "pro_answer"
	FlashExtractor = "flash_extractor"
	DocumentFacts  = "document_facts"

	// Store fragments composed into the default system prompt.
	LLMSystem      = "llm_system"
	JSONAnnotation = "json_annotation"
	HTMLOCR        = "html_ocr"
)

const reloadDebounce = 250 * time.Millisecond

// Resolver serves prompts by name. The file overlay wins over the store;
// names are case-sensitive and whitespace-only content counts as missing.
type Resolver struct {
	dir   string
	store storage.PromptStore
	log   *observability.Logger

	mu    sync.RWMutex
	files map[string]string

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// New builds a resolver over the overlay directory and the prompt store.
// An empty dir disables the overlay; a missing dir behaves like an empty
// one. Call Watch to pick up edits made after startup.
func New(dir string, store storage.PromptStore, log *observability.Logger) *Resolver {
	if log == nil {
		log = observability.NopLogger()
	}
	r := &Resolver{dir: dir, store: store, log: log, files: map[string]string{}}
	if dir != "" {
		r.reload()
	}
	return r
}

// Get returns the prompt for name, or "" when neither the overlay nor the
// store has it.
func (r *Resolver) Get(ctx context.Context, name string) string {
	if p := r.file(name); p != "" {
		return p
	}
	if r.store == nil {
		return ""
	}
	prompt, err := r.store.SystemPromptByName(ctx, name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.log.Warn(ctx, "prompt store lookup failed", "prompt", name, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(prompt.Content)
}

// Compose builds the default system prompt: the user's selected role
// prompt first, then the llm_system, json_annotation and html_ocr
// fragments in that order, joined by blank lines.
func (r *Resolver) Compose(ctx context.Context, settings *models.UserSettings) string {
	var parts []string
	if settings != nil && settings.SelectedRolePromptID != "" && r.store != nil {
		role, err := r.store.UserPromptByID(ctx, settings.SelectedRolePromptID)
		switch {
		case err == nil:
			if content := strings.TrimSpace(role.Content); content != "" {
				parts = append(parts, content)
			}
		case !errors.Is(err, storage.ErrNotFound):
			r.log.Warn(ctx, "role prompt lookup failed",
				"prompt_id", settings.SelectedRolePromptID, "error", err)
		}
	}
	for _, name := range []string{LLMSystem, JSONAnnotation, HTMLOCR} {
		if p := r.Get(ctx, name); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Answer resolves the answering prompt for a phase: the phase prompt
// itself, then the overlay's llm_system file, then the composed store
// prompts.
func (r *Resolver) Answer(ctx context.Context, name string, settings *models.UserSettings) string {
	if p := r.Get(ctx, name); p != "" {
		return p
	}
	if p := r.file(LLMSystem); p != "" {
		return p
	}
	return r.Compose(ctx, settings)
}

// Extractor resolves the evidence collector prompt, falling straight back
// to the composed store prompts.
func (r *Resolver) Extractor(ctx context.Context, settings *models.UserSettings) string {
	if p := r.Get(ctx, FlashExtractor); p != "" {
		return p
	}
	return r.Compose(ctx, settings)
}

// WithHTMLNote appends the html_ocr overlay prompt when the request
// carries HTML attachments. The store's html_ocr fragment already rides
// along in Compose, so only the file overlay is consulted here.
func (r *Resolver) WithHTMLNote(base string, hasHTML bool) string {
	if !hasHTML {
		return base
	}
	note := r.file(HTMLOCR)
	if note == "" {
		return base
	}
	if base == "" {
		return note
	}
	return base + "\n\n" + note
}

// Watch starts watching the overlay directory so later edits apply
// without a restart. No-op when no directory is configured.
func (r *Resolver) Watch(ctx context.Context) error {
	if r.dir == "" {
		return nil
	}
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	r.watcher = watcher
	r.watchCancel = cancel
	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the directory watcher, if any.
func (r *Resolver) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Resolver) file(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.files[name]
}

func (r *Resolver) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer r.watchWg.Done()

	var timerMu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, r.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn(ctx, "prompt watch error", "error", err)
		}
	}
}

func (r *Resolver) reload() {
	ctx := context.Background()
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn(ctx, "prompt dir read failed", "dir", r.dir, "error", err)
		}
		r.mu.Lock()
		r.files = map[string]string{}
		r.mu.Unlock()
		return
	}
	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.log.Warn(ctx, "prompt file read failed", "file", entry.Name(), "error", err)
			continue
		}
		files[strings.TrimSuffix(entry.Name(), ".md")] = strings.TrimSpace(string(data))
	}
	r.mu.Lock()
	r.files = files
	r.mu.Unlock()
	r.log.Debug(ctx, "prompt overlay loaded", "dir", r.dir, "count", len(files))
}
