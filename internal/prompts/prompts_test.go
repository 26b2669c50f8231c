package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/docsight/internal/storage"
	"github.com/haasonsaas/docsight/pkg/models"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write prompt file: %v", err)
	}
}

func seededStore() *storage.MemoryStore {
	mem := storage.NewMemoryStore()
	mem.AddSystemPrompt(&models.SystemPrompt{Name: LLMSystem, Content: "Core instructions.", Active: true, Position: 1})
	mem.AddSystemPrompt(&models.SystemPrompt{Name: JSONAnnotation, Content: "Respond with the annotation schema.", Active: true, Position: 2})
	mem.AddSystemPrompt(&models.SystemPrompt{Name: HTMLOCR, Content: "HTML pages arrive as OCR text.", Active: true, Position: 3})
	return mem
}

const composedStore = "Core instructions.\n\nRespond with the annotation schema.\n\nHTML pages arrive as OCR text."

func TestGetOverlayWinsOverStore(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, LLMSystem, "File core.\n")
	r := New(dir, seededStore(), nil)

	if got := r.Get(context.Background(), LLMSystem); got != "File core." {
		t.Fatalf("Get(llm_system) = %q, want the trimmed file overlay", got)
	}
}

func TestGetFallsBackToStore(t *testing.T) {
	r := New(t.TempDir(), seededStore(), nil)
	ctx := context.Background()

	if got := r.Get(ctx, JSONAnnotation); got != "Respond with the annotation schema." {
		t.Fatalf("Get(json_annotation) = %q, want the store row", got)
	}
	if got := r.Get(ctx, "no_such_prompt"); got != "" {
		t.Fatalf("Get(no_such_prompt) = %q, want empty", got)
	}
}

func TestGetIgnoresInactiveStorePrompt(t *testing.T) {
	mem := storage.NewMemoryStore()
	mem.AddSystemPrompt(&models.SystemPrompt{Name: "draft", Content: "unfinished", Active: false})
	r := New("", mem, nil)

	if got := r.Get(context.Background(), "draft"); got != "" {
		t.Fatalf("Get(draft) = %q, want empty for an inactive row", got)
	}
}

func TestWhitespaceOnlyFileCountsAsMissing(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, LLMSystem, "   \n\t\n")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a prompt"), 0o644); err != nil {
		t.Fatalf("write notes.txt: %v", err)
	}
	r := New(dir, seededStore(), nil)
	ctx := context.Background()

	if got := r.Get(ctx, LLMSystem); got != "Core instructions." {
		t.Fatalf("Get(llm_system) = %q, want fallback past the blank file", got)
	}
	if got := r.Get(ctx, "notes"); got != "" {
		t.Fatalf("Get(notes) = %q, want non-md files ignored", got)
	}
}

func TestComposeOrder(t *testing.T) {
	mem := seededStore()
	mem.AddUserPrompt(&models.UserPrompt{ID: "role-1", UserID: "u1", Name: "auditor", Content: "You are a meticulous auditor.", Active: true})
	r := New("", mem, nil)
	ctx := context.Background()

	settings := &models.UserSettings{UserID: "u1", SelectedRolePromptID: "role-1"}
	if got, want := r.Compose(ctx, settings), "You are a meticulous auditor.\n\n"+composedStore; got != want {
		t.Fatalf("Compose with role = %q, want %q", got, want)
	}
	if got := r.Compose(ctx, nil); got != composedStore {
		t.Fatalf("Compose without settings = %q, want %q", got, composedStore)
	}
	if got := r.Compose(ctx, &models.UserSettings{UserID: "u1", SelectedRolePromptID: "gone"}); got != composedStore {
		t.Fatalf("Compose with dangling role id = %q, want %q", got, composedStore)
	}
}

func TestComposeUsesOverlayFragments(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, JSONAnnotation, "File schema.")
	r := New(dir, seededStore(), nil)

	want := "Core instructions.\n\nFile schema.\n\nHTML pages arrive as OCR text."
	if got := r.Compose(context.Background(), nil); got != want {
		t.Fatalf("Compose = %q, want overlay fragment in place, %q", got, want)
	}
}

func TestAnswerFallbackChain(t *testing.T) {
	ctx := context.Background()

	t.Run("phase file wins", func(t *testing.T) {
		dir := t.TempDir()
		writePrompt(t, dir, FlashAnswer, "Answer fast.")
		writePrompt(t, dir, LLMSystem, "File core.")
		r := New(dir, seededStore(), nil)
		if got := r.Answer(ctx, FlashAnswer, nil); got != "Answer fast." {
			t.Fatalf("Answer = %q, want the phase file", got)
		}
	})

	t.Run("llm_system file fallback", func(t *testing.T) {
		dir := t.TempDir()
		writePrompt(t, dir, LLMSystem, "File core.")
		r := New(dir, seededStore(), nil)
		if got := r.Answer(ctx, ProAnswer, nil); got != "File core." {
			t.Fatalf("Answer = %q, want the llm_system file", got)
		}
	})

	t.Run("store composition fallback", func(t *testing.T) {
		r := New(t.TempDir(), seededStore(), nil)
		if got := r.Answer(ctx, ProAnswer, nil); got != composedStore {
			t.Fatalf("Answer = %q, want %q", got, composedStore)
		}
	})

	t.Run("nothing resolves", func(t *testing.T) {
		r := New("", storage.NewMemoryStore(), nil)
		if got := r.Answer(ctx, FlashAnswer, nil); got != "" {
			t.Fatalf("Answer = %q, want empty", got)
		}
	})
}

func TestExtractorFallsBackToComposition(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writePrompt(t, dir, LLMSystem, "File core.")
	r := New(dir, seededStore(), nil)

	// Unlike Answer there is no llm_system file shortcut; the overlay still
	// supplies that fragment inside the composition.
	want := "File core.\n\nRespond with the annotation schema.\n\nHTML pages arrive as OCR text."
	if got := r.Extractor(ctx, nil); got != want {
		t.Fatalf("Extractor = %q, want %q", got, want)
	}

	writePrompt(t, dir, FlashExtractor, "Collect evidence.")
	r2 := New(dir, seededStore(), nil)
	if got := r2.Extractor(ctx, nil); got != "Collect evidence." {
		t.Fatalf("Extractor = %q, want the flash_extractor file", got)
	}
}

func TestWithHTMLNote(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, HTMLOCR, "Treat HTML as page captures.")
	r := New(dir, seededStore(), nil)

	if got := r.WithHTMLNote("Base.", false); got != "Base." {
		t.Fatalf("WithHTMLNote without HTML = %q", got)
	}
	if got := r.WithHTMLNote("Base.", true); got != "Base.\n\nTreat HTML as page captures." {
		t.Fatalf("WithHTMLNote = %q", got)
	}
	if got := r.WithHTMLNote("", true); got != "Treat HTML as page captures." {
		t.Fatalf("WithHTMLNote on empty base = %q", got)
	}

	// The store fragment is already part of Compose output, so without an
	// overlay file nothing is appended.
	r2 := New(t.TempDir(), seededStore(), nil)
	if got := r2.WithHTMLNote("Base.", true); got != "Base." {
		t.Fatalf("WithHTMLNote without overlay = %q", got)
	}
}

func TestWatchReloadsOverlay(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, FlashAnswer, "v1")
	r := New(dir, storage.NewMemoryStore(), nil)
	if err := r.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	if got := r.Get(ctx, FlashAnswer); got != "v1" {
		t.Fatalf("Get before edit = %q", got)
	}

	writePrompt(t, dir, FlashAnswer, "v2")
	waitForPrompt(t, r, FlashAnswer, "v2")

	writePrompt(t, dir, DocumentFacts, "Extract key facts.")
	waitForPrompt(t, r, DocumentFacts, "Extract key facts.")

	if err := os.Remove(filepath.Join(dir, FlashAnswer+".md")); err != nil {
		t.Fatalf("remove prompt file: %v", err)
	}
	waitForPrompt(t, r, FlashAnswer, "")
}

func TestWatchMissingDir(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "absent"), storage.NewMemoryStore(), nil)
	if err := r.Watch(context.Background()); err == nil {
		t.Fatal("Watch on a missing dir should fail")
	}
	if got := r.Get(context.Background(), FlashAnswer); got != "" {
		t.Fatalf("Get = %q, want empty overlay for a missing dir", got)
	}
}

func waitForPrompt(t *testing.T, r *Resolver, name, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Get(context.Background(), name) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("prompt %q never became %q", name, want)
}
