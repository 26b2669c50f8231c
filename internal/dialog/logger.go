// Package dialog writes the per-chat LLM conversation trace. The trace is
// append-only and best-effort: an entry that cannot be written never fails
// the request it describes.
package dialog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends timestamped sections to one chat's dialog file.
type Logger struct {
	path     string
	maxChars int
	enabled  bool
	mu       sync.Mutex
}

// LogPath returns the trace file location for a chat. The deletion worker
// uses it to remove the trace without holding a Logger.
func LogPath(dir, chatID string) string {
	return filepath.Join(dir, fmt.Sprintf("llm_dialog_%s.log", chatID))
}

// New opens a logger for one chat. An empty dir disables tracing entirely.
func New(dir, chatID string, truncateChars int) *Logger {
	if dir == "" {
		return &Logger{}
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Logger{
		path:     LogPath(dir, chatID),
		maxChars: truncateChars,
		enabled:  true,
	}
}

// Section appends one titled entry. Objects are pretty-printed JSON, strings
// are truncated to the configured cap, nil logs an empty body.
func (l *Logger) Section(title string, content any) {
	if l == nil || !l.enabled {
		return
	}
	var b strings.Builder
	bar := strings.Repeat("=", 20)
	fmt.Fprintf(&b, "\n[%s] %s %s %s\n", timestamp(), bar, title, bar)
	b.WriteString(l.format(content))
	b.WriteString("\n")
	l.append(b.String())
}

// Line appends one timestamped line.
func (l *Logger) Line(text string) {
	if l == nil || !l.enabled {
		return
	}
	l.append(fmt.Sprintf("[%s] %s\n", timestamp(), text))
}

// Request logs an outgoing LLM call with its prompts and file references.
func (l *Logger) Request(phase, model, systemPrompt, userPrompt string, files []string) {
	if l == nil || !l.enabled {
		return
	}
	if files == nil {
		files = []string{}
	}
	payload := struct {
		Phase        string   `json:"phase"`
		Model        string   `json:"model"`
		SystemPrompt string   `json:"system_prompt"`
		UserPrompt   string   `json:"user_prompt"`
		Files        []string `json:"files"`
	}{phase, model, l.truncate(systemPrompt), l.truncate(userPrompt), files}
	l.Section("LLM REQUEST - "+phase, payload)
}

// Response logs a raw LLM response body.
func (l *Logger) Response(phase, responseText string) {
	l.Section("LLM RESPONSE - "+phase, responseText)
}

func (l *Logger) format(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return l.truncate(v)
	case error:
		return l.truncate(v.Error())
	default:
		out, err := marshalIndent(v)
		if err != nil {
			return l.truncate(fmt.Sprintf("%v", v))
		}
		return string(out)
	}
}

func (l *Logger) truncate(text string) string {
	if l.maxChars <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= l.maxChars {
		return text
	}
	return fmt.Sprintf("<truncated %d chars>\n%s...\n", len(r), string(r[:l.maxChars]))
}

func (l *Logger) append(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(entry)
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
