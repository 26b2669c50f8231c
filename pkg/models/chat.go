package models

import "time"

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ModelProfile selects the pipeline shape for a user.
type ModelProfile string

const (
	ProfileSimple  ModelProfile = "simple"
	ProfileComplex ModelProfile = "complex"
)

// User is an authenticated account.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	StaticToken string    `json:"-"`
	IsAdmin     bool      `json:"is_admin,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserSettings are per-user pipeline knobs. Zero-valued fields fall back to
// the configured defaults.
type UserSettings struct {
	UserID               string       `json:"user_id"`
	ModelProfile         ModelProfile `json:"model_profile"`
	SelectedRolePromptID string       `json:"selected_role_prompt_id,omitempty"`
	FlashModel           string       `json:"flash_model,omitempty"`
	ProModel             string       `json:"pro_model,omitempty"`
	Temperature          *float64     `json:"temperature,omitempty"`
	TopP                 *float64     `json:"top_p,omitempty"`
	UpdatedAt            time.Time    `json:"updated_at,omitempty"`
}

// SystemPrompt is a named prompt fragment composed into LLM system prompts.
type SystemPrompt struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	Active   bool   `json:"active"`
	Position int    `json:"position"`
}

// UserPrompt is a user-owned role prompt selectable in settings.
type UserPrompt struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Active  bool   `json:"active"`
}

// Chat is one conversation.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat turn.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Type      string    `json:"type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatImage links a rendered PNG to the message it illustrates.
type ChatImage struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	MessageID   string    `json:"message_id"`
	FileID      string    `json:"file_id,omitempty"`
	ImageType   string    `json:"image_type"`
	Description string    `json:"description,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StorageFile is a registered object-store artifact. Chats reference files
// through chat_images rows, not directly.
type StorageFile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	FileName    string    `json:"filename,omitempty"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	SourceType  string    `json:"source_type,omitempty"`
	PublicURL   string    `json:"public_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentFileType names one pre-computed per-document artifact.
type DocumentFileType string

const (
	FileAnnotation  DocumentFileType = "annotation"
	FileOCRHTML     DocumentFileType = "ocr_html"
	FileResultMD    DocumentFileType = "result_md"
	FileResultJSON  DocumentFileType = "result_json"
	FileBlocksIndex DocumentFileType = "blocks_index"
	FileCropsFolder DocumentFileType = "crops_folder"
)

// TreeNode is one entry of the read-only project tree.
type TreeNode struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	NodeType  string `json:"node_type"`
	Name      string `json:"name"`
	Code      string `json:"code,omitempty"`
	SortOrder int    `json:"sort_order,omitempty"`
}

// NodeFile is a raw file attached to a tree node (crop PDFs live here).
type NodeFile struct {
	ID         string    `json:"id"`
	NodeID     string    `json:"node_id"`
	FileName   string    `json:"file_name"`
	StorageKey string    `json:"storage_key,omitempty"`
	PublicURL  string    `json:"public_url,omitempty"`
	FileType   string    `json:"file_type,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// DocumentResult is one processed artifact of a document node.
type DocumentResult struct {
	ID         string           `json:"id"`
	NodeID     string           `json:"node_id"`
	FileType   DocumentFileType `json:"file_type"`
	FileName   string           `json:"file_name,omitempty"`
	MimeType   string           `json:"mime_type,omitempty"`
	SizeBytes  int64            `json:"size_bytes,omitempty"`
	StorageKey string           `json:"storage_key,omitempty"`
	PublicURL  string           `json:"public_url,omitempty"`
	CreatedAt  time.Time        `json:"created_at,omitempty"`
}
