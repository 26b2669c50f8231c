// Package storage persists the conversational side of the system (users,
// settings, prompts, chats, messages, rendered-image links, registered
// files) and reads the project tree that document artifacts hang off.
// The project side is read-only: another system writes it.
package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/docsight/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// UserStore resolves accounts and their per-user settings.
type UserStore interface {
	GetByStaticToken(ctx context.Context, token string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastSeen(ctx context.Context, id string) error

	// GetSettings returns ErrNotFound for users that never saved settings;
	// callers create defaults explicitly.
	GetSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	CreateDefaultSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	UpdateSettings(ctx context.Context, userID string, update SettingsUpdate) (*models.UserSettings, error)
}

// SettingsUpdate carries the mutable settings fields. Nil pointers leave
// the stored value unchanged.
type SettingsUpdate struct {
	ModelProfile         *models.ModelProfile
	SelectedRolePromptID *string
	FlashModel           *string
	ProModel             *string
}

// PromptStore serves prompt fragments composed into LLM system prompts.
type PromptStore interface {
	SystemPrompts(ctx context.Context, activeOnly bool) ([]*models.SystemPrompt, error)
	SystemPromptByName(ctx context.Context, name string) (*models.SystemPrompt, error)
	UserPrompts(ctx context.Context, activeOnly bool) ([]*models.UserPrompt, error)
	UserPromptByID(ctx context.Context, id string) (*models.UserPrompt, error)
}

// ChatStore persists conversations and everything hanging off them.
type ChatStore interface {
	CreateChat(ctx context.Context, userID, title string) (*models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	// UserChats returns unarchived chats, most recently updated first.
	UserChats(ctx context.Context, userID string, limit int) ([]*models.Chat, error)
	// DeleteChatCascade removes rows in dependency order:
	// chat_images, then messages, then the chat itself.
	DeleteChatCascade(ctx context.Context, chatID string) error

	AddMessage(ctx context.Context, chatID string, role models.Role, content, messageType string) (*models.Message, error)
	// ChatMessages returns messages oldest first.
	ChatMessages(ctx context.Context, chatID string, limit int) ([]*models.Message, error)
	// LastMessage returns the newest message, optionally restricted to a
	// role. Empty role means any.
	LastMessage(ctx context.Context, chatID string, role models.Role) (*models.Message, error)

	// AddChatImage fills in ID and CreatedAt on success.
	AddChatImage(ctx context.Context, image *models.ChatImage) error
	MessageImages(ctx context.Context, messageID string) ([]*models.ChatImage, error)
	// ChatStorageFiles lists files reachable from a chat through its
	// chat_images rows. The deletion worker walks this.
	ChatStorageFiles(ctx context.Context, chatID string) ([]*models.StorageFile, error)

	// RegisterFile fills in ID and CreatedAt on success.
	RegisterFile(ctx context.Context, file *models.StorageFile) error
}

// TreeNodeFilter narrows TreeNodes. By default only root nodes are
// returned; AllNodes lifts the parent filter, ParentID narrows to one
// parent. Empty string fields mean no filter on that axis.
type TreeNodeFilter struct {
	ClientID string
	ParentID string
	NodeType string
	AllNodes bool
}

// ProjectStore reads the externally-maintained document tree.
type ProjectStore interface {
	TreeNodes(ctx context.Context, filter TreeNodeFilter) ([]*models.TreeNode, error)
	NodeByID(ctx context.Context, id string) (*models.TreeNode, error)
	// NodeFiles returns a node's raw files, newest first.
	NodeFiles(ctx context.Context, nodeID string) ([]*models.NodeFile, error)
	// DocumentResults returns processed artifacts of a document node,
	// optionally narrowed to one file type. Empty fileType means all
	// result types.
	DocumentResults(ctx context.Context, nodeID string, fileType models.DocumentFileType) ([]*models.DocumentResult, error)
	// DocumentCrops returns the per-block crop files of a document.
	DocumentCrops(ctx context.Context, nodeID string) ([]*models.NodeFile, error)
	// BlocksIndexForNode returns the blocks-index artifact of a document,
	// or ErrNotFound when the document has none.
	BlocksIndexForNode(ctx context.Context, nodeID string) (*models.DocumentResult, error)
	// SearchDocuments matches document nodes by name or code fragment.
	SearchDocuments(ctx context.Context, clientID, query string, limit int) ([]*models.TreeNode, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Users    UserStore
	Prompts  PromptStore
	Chats    ChatStore
	Projects ProjectStore
	closer   func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
