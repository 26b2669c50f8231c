package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/docsight/pkg/models"
)

// MemoryStore keeps all metadata in process. It backs tests and local
// development runs that have no Postgres at hand.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	settings      map[string]*models.UserSettings
	systemPrompts map[string]*models.SystemPrompt
	userPrompts   map[string]*models.UserPrompt
	chats         map[string]*models.Chat
	messages      map[string][]*models.Message
	images        map[string][]*models.ChatImage
	files         map[string]*models.StorageFile
	nodes         map[string]*models.TreeNode
	nodeFiles     map[string][]*models.NodeFile
	results       map[string][]*models.DocumentResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]*models.User{},
		settings:      map[string]*models.UserSettings{},
		systemPrompts: map[string]*models.SystemPrompt{},
		userPrompts:   map[string]*models.UserPrompt{},
		chats:         map[string]*models.Chat{},
		messages:      map[string][]*models.Message{},
		images:        map[string][]*models.ChatImage{},
		files:         map[string]*models.StorageFile{},
		nodes:         map[string]*models.TreeNode{},
		nodeFiles:     map[string][]*models.NodeFile{},
		results:       map[string][]*models.DocumentResult{},
	}
}

// NewMemoryStores wraps a fresh MemoryStore in a StoreSet.
func NewMemoryStores() StoreSet {
	m := NewMemoryStore()
	return m.Stores()
}

// Stores exposes the MemoryStore as a StoreSet so seeded fixtures and
// the consuming code share state.
func (m *MemoryStore) Stores() StoreSet {
	return StoreSet{Users: m, Prompts: m, Chats: m, Projects: m}
}

// ----- seed helpers -----

func (m *MemoryStore) AddUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	clone := *user
	m.users[user.ID] = &clone
}

func (m *MemoryStore) AddSystemPrompt(prompt *models.SystemPrompt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prompt.ID == "" {
		prompt.ID = uuid.NewString()
	}
	clone := *prompt
	m.systemPrompts[prompt.ID] = &clone
}

func (m *MemoryStore) AddUserPrompt(prompt *models.UserPrompt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prompt.ID == "" {
		prompt.ID = uuid.NewString()
	}
	clone := *prompt
	m.userPrompts[prompt.ID] = &clone
}

func (m *MemoryStore) AddNode(node *models.TreeNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	clone := *node
	m.nodes[node.ID] = &clone
}

func (m *MemoryStore) AddNodeFile(file *models.NodeFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	clone := *file
	m.nodeFiles[file.NodeID] = append(m.nodeFiles[file.NodeID], &clone)
}

func (m *MemoryStore) AddDocumentResult(result *models.DocumentResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	clone := *result
	m.results[result.NodeID] = append(m.results[result.NodeID], &clone)
}

// ----- UserStore -----

func (m *MemoryStore) GetByStaticToken(ctx context.Context, token string) (*models.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.StaticToken != "" && user.StaticToken == token {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *MemoryStore) UpdateLastSeen(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	user.LastSeenAt = time.Now()
	return nil
}

func (m *MemoryStore) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	settings, ok := m.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *settings
	return &clone, nil
}

func (m *MemoryStore) CreateDefaultSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.settings[userID]; ok {
		clone := *existing
		return &clone, nil
	}
	settings := &models.UserSettings{
		UserID:       userID,
		ModelProfile: models.ProfileSimple,
		UpdatedAt:    time.Now(),
	}
	m.settings[userID] = settings
	clone := *settings
	return &clone, nil
}

func (m *MemoryStore) UpdateSettings(ctx context.Context, userID string, update SettingsUpdate) (*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if update.ModelProfile != nil {
		settings.ModelProfile = *update.ModelProfile
	}
	if update.SelectedRolePromptID != nil {
		settings.SelectedRolePromptID = *update.SelectedRolePromptID
	}
	if update.FlashModel != nil {
		settings.FlashModel = *update.FlashModel
	}
	if update.ProModel != nil {
		settings.ProModel = *update.ProModel
	}
	settings.UpdatedAt = time.Now()
	clone := *settings
	return &clone, nil
}

// ----- PromptStore -----

func (m *MemoryStore) SystemPrompts(ctx context.Context, activeOnly bool) ([]*models.SystemPrompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prompts := []*models.SystemPrompt{}
	for _, prompt := range m.systemPrompts {
		if activeOnly && !prompt.Active {
			continue
		}
		clone := *prompt
		prompts = append(prompts, &clone)
	}
	sort.Slice(prompts, func(i, j int) bool {
		if prompts[i].Position != prompts[j].Position {
			return prompts[i].Position < prompts[j].Position
		}
		return prompts[i].Name < prompts[j].Name
	})
	return prompts, nil
}

func (m *MemoryStore) SystemPromptByName(ctx context.Context, name string) (*models.SystemPrompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, prompt := range m.systemPrompts {
		if prompt.Name == name && prompt.Active {
			clone := *prompt
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UserPrompts(ctx context.Context, activeOnly bool) ([]*models.UserPrompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prompts := []*models.UserPrompt{}
	for _, prompt := range m.userPrompts {
		if activeOnly && !prompt.Active {
			continue
		}
		clone := *prompt
		prompts = append(prompts, &clone)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts, nil
}

func (m *MemoryStore) UserPromptByID(ctx context.Context, id string) (*models.UserPrompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prompt, ok := m.userPrompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *prompt
	return &clone, nil
}

// ----- ChatStore -----

func (m *MemoryStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.chats[chat.ID] = chat
	clone := *chat
	return &clone, nil
}

func (m *MemoryStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *chat
	return &clone, nil
}

func (m *MemoryStore) UserChats(ctx context.Context, userID string, limit int) ([]*models.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	chats := []*models.Chat{}
	for _, chat := range m.chats {
		if chat.UserID != userID {
			continue
		}
		clone := *chat
		chats = append(chats, &clone)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	if len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

func (m *MemoryStore) DeleteChatCascade(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return ErrNotFound
	}
	delete(m.images, chatID)
	delete(m.messages, chatID)
	delete(m.chats, chatID)
	return nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, chatID string, role models.Role, content, messageType string) (*models.Message, error) {
	if messageType == "" {
		messageType = "text"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Type:      messageType,
		CreatedAt: time.Now(),
	}
	m.messages[chatID] = append(m.messages[chatID], msg)
	if chat, ok := m.chats[chatID]; ok {
		chat.UpdatedAt = msg.CreatedAt
	}
	clone := *msg
	return &clone, nil
}

func (m *MemoryStore) ChatMessages(ctx context.Context, chatID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.messages[chatID]
	if len(stored) > limit {
		stored = stored[:limit]
	}
	messages := make([]*models.Message, 0, len(stored))
	for _, msg := range stored {
		clone := *msg
		messages = append(messages, &clone)
	}
	return messages, nil
}

func (m *MemoryStore) LastMessage(ctx context.Context, chatID string, role models.Role) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.messages[chatID]
	for i := len(stored) - 1; i >= 0; i-- {
		if role == "" || stored[i].Role == role {
			clone := *stored[i]
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) AddChatImage(ctx context.Context, image *models.ChatImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now()
	}
	clone := *image
	m.images[image.ChatID] = append(m.images[image.ChatID], &clone)
	return nil
}

func (m *MemoryStore) MessageImages(ctx context.Context, messageID string) ([]*models.ChatImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	images := []*models.ChatImage{}
	for _, chatImages := range m.images {
		for _, img := range chatImages {
			if img.MessageID != messageID {
				continue
			}
			clone := *img
			if clone.URL == "" && clone.FileID != "" {
				if file, ok := m.files[clone.FileID]; ok {
					clone.URL = file.PublicURL
				}
			}
			images = append(images, &clone)
		}
	}
	sort.Slice(images, func(i, j int) bool { return images[i].CreatedAt.Before(images[j].CreatedAt) })
	return images, nil
}

func (m *MemoryStore) ChatStorageFiles(ctx context.Context, chatID string) ([]*models.StorageFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	files := []*models.StorageFile{}
	for _, img := range m.images[chatID] {
		if img.FileID == "" || seen[img.FileID] {
			continue
		}
		seen[img.FileID] = true
		if file, ok := m.files[img.FileID]; ok {
			clone := *file
			files = append(files, &clone)
		}
	}
	return files, nil
}

func (m *MemoryStore) RegisterFile(ctx context.Context, file *models.StorageFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.SourceType == "" {
		file.SourceType = "user_upload"
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	clone := *file
	m.files[file.ID] = &clone
	return nil
}

// ----- ProjectStore -----

func (m *MemoryStore) TreeNodes(ctx context.Context, filter TreeNodeFilter) ([]*models.TreeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := []*models.TreeNode{}
	for _, node := range m.nodes {
		if !filter.AllNodes && node.ParentID != filter.ParentID {
			continue
		}
		if filter.ClientID != "" && node.ClientID != filter.ClientID {
			continue
		}
		if filter.NodeType != "" && node.NodeType != filter.NodeType {
			continue
		}
		clone := *node
		nodes = append(nodes, &clone)
	}
	sortTreeNodes(nodes)
	return nodes, nil
}

func (m *MemoryStore) NodeByID(ctx context.Context, id string) (*models.TreeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *node
	return &clone, nil
}

func (m *MemoryStore) NodeFiles(ctx context.Context, nodeID string) ([]*models.NodeFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := make([]*models.NodeFile, 0, len(m.nodeFiles[nodeID]))
	for _, file := range m.nodeFiles[nodeID] {
		clone := *file
		files = append(files, &clone)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })
	return files, nil
}

func (m *MemoryStore) DocumentResults(ctx context.Context, nodeID string, fileType models.DocumentFileType) ([]*models.DocumentResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := map[string]bool{}
	if fileType != "" {
		wanted[string(fileType)] = true
	} else {
		for _, t := range resultFileTypes {
			wanted[t] = true
		}
	}
	results := []*models.DocumentResult{}
	for _, result := range m.results[nodeID] {
		if !wanted[string(result.FileType)] {
			continue
		}
		clone := *result
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].FileType != results[j].FileType {
			return results[i].FileType < results[j].FileType
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func (m *MemoryStore) DocumentCrops(ctx context.Context, nodeID string) ([]*models.NodeFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := []*models.NodeFile{}
	for _, file := range m.nodeFiles[nodeID] {
		if file.FileType != "crop" {
			continue
		}
		clone := *file
		files = append(files, &clone)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
	return files, nil
}

func (m *MemoryStore) BlocksIndexForNode(ctx context.Context, nodeID string) (*models.DocumentResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.DocumentResult
	for _, result := range m.results[nodeID] {
		if result.FileType != models.FileBlocksIndex {
			continue
		}
		if latest == nil || result.CreatedAt.After(latest.CreatedAt) {
			latest = result
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *MemoryStore) SearchDocuments(ctx context.Context, clientID, query string, limit int) ([]*models.TreeNode, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := []*models.TreeNode{}
	for _, node := range m.nodes {
		if node.NodeType != "document" {
			continue
		}
		if clientID != "" && node.ClientID != clientID {
			continue
		}
		if !strings.Contains(strings.ToLower(node.Name), needle) &&
			!strings.Contains(strings.ToLower(node.Code), needle) {
			continue
		}
		clone := *node
		nodes = append(nodes, &clone)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes, nil
}

func sortTreeNodes(nodes []*models.TreeNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].SortOrder != nodes[j].SortOrder {
			return nodes[i].SortOrder < nodes[j].SortOrder
		}
		return nodes[i].Name < nodes[j].Name
	})
}
