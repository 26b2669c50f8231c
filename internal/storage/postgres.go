package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/pkg/models"
)

const connectTimeout = 10 * time.Second

// NewPostgresStores opens a Postgres-backed StoreSet, verifies
// connectivity, and applies pending migrations.
func NewPostgresStores(ctx context.Context, cfg config.DatabaseConfig) (StoreSet, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return StoreSet{}, fmt.Errorf("database url is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	migrator, err := NewMigrator(db)
	if err != nil {
		_ = db.Close()
		return StoreSet{}, err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("migrate database: %w", err)
	}

	return NewPostgresStoresFromDB(db), nil
}

// NewPostgresStoresFromDB wraps an already-open connection. The caller
// keeps ownership of db unless it came through NewPostgresStores.
func NewPostgresStoresFromDB(db *sql.DB) StoreSet {
	return StoreSet{
		Users:    &pgUserStore{db: db},
		Prompts:  &pgPromptStore{db: db},
		Chats:    &pgChatStore{db: db},
		Projects: &pgProjectStore{db: db},
		closer:   db.Close,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

// ----- users -----

type pgUserStore struct {
	db *sql.DB
}

const userSelect = `SELECT id, username, email, name, static_token, is_admin, last_seen_at, created_at FROM users`

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var token sql.NullString
	var lastSeen sql.NullTime
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Name,
		&token,
		&user.IsAdmin,
		&lastSeen,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	user.StaticToken = token.String
	if lastSeen.Valid {
		user.LastSeenAt = lastSeen.Time
	}
	return &user, nil
}

func (s *pgUserStore) GetByStaticToken(ctx context.Context, token string) (*models.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, userSelect+` WHERE static_token = $1`, token)
	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by token: %w", err)
	}
	return user, nil
}

func (s *pgUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, userSelect+` WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *pgUserStore) UpdateLastSeen(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update user last seen: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last seen rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const settingsSelect = `SELECT user_id, model_profile, selected_role_prompt_id, flash_model, pro_model, temperature, top_p, updated_at FROM settings`

func scanSettings(row rowScanner) (*models.UserSettings, error) {
	var st models.UserSettings
	var profile string
	var rolePrompt, flash, pro sql.NullString
	var temp, topP sql.NullFloat64
	if err := row.Scan(&st.UserID, &profile, &rolePrompt, &flash, &pro, &temp, &topP, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.ModelProfile = models.ModelProfile(profile)
	st.SelectedRolePromptID = rolePrompt.String
	st.FlashModel = flash.String
	st.ProModel = pro.String
	if temp.Valid {
		v := temp.Float64
		st.Temperature = &v
	}
	if topP.Valid {
		v := topP.Float64
		st.TopP = &v
	}
	return &st, nil
}

func (s *pgUserStore) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, settingsSelect+` WHERE user_id = $1`, userID)
	settings, err := scanSettings(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (s *pgUserStore) CreateDefaultSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	// DO NOTHING keeps a concurrent writer's row.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (user_id, model_profile, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, string(models.ProfileSimple), time.Now())
	if err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	return s.GetSettings(ctx, userID)
}

func (s *pgUserStore) UpdateSettings(ctx context.Context, userID string, update SettingsUpdate) (*models.UserSettings, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	set := []string{"updated_at = $1"}
	args := []any{time.Now()}
	if update.ModelProfile != nil {
		args = append(args, string(*update.ModelProfile))
		set = append(set, fmt.Sprintf("model_profile = $%d", len(args)))
	}
	if update.SelectedRolePromptID != nil {
		args = append(args, nullableString(*update.SelectedRolePromptID))
		set = append(set, fmt.Sprintf("selected_role_prompt_id = $%d", len(args)))
	}
	if update.FlashModel != nil {
		args = append(args, nullableString(*update.FlashModel))
		set = append(set, fmt.Sprintf("flash_model = $%d", len(args)))
	}
	if update.ProModel != nil {
		args = append(args, nullableString(*update.ProModel))
		set = append(set, fmt.Sprintf("pro_model = $%d", len(args)))
	}
	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE settings SET %s WHERE user_id = $%d`, strings.Join(set, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update settings rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}
	return s.GetSettings(ctx, userID)
}

// ----- prompts -----

type pgPromptStore struct {
	db *sql.DB
}

func (s *pgPromptStore) SystemPrompts(ctx context.Context, activeOnly bool) ([]*models.SystemPrompt, error) {
	query := `SELECT id, name, content, is_active, position FROM prompts_system`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY position, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list system prompts: %w", err)
	}
	defer rows.Close()

	prompts := []*models.SystemPrompt{}
	for rows.Next() {
		var p models.SystemPrompt
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &p.Active, &p.Position); err != nil {
			return nil, fmt.Errorf("scan system prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list system prompts: %w", err)
	}
	return prompts, nil
}

func (s *pgPromptStore) SystemPromptByName(ctx context.Context, name string) (*models.SystemPrompt, error) {
	if name == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, content, is_active, position FROM prompts_system
		 WHERE name = $1 AND is_active`, name)
	var p models.SystemPrompt
	if err := row.Scan(&p.ID, &p.Name, &p.Content, &p.Active, &p.Position); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get system prompt: %w", err)
	}
	return &p, nil
}

func (s *pgPromptStore) UserPrompts(ctx context.Context, activeOnly bool) ([]*models.UserPrompt, error) {
	query := `SELECT id, user_id, name, content, is_active FROM user_prompts`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user prompts: %w", err)
	}
	defer rows.Close()

	prompts := []*models.UserPrompt{}
	for rows.Next() {
		var p models.UserPrompt
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Content, &p.Active); err != nil {
			return nil, fmt.Errorf("scan user prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user prompts: %w", err)
	}
	return prompts, nil
}

func (s *pgPromptStore) UserPromptByID(ctx context.Context, id string) (*models.UserPrompt, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, content, is_active FROM user_prompts WHERE id = $1`, id)
	var p models.UserPrompt
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Content, &p.Active); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user prompt: %w", err)
	}
	return &p, nil
}

// ----- chats -----

type pgChatStore struct {
	db *sql.DB
}

const chatSelect = `SELECT id, user_id, title, created_at, updated_at FROM chats`

func scanChat(row rowScanner) (*models.Chat, error) {
	var chat models.Chat
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *pgChatStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	now := time.Now()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`,
		chat.ID, chat.UserID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (s *pgChatStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	chat, err := scanChat(s.db.QueryRowContext(ctx, chatSelect+` WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

func (s *pgChatStore) UserChats(ctx context.Context, userID string, limit int) ([]*models.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		chatSelect+` WHERE user_id = $1 AND NOT is_archived ORDER BY updated_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := []*models.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

func (s *pgChatStore) DeleteChatCascade(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cascade delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_images WHERE chat_id = $1`, chatID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chat images: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = $1`, chatID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chat messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chat rows affected: %w", err)
	}
	if rows == 0 {
		_ = tx.Rollback()
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cascade delete: %w", err)
	}
	return nil
}

const messageSelect = `SELECT id, chat_id, role, content, message_type, created_at FROM chat_messages`

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var role string
	if err := row.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &msg.Type, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	return &msg, nil
}

func (s *pgChatStore) AddMessage(ctx context.Context, chatID string, role models.Role, content, messageType string) (*models.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chat id is required")
	}
	if messageType == "" {
		messageType = "text"
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Type:      messageType,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, chat_id, role, content, message_type, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, msg.Type, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	// Keeps UserChats recency ordering without a trigger.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, chatID); err != nil {
		return nil, fmt.Errorf("touch chat: %w", err)
	}
	return msg, nil
}

func (s *pgChatStore) ChatMessages(ctx context.Context, chatID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE chat_id = $1 ORDER BY created_at LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *pgChatStore) LastMessage(ctx context.Context, chatID string, role models.Role) (*models.Message, error) {
	if chatID == "" {
		return nil, ErrNotFound
	}
	query := messageSelect + ` WHERE chat_id = $1`
	args := []any{chatID}
	if role != "" {
		args = append(args, string(role))
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get last message: %w", err)
	}
	return msg, nil
}

func (s *pgChatStore) AddChatImage(ctx context.Context, image *models.ChatImage) error {
	if image == nil || image.ChatID == "" || image.MessageID == "" {
		return fmt.Errorf("chat image requires chat and message ids")
	}
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_images (id, chat_id, message_id, file_id, image_type, description, width, height, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		image.ID,
		image.ChatID,
		image.MessageID,
		nullableString(image.FileID),
		nullableString(image.ImageType),
		nullableString(image.Description),
		nullableInt(image.Width),
		nullableInt(image.Height),
		image.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add chat image: %w", err)
	}
	return nil
}

func (s *pgChatStore) MessageImages(ctx context.Context, messageID string) ([]*models.ChatImage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ci.id, ci.chat_id, ci.message_id, ci.file_id, ci.image_type, ci.description, ci.width, ci.height, ci.created_at,
		        sf.external_url
		 FROM chat_images ci
		 LEFT JOIN storage_files sf ON sf.id = ci.file_id
		 WHERE ci.message_id = $1
		 ORDER BY ci.created_at`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list message images: %w", err)
	}
	defer rows.Close()

	images := []*models.ChatImage{}
	for rows.Next() {
		var img models.ChatImage
		var fileID, imageType, description, url sql.NullString
		var width, height sql.NullInt64
		if err := rows.Scan(
			&img.ID,
			&img.ChatID,
			&img.MessageID,
			&fileID,
			&imageType,
			&description,
			&width,
			&height,
			&img.CreatedAt,
			&url,
		); err != nil {
			return nil, fmt.Errorf("scan chat image: %w", err)
		}
		img.FileID = fileID.String
		img.ImageType = imageType.String
		img.Description = description.String
		img.Width = int(width.Int64)
		img.Height = int(height.Int64)
		img.URL = url.String
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list message images: %w", err)
	}
	return images, nil
}

func (s *pgChatStore) ChatStorageFiles(ctx context.Context, chatID string) ([]*models.StorageFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT sf.id, sf.user_id, sf.filename, sf.mime_type, sf.size_bytes, sf.storage_path, sf.source_type, sf.external_url, sf.created_at
		 FROM chat_images ci
		 JOIN storage_files sf ON sf.id = ci.file_id
		 WHERE ci.chat_id = $1`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat files: %w", err)
	}
	defer rows.Close()

	files := []*models.StorageFile{}
	for rows.Next() {
		file, err := scanStorageFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan storage file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chat files: %w", err)
	}
	return files, nil
}

func scanStorageFile(row rowScanner) (*models.StorageFile, error) {
	var file models.StorageFile
	var userID, mime, key, url sql.NullString
	if err := row.Scan(
		&file.ID,
		&userID,
		&file.FileName,
		&mime,
		&file.SizeBytes,
		&key,
		&file.SourceType,
		&url,
		&file.CreatedAt,
	); err != nil {
		return nil, err
	}
	file.UserID = userID.String
	file.ContentType = mime.String
	file.Key = key.String
	file.PublicURL = url.String
	return &file, nil
}

func (s *pgChatStore) RegisterFile(ctx context.Context, file *models.StorageFile) error {
	if file == nil {
		return fmt.Errorf("file is required")
	}
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.SourceType == "" {
		file.SourceType = "user_upload"
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO storage_files (id, user_id, filename, mime_type, size_bytes, storage_path, source_type, external_url, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		file.ID,
		nullableString(file.UserID),
		file.FileName,
		nullableString(file.ContentType),
		file.SizeBytes,
		nullableString(file.Key),
		file.SourceType,
		nullableString(file.PublicURL),
		file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("register file: %w", err)
	}
	return nil
}

// ----- projects (read-only) -----

type pgProjectStore struct {
	db *sql.DB
}

var resultFileTypes = []string{
	string(models.FileAnnotation),
	string(models.FileOCRHTML),
	string(models.FileResultMD),
	string(models.FileResultJSON),
	string(models.FileCropsFolder),
}

const treeNodeSelect = `SELECT id, client_id, parent_id, node_type, name, code, sort_order FROM tree_nodes`

func scanTreeNode(row rowScanner) (*models.TreeNode, error) {
	var node models.TreeNode
	var clientID, parentID, code sql.NullString
	if err := row.Scan(&node.ID, &clientID, &parentID, &node.NodeType, &node.Name, &code, &node.SortOrder); err != nil {
		return nil, err
	}
	node.ClientID = clientID.String
	node.ParentID = parentID.String
	node.Code = code.String
	return &node, nil
}

func (s *pgProjectStore) TreeNodes(ctx context.Context, filter TreeNodeFilter) ([]*models.TreeNode, error) {
	where := []string{}
	args := []any{}
	if !filter.AllNodes {
		if filter.ParentID == "" {
			where = append(where, "parent_id IS NULL")
		} else {
			args = append(args, filter.ParentID)
			where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
		}
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.NodeType != "" {
		args = append(args, filter.NodeType)
		where = append(where, fmt.Sprintf("node_type = $%d", len(args)))
	}

	query := treeNodeSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sort_order, name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tree nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*models.TreeNode{}
	for rows.Next() {
		node, err := scanTreeNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tree node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tree nodes: %w", err)
	}
	return nodes, nil
}

func (s *pgProjectStore) NodeByID(ctx context.Context, id string) (*models.TreeNode, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	node, err := scanTreeNode(s.db.QueryRowContext(ctx, treeNodeSelect+` WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tree node: %w", err)
	}
	return node, nil
}

const nodeFileSelect = `SELECT id, node_id, file_name, file_type, r2_key, public_url, created_at FROM node_files`

func scanNodeFile(row rowScanner) (*models.NodeFile, error) {
	var file models.NodeFile
	var key, url sql.NullString
	if err := row.Scan(&file.ID, &file.NodeID, &file.FileName, &file.FileType, &key, &url, &file.CreatedAt); err != nil {
		return nil, err
	}
	file.StorageKey = key.String
	file.PublicURL = url.String
	return &file, nil
}

func (s *pgProjectStore) NodeFiles(ctx context.Context, nodeID string) ([]*models.NodeFile, error) {
	rows, err := s.db.QueryContext(ctx,
		nodeFileSelect+` WHERE node_id = $1 ORDER BY created_at DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list node files: %w", err)
	}
	defer rows.Close()

	files := []*models.NodeFile{}
	for rows.Next() {
		file, err := scanNodeFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list node files: %w", err)
	}
	return files, nil
}

const documentResultSelect = `SELECT id, node_id, file_type, file_name, mime_type, file_size, r2_key, public_url, created_at FROM node_files`

func scanDocumentResult(row rowScanner) (*models.DocumentResult, error) {
	var result models.DocumentResult
	var fileType string
	var mime, key, url sql.NullString
	if err := row.Scan(
		&result.ID,
		&result.NodeID,
		&fileType,
		&result.FileName,
		&mime,
		&result.SizeBytes,
		&key,
		&url,
		&result.CreatedAt,
	); err != nil {
		return nil, err
	}
	result.FileType = models.DocumentFileType(fileType)
	result.MimeType = mime.String
	result.StorageKey = key.String
	result.PublicURL = url.String
	return &result, nil
}

func (s *pgProjectStore) DocumentResults(ctx context.Context, nodeID string, fileType models.DocumentFileType) ([]*models.DocumentResult, error) {
	query := documentResultSelect + ` WHERE node_id = $1`
	args := []any{nodeID}
	if fileType != "" {
		args = append(args, string(fileType))
		query += ` AND file_type = $2`
	} else {
		args = append(args, pq.Array(resultFileTypes))
		query += ` AND file_type = ANY($2)`
	}
	query += ` ORDER BY file_type, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list document results: %w", err)
	}
	defer rows.Close()

	results := []*models.DocumentResult{}
	for rows.Next() {
		result, err := scanDocumentResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list document results: %w", err)
	}
	return results, nil
}

func (s *pgProjectStore) DocumentCrops(ctx context.Context, nodeID string) ([]*models.NodeFile, error) {
	rows, err := s.db.QueryContext(ctx,
		nodeFileSelect+` WHERE node_id = $1 AND file_type = 'crop' ORDER BY file_name`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list document crops: %w", err)
	}
	defer rows.Close()

	files := []*models.NodeFile{}
	for rows.Next() {
		file, err := scanNodeFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document crop: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list document crops: %w", err)
	}
	return files, nil
}

func (s *pgProjectStore) BlocksIndexForNode(ctx context.Context, nodeID string) (*models.DocumentResult, error) {
	if nodeID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		documentResultSelect+` WHERE node_id = $1 AND file_type = 'blocks_index' ORDER BY created_at DESC LIMIT 1`,
		nodeID)
	result, err := scanDocumentResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blocks index: %w", err)
	}
	return result, nil
}

func (s *pgProjectStore) SearchDocuments(ctx context.Context, clientID, query string, limit int) ([]*models.TreeNode, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	args := []any{pattern}
	q := treeNodeSelect + ` WHERE node_type = 'document' AND (name ILIKE $1 OR code ILIKE $1)`
	if clientID != "" {
		args = append(args, clientID)
		q += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY name LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	nodes := []*models.TreeNode{}
	for rows.Next() {
		node, err := scanTreeNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return nodes, nil
}
