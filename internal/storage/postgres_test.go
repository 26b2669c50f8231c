package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/docsight/pkg/models"
)

var (
	_ UserStore    = (*pgUserStore)(nil)
	_ PromptStore  = (*pgPromptStore)(nil)
	_ ChatStore    = (*pgChatStore)(nil)
	_ ProjectStore = (*pgProjectStore)(nil)

	_ UserStore    = (*MemoryStore)(nil)
	_ PromptStore  = (*MemoryStore)(nil)
	_ ChatStore    = (*MemoryStore)(nil)
	_ ProjectStore = (*MemoryStore)(nil)
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "name", "static_token", "is_admin", "last_seen_at", "created_at",
	})
}

func TestPGUserStoreGetByStaticToken(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		token     string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		wantID    string
	}{
		{
			name:  "found",
			token: "tok-123",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT id, username, email, name, static_token, is_admin, last_seen_at, created_at FROM users WHERE static_token").
					WithArgs("tok-123").
					WillReturnRows(userRows().AddRow(
						"user-1", "ann", "ann@example.com", "Ann",
						sql.NullString{String: "tok-123", Valid: true},
						false, sql.NullTime{Time: now, Valid: true}, now,
					))
			},
			wantID: "user-1",
		},
		{
			name:  "not found",
			token: "tok-unknown",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM users WHERE static_token").
					WithArgs("tok-unknown").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:      "blank token short-circuits",
			token:     "   ",
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantErr:   ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)
			store := &pgUserStore{db: db}

			user, err := store.GetByStaticToken(context.Background(), tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if user.ID != tt.wantID {
					t.Errorf("expected user %q, got %q", tt.wantID, user.ID)
				}
				if !user.LastSeenAt.Equal(now) {
					t.Errorf("last seen not populated from nullable column")
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPGUserStoreUpdateLastSeen(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgUserStore{db: db}

	mock.ExpectExec("UPDATE users SET last_seen_at").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.UpdateLastSeen(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE users SET last_seen_at").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.UpdateLastSeen(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func settingsRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "model_profile", "selected_role_prompt_id", "flash_model", "pro_model", "temperature", "top_p", "updated_at",
	})
}

func TestPGUserStoreGetSettings(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgUserStore{db: db}
	now := time.Now()

	mock.ExpectQuery("SELECT user_id, model_profile, selected_role_prompt_id, flash_model, pro_model, temperature, top_p, updated_at FROM settings WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(settingsRows().AddRow(
			"user-1", "complex",
			sql.NullString{String: "prompt-7", Valid: true},
			sql.NullString{}, sql.NullString{},
			sql.NullFloat64{Float64: 0.7, Valid: true}, sql.NullFloat64{},
			now,
		))

	settings, err := store.GetSettings(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.ModelProfile != models.ProfileComplex {
		t.Errorf("expected complex profile, got %q", settings.ModelProfile)
	}
	if settings.SelectedRolePromptID != "prompt-7" {
		t.Errorf("expected role prompt id, got %q", settings.SelectedRolePromptID)
	}
	if settings.FlashModel != "" {
		t.Errorf("null flash model should scan to empty string")
	}
	if settings.Temperature == nil || *settings.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", settings.Temperature)
	}
	if settings.TopP != nil {
		t.Errorf("null top_p should stay nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGUserStoreCreateDefaultSettings(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgUserStore{db: db}

	mock.ExpectExec("INSERT INTO settings").
		WithArgs("user-1", "simple", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .* FROM settings WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(settingsRows().AddRow(
			"user-1", "simple", sql.NullString{}, sql.NullString{}, sql.NullString{},
			sql.NullFloat64{}, sql.NullFloat64{}, time.Now(),
		))

	settings, err := store.CreateDefaultSettings(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.ModelProfile != models.ProfileSimple {
		t.Errorf("expected simple default profile, got %q", settings.ModelProfile)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGUserStoreUpdateSettings(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgUserStore{db: db}
	profile := models.ProfileComplex
	flash := "gemini-3-flash-preview"

	mock.ExpectExec(`UPDATE settings SET updated_at = \$1, model_profile = \$2, flash_model = \$3 WHERE user_id = \$4`).
		WithArgs(sqlmock.AnyArg(), "complex", sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .* FROM settings WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(settingsRows().AddRow(
			"user-1", "complex", sql.NullString{},
			sql.NullString{String: flash, Valid: true}, sql.NullString{},
			sql.NullFloat64{}, sql.NullFloat64{}, time.Now(),
		))

	settings, err := store.UpdateSettings(context.Background(), "user-1", SettingsUpdate{
		ModelProfile: &profile,
		FlashModel:   &flash,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.FlashModel != flash {
		t.Errorf("expected flash model %q, got %q", flash, settings.FlashModel)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGUserStoreUpdateSettingsMissingRow(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgUserStore{db: db}
	profile := models.ProfileSimple

	mock.ExpectExec("UPDATE settings SET").
		WithArgs(sqlmock.AnyArg(), "simple", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := store.UpdateSettings(context.Background(), "ghost", SettingsUpdate{ModelProfile: &profile}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGPromptStoreSystemPrompts(t *testing.T) {
	tests := []struct {
		name       string
		activeOnly bool
		setupMock  func(mock sqlmock.Sqlmock)
		wantNames  []string
	}{
		{
			name:       "active only adds predicate",
			activeOnly: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT id, name, content, is_active, position FROM prompts_system WHERE is_active ORDER BY position, name").
					WillReturnRows(sqlmock.NewRows([]string{"id", "name", "content", "is_active", "position"}).
						AddRow("p1", "base", "You are an analyst.", true, 0).
						AddRow("p2", "tone", "Be terse.", true, 1))
			},
			wantNames: []string{"base", "tone"},
		},
		{
			name:       "all prompts",
			activeOnly: false,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT id, name, content, is_active, position FROM prompts_system ORDER BY position, name").
					WillReturnRows(sqlmock.NewRows([]string{"id", "name", "content", "is_active", "position"}).
						AddRow("p3", "draft", "Old prompt.", false, 5))
			},
			wantNames: []string{"draft"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)
			store := &pgPromptStore{db: db}

			prompts, err := store.SystemPrompts(context.Background(), tt.activeOnly)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(prompts) != len(tt.wantNames) {
				t.Fatalf("expected %d prompts, got %d", len(tt.wantNames), len(prompts))
			}
			for i, name := range tt.wantNames {
				if prompts[i].Name != name {
					t.Errorf("prompt %d: expected %q, got %q", i, name, prompts[i].Name)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPGPromptStoreSystemPromptByName(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgPromptStore{db: db}

	mock.ExpectQuery("WHERE name = .* AND is_active").
		WithArgs("router").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.SystemPromptByName(context.Background(), "router"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive prompt, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func chatRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"})
}

func TestPGChatStoreCreateChat(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgChatStore{db: db}

	mock.ExpectExec("INSERT INTO chats").
		WithArgs(sqlmock.AnyArg(), "user-1", "Invoice questions", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	chat, err := store.CreateChat(context.Background(), "user-1", "Invoice questions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.ID == "" {
		t.Error("expected generated chat id")
	}
	if chat.UserID != "user-1" || chat.Title != "Invoice questions" {
		t.Errorf("chat fields not populated: %+v", chat)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGChatStoreUserChats(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgChatStore{db: db}
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, title, created_at, updated_at FROM chats WHERE user_id = .* AND NOT is_archived ORDER BY updated_at DESC LIMIT").
		WithArgs("user-1", 50).
		WillReturnRows(chatRows().
			AddRow("chat-2", "user-1", "Newer", now, now).
			AddRow("chat-1", "user-1", "Older", now.Add(-time.Hour), now.Add(-time.Hour)))

	chats, err := store.UserChats(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != "chat-2" {
		t.Errorf("expected newest chat first, got %+v", chats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGChatStoreDeleteChatCascade(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "deletes images then messages then chat",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM chat_images WHERE chat_id").
					WithArgs("chat-1").
					WillReturnResult(sqlmock.NewResult(0, 3))
				mock.ExpectExec("DELETE FROM chat_messages WHERE chat_id").
					WithArgs("chat-1").
					WillReturnResult(sqlmock.NewResult(0, 8))
				mock.ExpectExec("DELETE FROM chats WHERE id").
					WithArgs("chat-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "missing chat rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM chat_images WHERE chat_id").
					WithArgs("chat-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("DELETE FROM chat_messages WHERE chat_id").
					WithArgs("chat-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("DELETE FROM chats WHERE id").
					WithArgs("chat-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: ErrNotFound,
		},
		{
			name: "message delete failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM chat_images WHERE chat_id").
					WithArgs("chat-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("DELETE FROM chat_messages WHERE chat_id").
					WithArgs("chat-1").
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: errors.New("delete chat messages"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)
			store := &pgChatStore{db: db}

			err := store.DeleteChatCascade(context.Background(), "chat-1")
			switch {
			case tt.wantErr == nil:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			case errors.Is(tt.wantErr, ErrNotFound):
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
			default:
				if err == nil {
					t.Fatal("expected error")
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPGChatStoreAddMessage(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgChatStore{db: db}

	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), "chat-1", "user", "what is the total?", "text", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE chats SET updated_at").
		WithArgs(sqlmock.AnyArg(), "chat-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := store.AddMessage(context.Background(), "chat-1", models.RoleUser, "what is the total?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != "text" {
		t.Errorf("empty message type should default to text, got %q", msg.Type)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func messageRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "message_type", "created_at"})
}

func TestPGChatStoreLastMessage(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		role      models.Role
		setupMock func(mock sqlmock.Sqlmock)
	}{
		{
			name: "any role",
			role: "",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM chat_messages WHERE chat_id = .* ORDER BY created_at DESC LIMIT 1").
					WithArgs("chat-1").
					WillReturnRows(messageRows().AddRow("m2", "chat-1", "assistant", "42", "text", now))
			},
		},
		{
			name: "role filter",
			role: models.RoleUser,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM chat_messages WHERE chat_id = .* AND role = .* ORDER BY created_at DESC LIMIT 1").
					WithArgs("chat-1", "user").
					WillReturnRows(messageRows().AddRow("m1", "chat-1", "user", "what?", "text", now))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)
			store := &pgChatStore{db: db}

			msg, err := store.LastMessage(context.Background(), "chat-1", tt.role)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.role != "" && msg.Role != tt.role {
				t.Errorf("expected role %q, got %q", tt.role, msg.Role)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPGChatStoreMessageImages(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgChatStore{db: db}
	now := time.Now()

	mock.ExpectQuery("SELECT ci.id, ci.chat_id, ci.message_id, ci.file_id, ci.image_type, ci.description, ci.width, ci.height, ci.created_at,\\s+sf.external_url\\s+FROM chat_images ci\\s+LEFT JOIN storage_files sf").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "chat_id", "message_id", "file_id", "image_type", "description", "width", "height", "created_at", "external_url",
		}).AddRow(
			"img-1", "chat-1", "msg-1",
			sql.NullString{String: "file-9", Valid: true},
			sql.NullString{String: "block_crop", Valid: true},
			sql.NullString{String: "TBL1-0001-AAA", Valid: true},
			sql.NullInt64{Int64: 800, Valid: true},
			sql.NullInt64{Int64: 600, Valid: true},
			now,
			sql.NullString{String: "https://cdn.example.com/x.png", Valid: true},
		))

	images, err := store.MessageImages(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	img := images[0]
	if img.FileID != "file-9" || img.Width != 800 || img.Height != 600 {
		t.Errorf("nullable columns not mapped: %+v", img)
	}
	if img.URL != "https://cdn.example.com/x.png" {
		t.Errorf("join URL not mapped, got %q", img.URL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGChatStoreRegisterFile(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgChatStore{db: db}

	mock.ExpectExec("INSERT INTO storage_files").
		WithArgs(
			sqlmock.AnyArg(), // id
			sql.NullString{String: "user-1", Valid: true},
			"crop_ab12.png",
			sql.NullString{String: "image/png", Valid: true},
			int64(2048),
			sql.NullString{String: "chat_images/crop_ab12.png", Valid: true},
			"chat_render",
			sql.NullString{},
			sqlmock.AnyArg(), // created_at
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	file := &models.StorageFile{
		UserID:      "user-1",
		FileName:    "crop_ab12.png",
		ContentType: "image/png",
		SizeBytes:   2048,
		Key:         "chat_images/crop_ab12.png",
		SourceType:  "chat_render",
	}
	if err := store.RegisterFile(context.Background(), file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.ID == "" {
		t.Error("expected generated file id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func treeNodeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "client_id", "parent_id", "node_type", "name", "code", "sort_order"})
}

func TestPGProjectStoreTreeNodes(t *testing.T) {
	tests := []struct {
		name      string
		filter    TreeNodeFilter
		setupMock func(mock sqlmock.Sqlmock)
	}{
		{
			name:   "defaults to roots",
			filter: TreeNodeFilter{},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM tree_nodes WHERE parent_id IS NULL ORDER BY sort_order, name").
					WillReturnRows(treeNodeRows().
						AddRow("n1", sql.NullString{String: "client-1", Valid: true}, sql.NullString{}, "client", "Acme", sql.NullString{}, 0))
			},
		},
		{
			name:   "parent filter",
			filter: TreeNodeFilter{ParentID: "n1"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM tree_nodes WHERE parent_id = .* ORDER BY sort_order, name").
					WithArgs("n1").
					WillReturnRows(treeNodeRows().
						AddRow("n2", sql.NullString{String: "client-1", Valid: true}, sql.NullString{String: "n1", Valid: true}, "project", "Tower", sql.NullString{String: "TWR", Valid: true}, 1))
			},
		},
		{
			name:   "all nodes lifts parent predicate",
			filter: TreeNodeFilter{AllNodes: true, NodeType: "document"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM tree_nodes WHERE node_type = .* ORDER BY sort_order, name").
					WithArgs("document").
					WillReturnRows(treeNodeRows().
						AddRow("n3", sql.NullString{String: "client-1", Valid: true}, sql.NullString{String: "n2", Valid: true}, "document", "Invoice 12", sql.NullString{String: "INV-12", Valid: true}, 2))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)
			store := &pgProjectStore{db: db}

			nodes, err := store.TreeNodes(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(nodes) != 1 {
				t.Fatalf("expected 1 node, got %d", len(nodes))
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func documentResultRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "node_id", "file_type", "file_name", "mime_type", "file_size", "r2_key", "public_url", "created_at"})
}

func TestPGProjectStoreDocumentResults(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		fileType  models.DocumentFileType
		setupMock func(mock sqlmock.Sqlmock)
	}{
		{
			name:     "single type",
			fileType: models.FileResultMD,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM node_files WHERE node_id = .* AND file_type = .* ORDER BY file_type, created_at DESC").
					WithArgs("node-1", "result_md").
					WillReturnRows(documentResultRows().AddRow(
						"f1", "node-1", "result_md", "invoice_document.md",
						sql.NullString{String: "text/markdown", Valid: true}, int64(1024),
						sql.NullString{String: "tree_docs/node-1/invoice_document.md", Valid: true},
						sql.NullString{}, now))
			},
		},
		{
			name:     "all result types",
			fileType: "",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM node_files WHERE node_id = .* AND file_type = ANY").
					WithArgs("node-1", sqlmock.AnyArg()).
					WillReturnRows(documentResultRows().AddRow(
						"f2", "node-1", "annotation", "invoice_annotation.json",
						sql.NullString{String: "application/json", Valid: true}, int64(4096),
						sql.NullString{String: "tree_docs/node-1/invoice_annotation.json", Valid: true},
						sql.NullString{}, now))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)
			store := &pgProjectStore{db: db}

			results, err := store.DocumentResults(context.Background(), "node-1", tt.fileType)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(results))
			}
			if results[0].StorageKey == "" {
				t.Error("storage key not mapped from r2_key column")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPGProjectStoreBlocksIndexForNode(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgProjectStore{db: db}

	mock.ExpectQuery("SELECT .* FROM node_files WHERE node_id = .* AND file_type = 'blocks_index' ORDER BY created_at DESC LIMIT 1").
		WithArgs("node-1").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.BlocksIndexForNode(context.Background(), "node-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGProjectStoreSearchDocuments(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &pgProjectStore{db: db}

	mock.ExpectQuery("SELECT .* FROM tree_nodes WHERE node_type = 'document' AND .name ILIKE .* OR code ILIKE .* AND client_id = .* ORDER BY name LIMIT").
		WithArgs("%invoice%", "client-1", 20).
		WillReturnRows(treeNodeRows().
			AddRow("n3", sql.NullString{String: "client-1", Valid: true}, sql.NullString{String: "n2", Valid: true}, "document", "Invoice 12", sql.NullString{String: "INV-12", Valid: true}, 2))

	nodes, err := store.SearchDocuments(context.Background(), "client-1", "invoice", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Code != "INV-12" {
		t.Errorf("unexpected search result: %+v", nodes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMigratorUpAppliesPending(t *testing.T) {
	db, mock := setupMockDB(t)
	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	if len(migrator.migrations) == 0 {
		t.Fatal("expected embedded migrations to load")
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, applied_at FROM schema_migrations ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "applied_at"}))
	for range migrator.migrations {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	ran, err := migrator.Up(context.Background(), 0)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(ran) != len(migrator.migrations) {
		t.Errorf("expected %d migrations applied, got %d", len(migrator.migrations), len(ran))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMigratorUpSkipsApplied(t *testing.T) {
	db, mock := setupMockDB(t)
	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "applied_at"})
	for _, migration := range migrator.migrations {
		rows.AddRow(migration.ID, time.Now())
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, applied_at FROM schema_migrations ORDER BY id").
		WillReturnRows(rows)

	ran, err := migrator.Up(context.Background(), 0)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("expected no migrations applied, got %v", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
