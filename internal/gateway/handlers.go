package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/docsight/internal/agent"
	"github.com/haasonsaas/docsight/internal/auth"
	"github.com/haasonsaas/docsight/internal/deletion"
	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/storage"
	"github.com/haasonsaas/docsight/pkg/models"
)

type tokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"`
	User        *models.User `json:"user"`
}

// handleTokenExchange swaps a static token for a JWT session.
func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	session, err := s.auth.Exchange(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		s.log.Error(r.Context(), "token exchange failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token exchange failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
		ExpiresIn:   session.ExpiresIn,
		User:        session.User,
	})
}

// messageRequest is the SSE endpoint's body.
type messageRequest struct {
	Message     string   `json:"message"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	CompareA    []string `json:"compare_document_ids_a,omitempty"`
	CompareB    []string `json:"compare_document_ids_b,omitempty"`

	TreeFiles []struct {
		Key      string `json:"key"`
		FileType string `json:"file_type,omitempty"`
	} `json:"tree_files,omitempty"`

	Attachments []struct {
		Name       string `json:"name,omitempty"`
		URI        string `json:"uri"`
		MIMEType   string `json:"mime_type,omitempty"`
		StorageKey string `json:"storage_key,omitempty"`
	} `json:"attachments,omitempty"`
}

// handleSendMessage runs one user turn through the queue and the
// pipeline, streaming the event sequence back as SSE. The response is
// always 200 once streaming starts; failures after that point arrive as
// a terminal error event.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	chatID := r.PathValue("chat_id")

	var body messageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}
	if chat, err := s.stores.Chats.GetChat(r.Context(), chatID); err != nil || chat.UserID != user.ID {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	req := agent.Request{
		ChatID:      chatID,
		UserID:      user.ID,
		Message:     body.Message,
		DocumentIDs: body.DocumentIDs,
		CompareA:    body.CompareA,
		CompareB:    body.CompareB,
	}
	for _, f := range body.TreeFiles {
		req.TreeFiles = append(req.TreeFiles, agent.TreeFile{Key: f.Key, FileType: f.FileType})
	}
	for _, a := range body.Attachments {
		req.Attachments = append(req.Attachments, agent.Attachment{
			File:       llm.FileRef{Name: a.Name, URI: a.URI, MIMEType: a.MIMEType},
			StorageKey: a.StorageKey,
		})
	}
	s.streamRequest(w, r, req)
}

// handleChatMessages returns the chat's message history, newest last,
// with rendered images inlined per message.
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	chatID := r.PathValue("chat_id")
	chat, err := s.stores.Chats.GetChat(r.Context(), chatID)
	if err != nil || chat.UserID != user.ID {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	msgs, err := s.stores.Chats.ChatMessages(r.Context(), chatID, 0)
	if err != nil {
		s.log.Error(r.Context(), "message listing failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "message listing failed")
		return
	}
	type messageOut struct {
		*models.Message
		Images []*models.ChatImage `json:"images,omitempty"`
	}
	out := make([]messageOut, 0, len(msgs))
	for _, m := range msgs {
		images, _ := s.stores.Chats.MessageImages(r.Context(), m.ID)
		out = append(out, messageOut{Message: m, Images: images})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	chats, err := s.stores.Chats.UserChats(r.Context(), user.ID, 0)
	if err != nil {
		s.log.Error(r.Context(), "chat listing failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chat, err := s.stores.Chats.CreateChat(r.Context(), user.ID, body.Title)
	if err != nil {
		s.log.Error(r.Context(), "chat create failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat create failed")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// handleDeleteChat enqueues the cascade and answers 202. The rows
// disappear asynchronously; a full deletion backlog answers 503 so the
// client can retry.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	chatID := r.PathValue("chat_id")
	chat, err := s.stores.Chats.GetChat(r.Context(), chatID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		s.log.Error(r.Context(), "chat lookup failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat lookup failed")
		return
	}
	if chat.UserID != user.ID && !user.IsAdmin {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if s.deleter == nil {
		writeError(w, http.StatusServiceUnavailable, "deletion unavailable")
		return
	}
	if err := s.deleter.Schedule(chatID); err != nil {
		if errors.Is(err, deletion.ErrBacklogFull) || errors.Is(err, deletion.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, "deletion backlog full")
			return
		}
		writeError(w, http.StatusInternalServerError, "deletion scheduling failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled", "chat_id": chatID})
}

// handleCacheStats reports render-cache occupancy. Admin only.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if requireAdmin(w, r) == nil {
		return
	}
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "render cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}
