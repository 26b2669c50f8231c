// Package gateway is the HTTP surface: token exchange, the SSE message
// endpoint, chat deletion, health, metrics and the admin cache view.
// The gateway owns wire framing only; pipeline semantics live behind
// the agent and queue it fronts.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/docsight/internal/agent"
	"github.com/haasonsaas/docsight/internal/auth"
	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/deletion"
	"github.com/haasonsaas/docsight/internal/events"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/rendercache"
	"github.com/haasonsaas/docsight/internal/storage"
)

// Pipeline is the processing entrypoint the message endpoint drives.
// *agent.Service satisfies it.
type Pipeline interface {
	Process(ctx context.Context, req agent.Request, stream *events.Stream) error
}

// Admitter guards pipeline admission. *queue.Queue satisfies it.
type Admitter interface {
	Execute(ctx context.Context, chatID string, stream *events.Stream, producer func(context.Context) error) error
}

// Server wires the handler set behind one mux.
type Server struct {
	cfg      *config.Config
	auth     *auth.Service
	stores   storage.StoreSet
	pipeline Pipeline
	queue    Admitter
	cache    *rendercache.Cache
	deleter  *deletion.Worker
	log      *observability.Logger
	metrics  *observability.Metrics

	mux  *http.ServeMux
	http *http.Server
}

// NewServer builds the gateway. cache and deleter may be nil; the
// endpoints backed by them then answer 404 and 503 respectively.
func NewServer(cfg *config.Config, authSvc *auth.Service, stores storage.StoreSet, pipeline Pipeline, admitter Admitter, cache *rendercache.Cache, deleter *deletion.Worker, log *observability.Logger, metrics *observability.Metrics) *Server {
	if log == nil {
		log = observability.NopLogger()
	}
	s := &Server{
		cfg:      cfg,
		auth:     authSvc,
		stores:   stores,
		pipeline: pipeline,
		queue:    admitter,
		cache:    cache,
		deleter:  deleter,
		log:      log,
		metrics:  metrics,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("POST /api/auth/token", s.handleTokenExchange)

	s.mux.Handle("POST /api/chats/{chat_id}/messages", s.authenticated(s.handleSendMessage))
	s.mux.Handle("GET /api/chats/{chat_id}/messages", s.authenticated(s.handleChatMessages))
	s.mux.Handle("GET /api/chats", s.authenticated(s.handleListChats))
	s.mux.Handle("POST /api/chats", s.authenticated(s.handleCreateChat))
	s.mux.Handle("DELETE /api/chats/{chat_id}", s.authenticated(s.handleDeleteChat))
	s.mux.Handle("GET /api/admin/cache/stats", s.authenticated(s.handleCacheStats))
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.limitBody(h)
	h = s.cors(h)
	h = s.instrument(h)
	return h
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info(context.Background(), "gateway listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight
// requests, including open SSE streams, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON renders a JSON response. Encoding failures are logged by
// the HTTP stack; headers are already gone by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the error envelope {"detail": ...}.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
