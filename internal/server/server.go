// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jeranaias/ragchat/internal/chat"
	"github.com/jeranaias/ragchat/internal/index"
	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8501"

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxPromptRunes caps the length of a single prompt.
	MaxPromptRunes = 4095

	// SessionCookie holds the browser's session ID.
	SessionCookie = "ragchat_session"

	// Placeholder is the chat input hint.
	Placeholder = "Ask me anything!"

	// Version is the server version.
	Version = "1.0.0"
)

//go:embed static
var staticFiles embed.FS

var indexTemplate = template.Must(template.ParseFS(staticFiles, "static/index.html"))

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage statistics.
type ServerStats struct {
	ChatRequests atomic.Int64
	ChatErrors   atomic.Int64
	StartTime    time.Time
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

// Uptime returns the server uptime duration.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// IndexStats reports on the vector index. *retriever.Retriever implements it.
type IndexStats interface {
	Stats(ctx context.Context) (index.Stats, bool, error)
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address (default DefaultAddr)
	Addr string

	// Title and Description are shown in the page header and sidebar
	Title       string
	Description string

	Chat  *chat.Service
	Index IndexStats

	// RateLimit is requests/second per IP (<= 0 disables), RateBurst the bucket size
	RateLimit float64
	RateBurst int

	Auth *AuthConfig
	CORS *CORSConfig

	// ShutdownTimeout bounds graceful shutdown in Run
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Server serves the chat page and its JSON/SSE API.
type Server struct {
	opts    Options
	router  *http.ServeMux
	handler http.Handler
	server  *http.Server
	stats   *ServerStats
	logger  *slog.Logger
}

// New creates a Server. It does not start listening.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		opts:   opts,
		router: http.NewServeMux(),
		stats:  NewServerStats(),
		logger: logging.OrDiscard(opts.Logger),
	}
	s.setupRoutes()
	s.handler = s.buildHandler()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: answers stream for as long as the provider takes.
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	assets, _ := fs.Sub(staticFiles, "static")

	s.router.HandleFunc("GET /{$}", s.handleIndex)
	s.router.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(assets)))

	s.router.HandleFunc("GET /api/history", s.handleHistory)
	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("POST /api/reset", s.handleReset)
	s.router.HandleFunc("GET /api/info", s.handleInfo)

	s.router.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) buildHandler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
	}
	if s.opts.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.opts.RateLimit, s.opts.RateBurst), s.logger))
	}
	if s.opts.CORS != nil {
		middlewares = append(middlewares, CORSMiddleware(s.opts.CORS))
	}
	if s.opts.Auth != nil && s.opts.Auth.Enabled {
		middlewares = append(middlewares, AuthMiddleware(s.opts.Auth, s.logger))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// PAGE
// ============================================================================

type pageData struct {
	Title       string
	Description string
	Placeholder string
}

// handleIndex renders the chat page. A ?token= parameter is stored in a
// cookie so the page's API calls authenticate.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.sessionID(w, r)
	if tok := r.URL.Query().Get("token"); tok != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     TokenCookie,
			Value:    tok,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, pageData{
		Title:       s.opts.Title,
		Description: s.opts.Description,
		Placeholder: Placeholder,
	})
	if err != nil {
		s.logger.Error("failed to render page", "error", err)
	}
}

// sessionID returns the session cookie value, issuing a new one when the
// request has none or an invalid one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Debug("issued session", "session", id)
	return id
}

// ============================================================================
// HISTORY / RESET
// ============================================================================

// MessageView is a message as rendered by the page.
type MessageView struct {
	ID      string `json:"id"`
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// HistoryResponse is returned by GET /api/history and POST /api/reset.
type HistoryResponse struct {
	Messages []MessageView `json:"messages"`
}

func toViews(msgs []model.Message) []MessageView {
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = MessageView{ID: m.ID, Role: m.Role.Avatar(), Content: m.Content}
	}
	return out
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: toViews(s.opts.Chat.History(id))})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	s.opts.Chat.Reset(id)
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: toViews(s.opts.Chat.History(id))})
}

// ============================================================================
// CHAT
// ============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// StreamEvent is one SSE data payload of POST /api/chat.
type StreamEvent struct {
	Token     string `json:"token,omitempty"`
	Done      bool   `json:"done,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize), "invalid_request_error")
			return
		}
		s.logger.Debug("invalid chat request", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request format", "invalid_request_error")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "Prompt must not be empty", "invalid_request_error")
		return
	}
	if !utf8.ValidString(prompt) {
		writeError(w, http.StatusBadRequest, "Prompt must be valid UTF-8", "invalid_request_error")
		return
	}
	if n := utf8.RuneCountInString(prompt); n > MaxPromptRunes {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Prompt exceeds maximum length of %d characters", MaxPromptRunes), "invalid_request_error")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", "server_error")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.stats.ChatRequests.Add(1)
	reply, err := s.opts.Chat.Respond(r.Context(), id, prompt, func(token string) {
		s.sendEvent(w, flusher, StreamEvent{Token: token})
	})
	if err != nil {
		s.stats.ChatErrors.Add(1)
		s.sendEvent(w, flusher, StreamEvent{Error: chat.GenericErrorMessage})
		return
	}
	s.sendEvent(w, flusher, StreamEvent{Done: true, MessageID: reply.ID})
}

// sendEvent writes one SSE event. Write errors mean the client left; the
// request context is cancelled in that case and generation stops.
func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, ev StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// ============================================================================
// INFO / HEALTH
// ============================================================================

// IndexInfo describes the vector index.
type IndexInfo struct {
	Ready bool `json:"ready"`
	index.Stats
}

// InfoResponse is returned by GET /api/info.
type InfoResponse struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Model         string    `json:"model"`
	Index         IndexInfo `json:"index"`
	ChatRequests  int64     `json:"chat_requests"`
	ChatErrors    int64     `json:"chat_errors"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	ServerVersion string    `json:"version"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := InfoResponse{
		Title:         s.opts.Title,
		Description:   s.opts.Description,
		ChatRequests:  s.stats.ChatRequests.Load(),
		ChatErrors:    s.stats.ChatErrors.Load(),
		UptimeSeconds: int64(s.stats.Uptime().Seconds()),
		ServerVersion: Version,
	}
	if s.opts.Chat != nil && s.opts.Chat.Completer() != nil {
		info.Model = s.opts.Chat.Completer().Name()
	}
	if s.opts.Index != nil {
		stats, ok, err := s.opts.Index.Stats(r.Context())
		if err != nil {
			s.logger.Warn("failed to read index stats", "error", err)
		}
		info.Index = IndexInfo{Ready: ok && err == nil, Stats: stats}
	}
	writeJSON(w, http.StatusOK, info)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server started", "addr", ln.Addr().String(), "version", Version)
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run starts the server and shuts it down gracefully when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server. A server that was never
// started shuts down immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down",
		"chat_requests", s.stats.ChatRequests.Load(), "uptime", s.stats.Uptime().Round(time.Second).String())
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Message: message, Type: errType, Code: status}})
}
