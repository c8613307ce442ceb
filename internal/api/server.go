package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

// Presence is the read side of the presence registry.
type Presence interface {
	IsOnline(userID string) bool
	OnlineUsers() []string
}

// History serves persisted conversation logs.
type History interface {
	DirectHistory(ctx context.Context, userA, userB string, limit int) ([]*types.ChatMessage, error)
	GroupHistory(ctx context.Context, groupID string, limit int) ([]*types.ChatMessage, error)
}

// Notifier pushes out-of-band notifications to a user's connections.
type Notifier interface {
	Notify(userID string, n types.NotificationData) (int, error)
}

// Health reports on the message store.
type Health interface {
	HealthCheck(ctx context.Context) error
}

// Stats summarizes live hub state.
type Stats interface {
	Stats() map[string]int
}

type Deps struct {
	Presence       Presence
	History        History
	Notifier       Notifier
	Store          Health
	Hub            Stats
	Auth           interfaces.Authenticator
	WebSocket      http.Handler
	Metrics        http.Handler
	AllowedOrigins []string
}

// ARCHITECTURAL DISCOVERY: the HTTP layer only translates requests; every
// decision is made by the components behind Deps
type Server struct {
	deps    Deps
	router  chi.Router
	logger  zerolog.Logger
	started time.Time
}

func NewServer(deps Deps, logger zerolog.Logger) *Server {
	if deps.Auth == nil {
		deps.Auth = allowAll{}
	}
	s := &Server{
		deps:    deps,
		router:  chi.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         86400,
		}),
		s.withLogger,
	)

	s.router.Get("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.deps.WebSocket != nil {
		s.router.Method(http.MethodGet, "/ws", s.deps.WebSocket)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(jsonContent)
		r.Get("/presence", s.listOnline)
		r.Get("/presence/{userId}", s.getPresence)
		r.Get("/messages/{userId}", s.directHistory)
		r.Get("/groups/{groupId}/messages", s.groupHistory)
		if s.deps.Notifier != nil {
			r.Post("/notifications/{userId}", s.notify)
		}
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Hub       map[string]int `json:"hub"`
	Uptime    string         `json:"uptime"`
}

type PresenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type OnlineResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type HistoryResponse struct {
	Messages []*types.ChatMessage `json:"messages"`
}

type NotifyResponse struct {
	UserID    string `json:"userId"`
	Delivered int    `json:"delivered"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Hub != nil {
		resp.Hub = s.deps.Hub.Stats()
	}

	code := http.StatusOK
	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error: " + err.Error()
			code = http.StatusServiceUnavailable
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
		}
	}
	s.writeJSON(w, code, resp)
}

// GET /api/presence
func (s *Server) listOnline(w http.ResponseWriter, r *http.Request) {
	users := s.deps.Presence.OnlineUsers()
	if users == nil {
		users = []string{}
	}
	s.writeJSON(w, http.StatusOK, OnlineResponse{Users: users, Count: len(users)})
}

// GET /api/presence/{userId}
func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !types.IsValidUserID(userID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, PresenceResponse{UserID: userID, Online: s.deps.Presence.IsOnline(userID)})
}

// GET /api/messages/{userId}?peer=<id>&limit=<n>
// The caller proves they are userId with a bearer token when JWT auth is on.
func (s *Server) directHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	peer := r.URL.Query().Get("peer")
	if !types.IsValidUserID(userID) || !types.IsValidUserID(peer) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, userID) {
		return
	}

	messages, err := s.deps.History.DirectHistory(r.Context(), userID, peer, limit)
	if err != nil {
		s.historyError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Messages: nonNil(messages)})
}

// GET /api/groups/{groupId}/messages?limit=<n>
func (s *Server) groupHistory(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	if !types.IsValidGroupID(groupID) {
		s.sendError(w, types.ErrInvalidGroupID.Error(), http.StatusBadRequest)
		return
	}
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}

	messages, err := s.deps.History.GroupHistory(r.Context(), groupID, limit)
	if err != nil {
		s.historyError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Messages: nonNil(messages)})
}

// POST /api/notifications/{userId}
// The body is a NotificationData; the caller proves they are fromId.
func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !types.IsValidUserID(userID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}

	var n types.NotificationData
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotificationBytes)).Decode(&n); err != nil {
		s.sendError(w, "invalid notification body", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(n.FromID) {
		s.sendError(w, "fromId: "+types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorize(w, r, n.FromID) {
		return
	}

	delivered, err := s.deps.Notifier.Notify(userID, n)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, NotifyResponse{UserID: userID, Delivered: delivered})
}

// limit parses the optional limit query parameter; zero lets the store pick.
func (s *Server) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, userID string) bool {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if err := s.deps.Auth.Authenticate(r.Context(), userID, token); err != nil {
		s.sendError(w, err.Error(), http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) historyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidUserID), errors.Is(err, types.ErrInvalidGroupID):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrStoreClosed):
		s.sendError(w, "message store unavailable", http.StatusServiceUnavailable)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("history fetch failed")
		s.sendError(w, "failed to load history", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response not written")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// withLogger attaches the request-scoped logger to the context.
func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func nonNil(messages []*types.ChatMessage) []*types.ChatMessage {
	if messages == nil {
		return []*types.ChatMessage{}
	}
	return messages
}

const maxNotificationBytes = 16 << 10

type allowAll struct{}

func (allowAll) Authenticate(context.Context, string, string) error { return nil }
