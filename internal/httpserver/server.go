package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/blackmichael/mushimap/internal/auth"
	"github.com/blackmichael/mushimap/internal/config"
	"github.com/blackmichael/mushimap/internal/domain"
	"github.com/blackmichael/mushimap/internal/live"
)

// Server exposes the post service over a local HTTP API plus a websocket
// update feed.
type Server struct {
	cfg        *config.Config
	posts      *domain.PostService
	users      *auth.Provider
	hub        *live.Hub
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer wires the routes to the given services.
func NewServer(cfg *config.Config, posts *domain.PostService, users *auth.Provider, hub *live.Hub, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		posts:  posts,
		users:  users,
		hub:    hub,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("GET /api/posts", s.handleGetPosts)
	mux.HandleFunc("POST /api/posts", s.handleAddPost)
	mux.HandleFunc("GET /api/posts/search", s.handleSearch)
	mux.HandleFunc("POST /api/posts/{id}/like", s.handleLike)
	mux.HandleFunc("PATCH /api/posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("DELETE /api/posts/{id}", s.handleDeletePost)
	mux.HandleFunc("GET /api/users/{id}/posts", s.handlePostsByUser)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.Handle("GET /ws/updates", hub)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "hostname": s.cfg.Hostname})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input auth.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}

	user, err := s.users.Register(r.Context(), input)
	if err != nil {
		s.writeDomainError(w, err, "register failed")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}

	if err := s.users.Login(r.Context(), user); err != nil {
		s.writeDomainError(w, err, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Logout(r.Context()); err != nil {
		s.writeDomainError(w, err, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.CurrentUser(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "resolve current user failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleGetPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.GetPosts(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "list posts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handleAddPost(w http.ResponseWriter, r *http.Request) {
	var input domain.AddPostInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}

	post, err := s.posts.AddPost(r.Context(), input)
	if err != nil {
		s.writeDomainError(w, err, "add post failed")
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "q parameter is required")
		return
	}

	posts, err := s.posts.SearchPosts(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	post, err := s.posts.LikePost(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err, "like failed")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var patch domain.PostPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}

	post, err := s.posts.UpdatePost(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeDomainError(w, err, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.DeletePost(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePostsByUser(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.PostsByUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err, "list posts by user failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.posts.Statistics(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "statistics failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.posts.Sync(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeDomainError maps domain errors onto HTTP statuses. Anything
// unrecognized is an internal error and gets logged with detail; the client
// only sees a generic message.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrNoCurrentUser):
		writeError(w, http.StatusUnauthorized, "AuthRequired", "sign in first")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", "post not found")
	case errors.Is(err, domain.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "Conflict", "email already registered")
	default:
		s.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack forwards to the wrapped writer so the websocket upgrade works
// through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying writer does not support hijacking")
	}
	return hj.Hijack()
}
