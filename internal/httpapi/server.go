// Package httpapi exposes the workspace store and the auth handshake over
// HTTP.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"workspaced/internal/store"
)

// Config holds the server-side tunables.
type Config struct {
	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration

	// SessionTimeout is the server-side deadline for completing a
	// handshake session.
	SessionTimeout time.Duration
}

// DefaultConfig returns the standard server configuration.
func DefaultConfig() Config {
	return Config{
		TokenTTL:       24 * time.Hour,
		SessionTimeout: 10 * time.Minute,
	}
}

// Server wires the store into gin handlers.
type Server struct {
	store *store.Store
	cfg   Config
	log   *slog.Logger
}

// NewServer creates a Server over the given store.
func NewServer(st *store.Store, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, cfg: cfg, log: log}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	secret := []byte(s.cfg.JWTSecret)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/auth/device", s.handleDevicePage)

	v1 := r.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", s.handleRegister)
		auth.POST("/login", s.handleLogin)
		auth.POST("/refresh", authRequired(secret), s.handleRefresh)

		auth.POST("/sessions", s.handleCreateSession)
		auth.GET("/sessions/:code", s.handleGetSession)
		auth.POST("/sessions/:code/complete", authRequired(secret), s.handleCompleteSession)

		ws := v1.Group("/workspaces")
		ws.GET("", authOptional(secret), s.handleListWorkspaces)
		ws.GET("/:id", authOptional(secret), s.handleGetWorkspace)
		ws.POST("", authRequired(secret), s.handleCreateWorkspace)
		ws.PUT("/:id", authRequired(secret), s.handleUpdateWorkspace)
		ws.POST("/:id/undo", authRequired(secret), s.handleUndo)
		ws.POST("/:id/redo", authRequired(secret), s.handleRedo)
	}

	return r
}

// writeStoreError maps the store error taxonomy onto HTTP statuses.
func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "workspace not found"})
	case errors.Is(err, store.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"code": "ACCESS_DENIED", "message": "access denied"})
	case errors.Is(err, store.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"code": "VERSION_CONFLICT", "message": err.Error()})
	case errors.Is(err, store.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "message": "auth session not found"})
	case errors.Is(err, store.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"code": "SESSION_EXPIRED", "message": "auth session expired"})
	case errors.Is(err, store.ErrDuplicateCode):
		c.JSON(http.StatusConflict, gin.H{"code": "SESSION_EXISTS", "message": "session code already registered"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "internal error"})
	}
}
