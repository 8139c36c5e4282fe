package httpapi

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"workspaced/internal/store"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "hash password"})
		return
	}

	u, err := s.store.CreateUser(req.Email, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"code": "EMAIL_EXISTS", "message": "email already registered"})
			return
		}
		writeStoreError(c, err)
		return
	}

	s.log.Info("user registered", "userId", u.ID)
	c.JSON(http.StatusCreated, gin.H{"userId": u.ID, "email": u.Email})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	u, err := s.store.GetUserByEmail(req.Email)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if u == nil || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		// Same response whether the email or the password was wrong.
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "invalid credentials"})
		return
	}

	token, expiresAt, err := signToken([]byte(s.cfg.JWTSecret), u.ID, u.Email, s.cfg.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "sign token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accessToken": token, "expiresAt": expiresAt.Format(time.RFC3339)})
}

func (s *Server) handleRefresh(c *gin.Context) {
	claims := c.MustGet("claims").(*Claims)

	token, expiresAt, err := signToken([]byte(s.cfg.JWTSecret), claims.UserID, claims.Email, s.cfg.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "sign token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accessToken": token, "expiresAt": expiresAt.Format(time.RFC3339)})
}

type createSessionRequest struct {
	Code string `json:"code" binding:"required,min=16"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	if err := s.store.CreateSession(req.Code); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": store.SessionPending})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.store.GetSession(c.Param("code"), s.cfg.SessionTimeout)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	resp := gin.H{"status": sess.Status}
	if sess.Status == store.SessionCompleted {
		resp["token"] = sess.Token
		if sess.ExpiresAt != nil {
			resp["expiresAt"] = sess.ExpiresAt.Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, resp)
}

type completeSessionRequest struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// handleCompleteSession hands a bearer token over to the waiting CLI. The
// caller must itself be authenticated; absent an explicit token in the
// body, the caller's own bearer token and expiry are used.
func (s *Server) handleCompleteSession(c *gin.Context) {
	var req completeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	token := req.Token
	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "invalid expiresAt"})
			return
		}
		expiresAt = &t
	}
	if token == "" {
		token = extractBearer(c.GetHeader("Authorization"))
		claims := c.MustGet("claims").(*Claims)
		if claims.ExpiresAt != nil {
			t := claims.ExpiresAt.Time
			expiresAt = &t
		}
	}

	if err := s.store.CompleteSession(c.Param("code"), token, expiresAt, s.cfg.SessionTimeout); err != nil {
		writeStoreError(c, err)
		return
	}

	s.log.Info("auth session completed", "code", c.Param("code"))
	c.JSON(http.StatusOK, gin.H{"status": store.SessionCompleted})
}

// handleDevicePage serves the page the browser lands on during login. It
// explains how to finish the handshake; a hosted deployment would replace
// this with its real sign-in UI.
func (s *Server) handleDevicePage(c *gin.Context) {
	code := c.Query("code")
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>workspaced sign-in</title></head>
<body>
<h1>Authorize the command-line agent</h1>
<p>Session code: <code>%s</code></p>
<p>Sign in, then complete the handshake:</p>
<pre>curl -X POST -H "Authorization: Bearer &lt;your token&gt;" \
  %s/v1/auth/sessions/%s/complete</pre>
</body>
</html>`, html.EscapeString(code), c.Request.Host, html.EscapeString(code))

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

type createWorkspaceRequest struct {
	Name string `json:"name" binding:"required"`
	Data any    `json:"data"`
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	userID, _ := callerID(c)

	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	ws, err := s.store.CreateWorkspace(userID, req.Name, req.Data)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	s.log.Info("workspace created", "workspaceId", ws.ID, "ownerId", userID)
	c.JSON(http.StatusCreated, ws)
}

func (s *Server) handleListWorkspaces(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		// Anonymous callers see an empty list, not an error.
		c.JSON(http.StatusOK, gin.H{"workspaces": []store.WorkspaceSummary{}})
		return
	}

	list, err := s.store.ListWorkspaces(userID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": list})
}

func (s *Server) handleGetWorkspace(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "workspace not found"})
		return
	}

	ws, err := s.store.GetWorkspace(userID, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if ws == nil {
		// Missing and not-owned are deliberately the same response.
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "workspace not found"})
		return
	}
	c.JSON(http.StatusOK, ws)
}

type updateWorkspaceRequest struct {
	Data               any   `json:"data"`
	ExpectedDocVersion int64 `json:"expectedDocVersion" binding:"required"`
}

func (s *Server) handleUpdateWorkspace(c *gin.Context) {
	userID, _ := callerID(c)

	var req updateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	res, err := s.store.UpdateWorkspace(userID, c.Param("id"), req.Data, req.ExpectedDocVersion)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	s.log.Info("workspace updated", "workspaceId", c.Param("id"), "docVersion", res.DocVersion, "noChanges", res.NoChanges)
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleUndo(c *gin.Context) {
	userID, _ := callerID(c)

	res, err := s.store.UndoWorkspace(userID, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRedo(c *gin.Context) {
	userID, _ := callerID(c)

	res, err := s.store.RedoWorkspace(userID, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
