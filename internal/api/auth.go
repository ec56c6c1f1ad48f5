// Package api exposes the application's browser-facing route surface as
// JSON handlers over the services and the chat engine registry.
package api

import (
	"net/http"

	"devfusion/app/internal/session"
	"devfusion/app/internal/store"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	client  *store.Client
	session *session.Manager
	logger  *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(client *store.Client, manager *session.Manager, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		client:  client,
		session: manager,
		logger:  logger,
	}
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Username string `json:"username" binding:"required"`
}

// SignUp registers an account and creates the extended profile row.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid signup payload", "error", err.Error())
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "email, password and username are required"))
		return
	}

	sess, err := h.client.Auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(errors.NewRemoteStoreError("signing up", err))
		return
	}
	if sess == nil {
		// Email confirmation required; no session until the user confirms.
		c.JSON(http.StatusAccepted, gin.H{"status": "confirmation_required"})
		return
	}

	row := map[string]string{
		"id":       sess.User.ID,
		"email":    req.Email,
		"username": req.Username,
	}
	if err := h.client.From("users").Insert(c.Request.Context(), row, nil); err != nil {
		h.logger.LogError(err, "profile row creation failed", "user_id", sess.User.ID)
	}
	h.session.Refresh(c.Request.Context())

	h.logger.Info("user signed up", "user_id", sess.User.ID)
	c.JSON(http.StatusCreated, gin.H{"user": sess.User})
}

type signInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignIn authenticates with email and password. The session manager
// re-hydrates through its auth-state listener.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid signin payload", "error", err.Error())
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "email and password are required"))
		return
	}

	sess, err := h.client.Auth.SignInWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(errors.NewUnauthorizedError("INVALID_CREDENTIALS", "invalid email or password"))
		return
	}

	h.logger.Info("user signed in", "user_id", sess.User.ID)
	c.JSON(http.StatusOK, gin.H{"user": sess.User})
}

// SignOut clears the session. The local clear happens even when the
// remote revocation fails.
func (h *AuthHandler) SignOut(c *gin.Context) {
	if err := h.client.Auth.SignOut(c.Request.Context()); err != nil {
		h.logger.LogError(err, "remote signout failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

// Me returns the hydrated identity.
func (h *AuthHandler) Me(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if identity == nil {
		c.Error(errors.NewUnauthorizedError("NOT_AUTHENTICATED", "sign in required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            identity.ID,
		"email":         identity.Email,
		"username":      identity.Username,
		"avatar_url":    identity.AvatarURL,
		"display_color": identity.DisplayColor,
		"github":        identity.GitHubToken != "",
	})
}
