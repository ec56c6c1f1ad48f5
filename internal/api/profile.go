package api

import (
	"net/http"

	"devfusion/app/internal/profile"
	"devfusion/app/internal/session"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ProfileHandler handles edits to the extended user record. Every
// successful mutation re-hydrates the session so the merged identity
// reflects the latest row.
type ProfileHandler struct {
	service *profile.Service
	session *session.Manager
	logger  *logger.Logger
}

func NewProfileHandler(service *profile.Service, manager *session.Manager, logger *logger.Logger) *ProfileHandler {
	return &ProfileHandler{service: service, session: manager, logger: logger}
}

// UploadAvatar stores a new avatar image and records its public URL.
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)

	header, err := c.FormFile("avatar")
	if err != nil {
		c.Error(errors.NewBadRequestError("MISSING_FILE", "avatar file is required"))
		return
	}
	f, err := header.Open()
	if err != nil {
		c.Error(errors.NewBadRequestError("UNREADABLE_FILE", "avatar file could not be read"))
		return
	}
	defer f.Close()

	url, err := h.service.UploadAvatar(c.Request.Context(), identity.ID,
		header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		c.Error(err)
		return
	}

	h.session.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"avatar_url": url})
}

type colorRequest struct {
	Color string `json:"color" binding:"required"`
}

// SetColor updates the display color.
func (h *ProfileHandler) SetColor(c *gin.Context) {
	var req colorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "color is required"))
		return
	}

	identity := middleware.CurrentIdentity(c)
	if err := h.service.SetDisplayColor(c.Request.Context(), identity.ID, req.Color); err != nil {
		c.Error(err)
		return
	}

	h.session.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// SetEmail updates the profile email.
func (h *ProfileHandler) SetEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "a valid email is required"))
		return
	}

	identity := middleware.CurrentIdentity(c)
	if err := h.service.SetEmail(c.Request.Context(), identity.ID, req.Email); err != nil {
		c.Error(err)
		return
	}

	h.session.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// GitHubSuccess is the OAuth redirect landing: it stores the token handed
// back by the exchange and returns to the dashboard.
func (h *ProfileHandler) GitHubSuccess(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)

	token := c.Query("token")
	if token == "" {
		c.Error(errors.NewBadRequestError("MISSING_TOKEN", "no token in redirect"))
		return
	}
	if err := h.service.ConnectGitHub(c.Request.Context(), identity.ID, token); err != nil {
		c.Error(err)
		return
	}

	h.session.Refresh(c.Request.Context())
	c.Redirect(http.StatusFound, "/dashboard")
}

// DisconnectGitHub clears the stored OAuth token.
func (h *ProfileHandler) DisconnectGitHub(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if err := h.service.DisconnectGitHub(c.Request.Context(), identity.ID); err != nil {
		c.Error(err)
		return
	}

	h.session.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
