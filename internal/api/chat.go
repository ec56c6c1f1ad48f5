package api

import (
	"net/http"

	"devfusion/app/internal/chat"
	"devfusion/app/internal/session"
	"devfusion/app/pkg/config"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ChatHandler drives the project transcript: snapshot, backward
// pagination, sending with attachments, and mention search.
type ChatHandler struct {
	registry *chat.Registry
	cfg      *config.Config
	logger   *logger.Logger
}

func NewChatHandler(registry *chat.Registry, cfg *config.Config, logger *logger.Logger) *ChatHandler {
	return &ChatHandler{registry: registry, cfg: cfg, logger: logger}
}

func selfAuthor(identity *session.Identity) chat.Author {
	return chat.Author{
		ID:           identity.ID,
		Username:     identity.Username,
		AvatarURL:    identity.AvatarURL,
		DisplayColor: identity.DisplayColor,
	}
}

// Transcript returns the loaded transcript in display order.
func (h *ChatHandler) Transcript(c *gin.Context) {
	projectID := c.Param("projectId")
	identity := middleware.CurrentIdentity(c)

	engine, err := h.registry.Acquire(c.Request.Context(), projectID, selfAuthor(identity))
	if err != nil {
		c.Error(errors.NewRemoteStoreError("loading transcript", err))
		return
	}
	defer h.registry.Release(projectID)

	c.JSON(http.StatusOK, gin.H{
		"messages":  engine.Snapshot(),
		"exhausted": engine.Exhausted(),
	})
}

// LoadOlder fetches the next page of history and returns the grown
// transcript.
func (h *ChatHandler) LoadOlder(c *gin.Context) {
	projectID := c.Param("projectId")
	identity := middleware.CurrentIdentity(c)

	engine, err := h.registry.Acquire(c.Request.Context(), projectID, selfAuthor(identity))
	if err != nil {
		c.Error(errors.NewRemoteStoreError("loading transcript", err))
		return
	}
	defer h.registry.Release(projectID)

	if err := engine.LoadOlder(c.Request.Context()); err != nil {
		c.Error(errors.NewRemoteStoreError("loading history", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":  engine.Snapshot(),
		"exhausted": engine.Exhausted(),
	})
}

// Send posts a message, optionally with multipart file attachments.
func (h *ChatHandler) Send(c *gin.Context) {
	projectID := c.Param("projectId")
	identity := middleware.CurrentIdentity(c)

	text := c.PostForm("text")
	var uploads []chat.Upload

	form, err := c.MultipartForm()
	if err == nil && form != nil {
		for _, header := range form.File["files"] {
			if header.Size > h.cfg.Chat.MaxAttachmentSize {
				c.Error(errors.NewBadRequestError("ATTACHMENT_TOO_LARGE", header.Filename+" exceeds the size limit"))
				return
			}
			f, openErr := header.Open()
			if openErr != nil {
				c.Error(errors.NewBadRequestError("UNREADABLE_FILE", header.Filename+" could not be read"))
				return
			}
			defer f.Close()
			uploads = append(uploads, chat.Upload{
				Filename: header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Content:  f,
			})
		}
	}

	engine, err := h.registry.Acquire(c.Request.Context(), projectID, selfAuthor(identity))
	if err != nil {
		c.Error(errors.NewRemoteStoreError("loading transcript", err))
		return
	}
	defer h.registry.Release(projectID)

	if err := engine.Send(c.Request.Context(), text, uploads); err != nil {
		// The transcript already reflects the failed state; report it
		// without blocking the composer.
		c.JSON(http.StatusAccepted, gin.H{"status": "failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "sent"})
}

// Mentions prefix-searches the project roster for the composer.
func (h *ChatHandler) Mentions(c *gin.Context) {
	projectID := c.Param("projectId")

	composer := chat.NewComposer(h.registry.Backend(), projectID, h.cfg.Chat.MentionLimit, h.logger)
	composer.SetText(c.Request.Context(), "@"+c.Query("prefix"))

	suggestions := composer.Suggestions()
	if suggestions == nil {
		suggestions = []chat.Author{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}
