package api

import (
	"net/http"

	"devfusion/app/internal/changelog"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ChangelogHandler serves the read-only commit views
type ChangelogHandler struct {
	service *changelog.Service
	logger  *logger.Logger
}

func NewChangelogHandler(service *changelog.Service, logger *logger.Logger) *ChangelogHandler {
	return &ChangelogHandler{service: service, logger: logger}
}

// Commits lists the linked repository's commits through the proxy. The
// requester's stored GitHub token, if any, unlocks private repositories.
func (h *ChangelogHandler) Commits(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	commits, err := h.service.Commits(c.Request.Context(), c.Param("projectId"), identity.GitHubToken)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commits": commits})
}

// Repositories lists the repositories visible to the requester's GitHub
// token, for linking one to a project.
func (h *ChangelogHandler) Repositories(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	repos, err := h.service.ListRepositories(c.Request.Context(), identity.GitHubToken)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}
