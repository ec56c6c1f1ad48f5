package api

import (
	"net/http"

	"devfusion/app/internal/projects"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ProjectHandler handles project and membership requests
type ProjectHandler struct {
	service *projects.Service
	logger  *logger.Logger
}

func NewProjectHandler(service *projects.Service, logger *logger.Logger) *ProjectHandler {
	return &ProjectHandler{service: service, logger: logger}
}

// Dashboard lists the requester's projects.
func (h *ProjectHandler) Dashboard(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	list, err := h.service.ListForUser(c.Request.Context(), identity.ID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

type createProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Create makes a project owned by the requester.
func (h *ProjectHandler) Create(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "project name is required"))
		return
	}

	identity := middleware.CurrentIdentity(c)
	project, err := h.service.Create(c.Request.Context(), identity.ID, req.Name, req.Description)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// Get returns one project. A stale id redirects to the dashboard rather
// than erroring a view that no longer exists.
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.service.Get(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		if errors.FromError(err).StatusCode == http.StatusNotFound {
			c.Redirect(http.StatusFound, "/dashboard")
			c.Abort()
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// Delete applies the ownership-conditional cascade.
func (h *ProjectHandler) Delete(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if err := h.service.Delete(c.Request.Context(), c.Param("projectId"), identity.ID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// SearchContributors finds users to invite by username or email.
func (h *ProjectHandler) SearchContributors(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusOK, gin.H{"users": []projects.Contributor{}})
		return
	}
	users, err := h.service.SearchContributors(c.Request.Context(), query)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type inviteRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Invite adds a member, owner only.
func (h *ProjectHandler) Invite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "user_id is required"))
		return
	}

	identity := middleware.CurrentIdentity(c)
	err := h.service.Invite(c.Request.Context(), c.Param("projectId"), identity.ID, req.UserID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "invited"})
}

// Members lists the project roster.
func (h *ProjectHandler) Members(c *gin.Context) {
	members, err := h.service.Members(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}
