package api

import (
	"net/http"

	"devfusion/app/internal/tasks"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// TaskHandler handles the per-project task board
type TaskHandler struct {
	service *tasks.Service
	logger  *logger.Logger
}

func NewTaskHandler(service *tasks.Service, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{service: service, logger: logger}
}

// Board returns the project's tasks grouped with its member roster.
func (h *TaskHandler) Board(c *gin.Context) {
	projectID := c.Param("projectId")
	ctx := c.Request.Context()

	list, err := h.service.List(ctx, projectID)
	if err != nil {
		c.Error(err)
		return
	}
	members, err := h.service.Members(ctx, projectID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list, "members": members})
}

type addTaskRequest struct {
	Content string `json:"content" binding:"required"`
}

// Add creates a task owned by the requester.
func (h *TaskHandler) Add(c *gin.Context) {
	var req addTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "task content is required"))
		return
	}

	identity := middleware.CurrentIdentity(c)
	task, err := h.service.Add(c.Request.Context(), c.Param("projectId"), identity.ID, req.Content)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// Toggle flips a task's done state, author only.
func (h *TaskHandler) Toggle(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	task, err := h.service.Toggle(c.Request.Context(), c.Param("taskId"), identity.ID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// Delete removes a task, author only.
func (h *TaskHandler) Delete(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if err := h.service.Delete(c.Request.Context(), c.Param("taskId"), identity.ID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
