// Package tasks implements the per-project task board. Reads are
// project-wide; mutations are restricted to the task's own author.
package tasks

import (
	"context"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
)

// Task is one task row.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

// Member is a project member the board groups tasks under.
type Member struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	AvatarURL    string `json:"avatar_url"`
	DisplayColor string `json:"display_color"`
}

// Service performs task operations against the remote store.
type Service struct {
	client *store.Client
	log    *logger.Logger
}

func NewService(client *store.Client, log *logger.Logger) *Service {
	return &Service{client: client, log: log}
}

// List returns every task in the project, oldest first.
func (s *Service) List(ctx context.Context, projectID string) ([]Task, error) {
	var tasks []Task
	err := s.client.From("tasks").
		Select("id, project_id, user_id, content, done, created_at").
		Eq("project_id", projectID).
		Order("created_at", true).
		Get(ctx, &tasks)
	if err != nil {
		return nil, errors.NewRemoteStoreError("listing tasks", err)
	}
	return tasks, nil
}

// Members returns the project roster the board renders a column per.
func (s *Service) Members(ctx context.Context, projectID string) ([]Member, error) {
	var rows []struct {
		User Member `json:"user"`
	}
	err := s.client.From("project_members").
		Select(`user:user_id (id, username, avatar_url, display_color)`).
		Eq("project_id", projectID).
		Get(ctx, &rows)
	if err != nil {
		return nil, errors.NewRemoteStoreError("listing members", err)
	}
	members := make([]Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, row.User)
	}
	return members, nil
}

// Add creates a task owned by the requester.
func (s *Service) Add(ctx context.Context, projectID, userID, content string) (*Task, error) {
	if content == "" {
		return nil, errors.NewBadRequestError("EMPTY_TASK", "task content is required")
	}
	row := map[string]any{
		"project_id": projectID,
		"user_id":    userID,
		"content":    content,
		"done":       false,
	}
	var inserted []Task
	if err := s.client.From("tasks").Insert(ctx, row, &inserted); err != nil {
		return nil, errors.NewRemoteStoreError("adding task", err)
	}
	if len(inserted) == 0 {
		return nil, errors.NewRemoteStoreError("adding task", store.ErrEmptyRepresentation)
	}
	return &inserted[0], nil
}

// Toggle flips a task's done bit. The ownership check runs before the
// mutation; a non-author is refused without touching the store.
func (s *Service) Toggle(ctx context.Context, taskID, userID string) (*Task, error) {
	task, err := s.owned(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	patch := map[string]bool{"done": !task.Done}
	var updated []Task
	err = s.client.From("tasks").
		Eq("id", taskID).
		Eq("user_id", userID).
		Update(ctx, patch, &updated)
	if err != nil {
		return nil, errors.NewRemoteStoreError("updating task", err)
	}
	if len(updated) == 0 {
		return nil, errors.NewNotFoundError("TASK_NOT_FOUND", "task not found")
	}
	return &updated[0], nil
}

// Delete removes a task, author only.
func (s *Service) Delete(ctx context.Context, taskID, userID string) error {
	if _, err := s.owned(ctx, taskID, userID); err != nil {
		return err
	}
	err := s.client.From("tasks").
		Eq("id", taskID).
		Eq("user_id", userID).
		Delete(ctx)
	if err != nil {
		return errors.NewRemoteStoreError("deleting task", err)
	}
	s.log.Info("task deleted", "task_id", taskID, "user_id", userID)
	return nil
}

func (s *Service) owned(ctx context.Context, taskID, userID string) (*Task, error) {
	var task Task
	err := s.client.From("tasks").
		Select("id, project_id, user_id, content, done, created_at").
		Eq("id", taskID).
		Single().
		Get(ctx, &task)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errors.NewNotFoundError("TASK_NOT_FOUND", "task not found")
		}
		return nil, errors.NewRemoteStoreError("fetching task", err)
	}
	if task.UserID != userID {
		return nil, errors.NewForbiddenError("NOT_TASK_AUTHOR", "only the task's author can modify it")
	}
	return &task, nil
}
