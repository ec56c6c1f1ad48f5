// Package di wires the application together. Everything downstream of the
// store client receives its dependencies through the container; nothing
// reaches for ambient state.
package di

import (
	"context"

	"devfusion/app/internal/changelog"
	"devfusion/app/internal/chat"
	"devfusion/app/internal/profile"
	"devfusion/app/internal/projects"
	"devfusion/app/internal/session"
	"devfusion/app/internal/store"
	"devfusion/app/internal/tasks"
	"devfusion/app/pkg/config"
	"devfusion/app/pkg/logger"
)

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Store   *store.Client
	Session *session.Manager

	ChatBackend  *chat.Backend
	ChatRegistry *chat.Registry
	Projects     *projects.Service
	Tasks        *tasks.Service
	Changelog    *changelog.Service
	Profile      *profile.Service
}

// New builds the container: store client first, then the session manager
// and services over it.
func New(cfg *config.Config, log *logger.Logger) *Container {
	client := store.New(cfg, log)
	manager := session.NewManager(session.NewBackend(client), log)
	backend := chat.NewBackend(client, cfg.Store.UploadBucket)

	return &Container{
		Config:  cfg,
		Logger:  log,
		Store:   client,
		Session: manager,

		ChatBackend:  backend,
		ChatRegistry: chat.NewRegistry(backend, client.Realtime, chat.Options{PageSize: cfg.Chat.PageSize, IdleTTL: cfg.Chat.EngineIdleTTL}, log),
		Projects:     projects.NewService(client, log),
		Tasks:        tasks.NewService(client, log),
		Changelog:    changelog.NewService(client, cfg, log),
		Profile:      profile.NewService(client, cfg.Store.AvatarBucket, log),
	}
}

// Start hydrates the session and leaves the auth listener attached.
func (c *Container) Start(ctx context.Context) {
	c.Session.Start(ctx)
}

// Close tears the container down in reverse construction order.
func (c *Container) Close() {
	c.ChatRegistry.Close()
	c.Session.Close()
	c.Store.Realtime.Close()
}
