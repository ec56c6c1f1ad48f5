// Package router assembles the gin engine: middleware chain, route
// surface and the websocket transcript bridge.
package router

import (
	"net/http"
	"strings"
	"time"

	"devfusion/app/internal/api"
	"devfusion/app/pkg/config"
	"devfusion/app/pkg/di"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Track server start time for uptime reporting
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router over the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(logger.Middleware(container.Logger))
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	rateLimiter := middleware.NewRateLimiter(container.Logger)
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware(r.Config.Security.AllowedOrigins))

	c := r.Container
	guard := middleware.SessionGuard(c.Session)

	authHandler := api.NewAuthHandler(c.Store, c.Session, r.Logger)
	projectHandler := api.NewProjectHandler(c.Projects, r.Logger)
	chatHandler := api.NewChatHandler(c.ChatRegistry, r.Config, r.Logger)
	taskHandler := api.NewTaskHandler(c.Tasks, r.Logger)
	changelogHandler := api.NewChangelogHandler(c.Changelog, r.Logger)
	profileHandler := api.NewProfileHandler(c.Profile, c.Session, r.Logger)
	bridge := api.NewWSBridge(c.ChatRegistry, r.Config.Security.AllowedOrigins, r.Logger)

	r.Engine.GET("/", r.rootHandler())
	r.Engine.GET("/health", r.healthCheckHandler())

	auth := r.Engine.Group("/auth")
	{
		auth.POST("/signup", authHandler.SignUp)
		auth.POST("/signin", authHandler.SignIn)
		auth.POST("/signout", authHandler.SignOut)
		auth.GET("/me", guard, authHandler.Me)
	}

	r.Engine.GET("/github/success", guard, profileHandler.GitHubSuccess)
	r.Engine.GET("/github/repositories", guard, changelogHandler.Repositories)

	r.Engine.GET("/dashboard", guard, projectHandler.Dashboard)

	protected := r.Engine.Group("/projects")
	protected.Use(guard)
	{
		protected.POST("", projectHandler.Create)
		protected.GET("/:projectId", projectHandler.Get)
		protected.DELETE("/:projectId", projectHandler.Delete)

		protected.GET("/:projectId/chat", chatHandler.Transcript)
		protected.POST("/:projectId/chat", chatHandler.Send)
		protected.POST("/:projectId/chat/older", chatHandler.LoadOlder)
		protected.GET("/:projectId/chat/mentions", chatHandler.Mentions)

		protected.GET("/:projectId/tasks", taskHandler.Board)
		protected.POST("/:projectId/tasks", taskHandler.Add)

		protected.GET("/:projectId/changelog", changelogHandler.Commits)

		protected.GET("/:projectId/add", projectHandler.SearchContributors)
		protected.POST("/:projectId/add", projectHandler.Invite)
		protected.GET("/:projectId/members", projectHandler.Members)
	}

	taskRoutes := r.Engine.Group("/tasks")
	taskRoutes.Use(guard)
	{
		taskRoutes.POST("/:taskId/toggle", taskHandler.Toggle)
		taskRoutes.DELETE("/:taskId", taskHandler.Delete)
	}

	profileRoutes := r.Engine.Group("/profile")
	profileRoutes.Use(guard)
	{
		profileRoutes.POST("/avatar", profileHandler.UploadAvatar)
		profileRoutes.PUT("/color", profileHandler.SetColor)
		profileRoutes.PUT("/email", profileHandler.SetEmail)
		profileRoutes.DELETE("/github", profileHandler.DisconnectGitHub)
	}

	r.Engine.GET("/ws", guard, bridge.Serve)
}

// rootHandler routes the landing request: authenticated users land on the
// dashboard, anonymous ones on the auth page.
func (r *Router) rootHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.Container.Session.Current() != nil {
			c.Redirect(http.StatusFound, "/dashboard")
			return
		}
		c.Redirect(http.StatusFound, "/auth")
	}
}

// healthCheckHandler returns a simple health check handler
func (r *Router) healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"env":     r.Config.Server.Env,
			"session": r.Container.Session.State().String(),
			"uptime":  time.Since(startTime).Round(time.Second).String(),
			"time":    time.Now().Format(time.RFC3339),
		})
	}
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && containsOrigin(allowedOrigins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func containsOrigin(origins []string, origin string) bool {
	for _, o := range origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
