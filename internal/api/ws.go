package api

import (
	"encoding/json"
	"net/http"
	"time"

	"devfusion/app/internal/chat"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10

	// A slow browser gets dropped rather than stalling the reducer.
	wsSendBuffer = 64
)

// WSBridge streams transcript updates for one project to a browser over a
// websocket, and accepts viewport and pagination commands back.
type WSBridge struct {
	registry *chat.Registry
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewWSBridge(registry *chat.Registry, allowedOrigins []string, logger *logger.Logger) *WSBridge {
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	return &WSBridge{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == origin {
						return true
					}
				}
				return false
			},
		},
		logger: logger,
	}
}

// frame is one update pushed to the browser.
type frame struct {
	Event     string         `json:"event"`
	Message   *chat.Message  `json:"message,omitempty"`
	Messages  []chat.Message `json:"messages,omitempty"`
	Exhausted bool           `json:"exhausted,omitempty"`
}

// command is one message received from the browser.
type command struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	ScrollTop     int    `json:"scroll_top,omitempty"`
	ContentHeight int    `json:"content_height,omitempty"`
	ClientHeight  int    `json:"client_height,omitempty"`
}

func eventName(kind chat.UpdateKind) string {
	switch kind {
	case chat.TranscriptReplaced:
		return "transcript_replaced"
	case chat.HistoryPrepended:
		return "history_prepended"
	case chat.MessageAppended:
		return "message_appended"
	case chat.MessagePatched:
		return "message_patched"
	case chat.ScrolledToBottom:
		return "scrolled_to_bottom"
	default:
		return "unknown"
	}
}

// Serve upgrades the connection and bridges it to the project's engine.
func (b *WSBridge) Serve(c *gin.Context) {
	projectID := c.Query("project")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project query parameter is required"})
		return
	}
	identity := middleware.CurrentIdentity(c)
	log := b.logger.WithProject(projectID).WithUserID(identity.ID)

	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.LogError(err, "websocket upgrade failed")
		return
	}

	engine, err := b.registry.Acquire(c.Request.Context(), projectID, chat.Author{
		ID:           identity.ID,
		Username:     identity.Username,
		AvatarURL:    identity.AvatarURL,
		DisplayColor: identity.DisplayColor,
	})
	if err != nil {
		log.LogError(err, "transcript load failed")
		conn.Close()
		return
	}

	send := make(chan frame, wsSendBuffer)
	done := make(chan struct{})

	// The callback runs on the engine's reducer goroutine, so it only
	// repackages the update; the transcript for replace and prepend
	// events arrives on the update itself.
	unsubscribe := engine.Subscribe(func(u chat.Update) {
		f := frame{
			Event:     eventName(u.Kind),
			Message:   u.Message,
			Messages:  u.Messages,
			Exhausted: u.Exhausted,
		}
		select {
		case send <- f:
		default:
			log.Warn("dropping update for slow websocket client")
		}
	})

	cleanup := func() {
		unsubscribe()
		b.registry.Release(projectID)
		conn.Close()
	}

	// Initial state so the browser renders without a second round trip.
	send <- frame{Event: "transcript_replaced", Messages: engine.Snapshot(), Exhausted: engine.Exhausted()}

	go b.writeLoop(conn, send, done, log)
	b.readLoop(c, conn, engine, log)

	close(done)
	cleanup()
}

func (b *WSBridge) writeLoop(conn *websocket.Conn, send chan frame, done chan struct{}, log *logger.Logger) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case f := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (b *WSBridge) readLoop(c *gin.Context, conn *websocket.Conn, engine *chat.Engine, log *logger.Logger) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket closed", "error", err.Error())
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Warn("malformed websocket command", "error", err.Error())
			continue
		}

		switch cmd.Type {
		case "scroll":
			engine.ObserveScroll(cmd.ScrollTop, cmd.ContentHeight, cmd.ClientHeight)
		case "load_older":
			if err := engine.LoadOlder(c.Request.Context()); err != nil {
				log.LogError(err, "history page fetch failed")
			}
		case "send":
			if err := engine.Send(c.Request.Context(), cmd.Text, nil); err != nil {
				log.LogError(err, "message send failed")
			}
		default:
			log.Warn("unknown websocket command", "type", cmd.Type)
		}
	}
}
