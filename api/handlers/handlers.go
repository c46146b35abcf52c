// Package handlers implements the HTTP and websocket handlers for the
// print engine API.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/boothworks/printfleet/notify"
	"github.com/boothworks/printfleet/raft"
	"github.com/boothworks/printfleet/service"
)

// Handler carries the API dependencies. Node may be nil in tests; the
// leader middleware then passes everything through.
type Handler struct {
	Svc      *service.Service
	Node     *raft.Node
	WS       *notify.Broadcaster
	Log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(svc *service.Service, node *raft.Node, ws *notify.Broadcaster, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Svc:  svc,
		Node: node,
		WS:   ws,
		Log:  log.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The booth UI is served from the booth itself; origin
			// checks add nothing on a closed network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// LeaderMiddleware rejects writes on follower booths, pointing the
// client at the leader. Reads are served locally from the replicated
// state.
func (h *Handler) LeaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Node != nil && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			if !h.Node.Leader() {
				c.JSON(http.StatusConflict, gin.H{
					"error":  "not the leader",
					"leader": h.Node.LeaderAddress(),
				})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// Status reports node identity and cluster role.
func (h *Handler) Status(c *gin.Context) {
	if h.Node == nil {
		c.JSON(http.StatusOK, gin.H{"state": "standalone"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_leader":   h.Node.Leader(),
		"leader_addr": h.Node.LeaderAddress(),
		"state":       h.Node.State().String(),
	})
}

// WebSocket upgrades the connection and streams job updates until the
// client goes away.
func (h *Handler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", "err", err)
		return
	}
	h.WS.Register(conn)

	// Reads are discarded; the read loop exists to notice the close.
	go func() {
		defer h.WS.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
