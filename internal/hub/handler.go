package hub

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket subscriber connections.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a WebSocket handler for the given hub.
func NewHandler(h *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    h,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// ServeHTTP upgrades the connection and runs its read/write pumps. The
// initial subscription set comes from the "channels" query parameter
// (comma-separated); clients can adjust it later with subscribe and
// unsubscribe frames.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	channels := parseChannels(r.URL.Query().Get("channels"))
	c := NewConnection(conn, channels, h.hub, h.logger)

	h.logger.Debug("subscriber connected",
		zap.String("connection_id", c.ID),
		zap.String("remote_addr", r.RemoteAddr))

	h.hub.Register(c)

	go c.WritePump()
	c.ReadPump(r.Context())
}

func parseChannels(raw string) []Channel {
	if raw == "" {
		return nil
	}
	var out []Channel
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		switch Channel(part) {
		case ChannelLogs, ChannelAnalytics, ChannelHealth, ChannelAgentStatus, ChannelPatterns:
			out = append(out, Channel(part))
		}
	}
	return out
}
