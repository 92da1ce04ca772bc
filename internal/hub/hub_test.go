package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, h *Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channels := []Channel{Channel(r.URL.Query().Get("channel"))}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := NewConnection(conn, channels, h, logger.Default())
		h.Register(c)
		go c.WritePump()
		go c.ReadPump(context.Background())
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_BroadcastOnlyReachesSubscribedChannel(t *testing.T) {
	h := New(nil, logger.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv, url := newTestServer(t, h)
	defer srv.Close()

	logsConn := dial(t, url+"?channel=logs")
	defer logsConn.Close()
	analyticsConn := dial(t, url+"?channel=analytics")
	defer analyticsConn.Close()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, h.ConnectionCount())

	h.Broadcast(ChannelLogs, MsgLogEntry, map[string]string{"message": "hello"})

	logsConn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := logsConn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"log-entry"`)

	analyticsConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = analyticsConn.ReadMessage()
	assert.Error(t, err, "analytics subscriber should not receive a logs broadcast")
}

func TestHub_UnregisterRemovesFromChannelIndex(t *testing.T) {
	h := New(nil, logger.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv, url := newTestServer(t, h)
	defer srv.Close()

	conn := dial(t, url+"?channel=health")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.ChannelSubscriberCount(ChannelHealth))

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.ChannelSubscriberCount(ChannelHealth))
}

func TestConnection_PongAgeTracksHeartbeat(t *testing.T) {
	c := &Connection{channels: make(map[Channel]bool), lastPong: time.Now().Add(-70 * time.Second)}
	assert.Greater(t, c.pongAge(), PongTimeout)
	c.touchPong()
	assert.Less(t, c.pongAge(), 30*time.Second)
}

func TestConnection_IDFormat(t *testing.T) {
	c := NewConnection(nil, []Channel{ChannelLogs}, nil, logger.Default())
	assert.True(t, strings.HasPrefix(c.ID, "logs_"))
	parts := strings.Split(c.ID, "_")
	require.Len(t, parts, 3)
}
