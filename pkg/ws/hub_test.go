package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForMembers(t *testing.T, hub *Hub, channel string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(hub.ConnectionsInChannel(channel)) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastReachesChannelMembersOnly(t *testing.T) {
	hub := NewHub(HubOptions{
		OnConnect: func(r *http.Request, h *Hub, conn *Connection) error {
			h.JoinChannel(r.URL.Query().Get("channel"), conn)
			return nil
		},
	})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	north := dial(t, srv, "channel=north")
	south := dial(t, srv, "channel=south")
	waitForMembers(t, hub, "north", 1)
	waitForMembers(t, hub, "south", 1)

	require.Equal(t, 1, hub.Broadcast("north", []byte(`{"hello":"north"}`)))

	_ = north.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := north.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"hello":"north"}`, string(msg))

	_ = south.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = south.ReadMessage()
	require.Error(t, err)
}

func TestHub_LeavesChannelsOnDisconnect(t *testing.T) {
	disconnected := make(chan struct{})
	hub := NewHub(HubOptions{
		OnConnect: func(_ *http.Request, h *Hub, conn *Connection) error {
			h.JoinChannel("all", conn)
			return nil
		},
		OnDisconnect: func(*Connection) { close(disconnected) },
	})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForMembers(t, hub, "all", 1)
	require.NoError(t, conn.Close())

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	require.Empty(t, hub.ConnectionsInChannel("all"))
}

func TestHub_RejectedConnectionIsClosed(t *testing.T) {
	hub := NewHub(HubOptions{
		OnConnect: func(*http.Request, *Hub, *Connection) error { return errors.New("no actor") },
	})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestConnection_SendAfterCloseFails(t *testing.T) {
	c := &Connection{send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, c.SendMessage([]byte("a")))
	require.ErrorIs(t, c.SendMessage([]byte("b")), errSlowConsumer)
	require.NoError(t, c.Close())
	require.Error(t, c.SendMessage([]byte("c")))
}

func TestAllowOrigins(t *testing.T) {
	check := AllowOrigins("https://uberfix.shop")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, check(req))

	req.Header.Set("Origin", "https://uberfix.shop")
	require.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	require.False(t, check(req))
	require.True(t, AllowOrigins("*")(req))
}
