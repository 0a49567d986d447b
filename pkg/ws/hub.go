package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

type HubOptions struct {
	Logger      *logrus.Entry
	CheckOrigin func(r *http.Request) bool
	// OnConnect runs after the upgrade; an error closes the connection.
	OnConnect    func(r *http.Request, hub *Hub, conn *Connection) error
	OnDisconnect func(conn *Connection)
}

// Hub fans messages out to websocket connections grouped by channel.
type Hub struct {
	upgrader websocket.Upgrader
	opts     HubOptions

	mu       sync.RWMutex
	channels map[string]map[*Connection]struct{}
}

func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts:     opts,
		channels: map[string]map[*Connection]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.WithError(err).Debug("ws: upgrade failed")
		return
	}
	conn := &Connection{ws: raw, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	if h.opts.OnConnect != nil {
		if err := h.opts.OnConnect(r, h, conn); err != nil {
			h.opts.Logger.WithError(err).Debug("ws: connection rejected")
			_ = raw.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
				time.Now().Add(writeWait))
			_ = raw.Close()
			return
		}
	}
	go conn.writePump()
	conn.readPump()

	h.leaveAll(conn)
	if h.opts.OnDisconnect != nil {
		h.opts.OnDisconnect(conn)
	}
}

func (h *Hub) JoinChannel(channel string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		members = map[*Connection]struct{}{}
		h.channels[channel] = members
	}
	members[conn] = struct{}{}
}

func (h *Hub) leaveAll(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, members := range h.channels {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.channels, name)
		}
	}
}

func (h *Hub) ConnectionsInChannel(channel string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		out = append(out, c)
	}
	return out
}

// Broadcast queues msg on every connection in channel. Slow consumers whose
// buffer is full are disconnected.
func (h *Hub) Broadcast(channel string, msg []byte) int {
	sent := 0
	for _, c := range h.ConnectionsInChannel(channel) {
		if err := c.SendMessage(msg); err != nil {
			h.opts.Logger.WithField("channel", channel).Warn("ws: dropping slow connection")
			_ = c.Close()
			continue
		}
		sent++
	}
	return sent
}

type Connection struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

var errSlowConsumer = errors.New("ws: send buffer full")

func (c *Connection) SendMessage(msg []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Connection) readPump() {
	defer func() {
		_ = c.Close()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients do not send anything meaningful; reading keeps control
		// frames flowing and notices the close.
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// AllowOrigins accepts browsers from the listed origins; "*" accepts any.
// Requests without an Origin header are accepted.
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}
