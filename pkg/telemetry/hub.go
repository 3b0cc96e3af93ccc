package telemetry

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const writeWait = time.Second

// Hub re-broadcasts values as JSON to every connected websocket client.
type Hub struct {
	upgrader websocket.Upgrader
	origins  []string
	log      *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	// writes serializes Broadcast; a connection allows one writer.
	writes sync.Mutex
}

// NewHub creates an empty hub. log may be nil.
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     log,
		clients: make(map[*websocket.Conn]struct{}),
	}
	h.upgrader.CheckOrigin = h.checkOrigin
	return h
}

// AllowOrigins accepts browser clients from the given origins, such as
// "http://localhost:3000", besides pages served by the hub's own host. "*"
// accepts any origin. Call it before serving.
func (h *Hub) AllowOrigins(origins ...string) {
	h.origins = origins
}

// checkOrigin accepts non-browser clients, which send no Origin, same-host
// pages and the allowed origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return lo.Contains(h.origins, "*") || lo.Contains(h.origins, strings.TrimSuffix(origin, "/"))
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	h.mu.Lock()
	h.clients[ws] = struct{}{}
	h.mu.Unlock()
	h.log.Infow("dashboard client connected", "remote", r.RemoteAddr)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(ws)
}

// Broadcast sends v to every client. Clients that fail are dropped.
func (h *Hub) Broadcast(v any) {
	h.writes.Lock()
	defer h.writes.Unlock()

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(v); err != nil {
			h.log.Debugw("dropping dashboard client", "error", err)
			h.drop(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	for c := range h.clients {
		err = multierr.Append(err, c.Close())
		delete(h.clients, c)
	}
	return err
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}
