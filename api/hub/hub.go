package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"appcore/api/logger"
	"appcore/api/model"
)

var log = logger.NewLogger("appcore.hub")

// Message is what subscribers receive for every application event.
type Message struct {
	WorkspaceID string                  `json:"workspaceId"`
	Event       *model.ApplicationEvent `json:"event"`
}

type envelope struct {
	workspace string
	appID     string
	data      []byte
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	workspace string
	appID     string // empty subscribes to every application in the workspace
}

func (c *client) wants(e envelope) bool {
	if c.workspace != e.workspace {
		return false
	}
	return c.appID == "" || c.appID == e.appID
}

// ScopeFunc extracts the workspace a connecting client may watch.
type ScopeFunc func(r *http.Request) string

type Hub struct {
	mu         sync.Mutex
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	upgrader   websocket.Upgrader
	scope      ScopeFunc
}

func New(allowedOrigins []string, scope ScopeFunc) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	if scope == nil {
		scope = func(r *http.Request) string { return r.URL.Query().Get("workspace") }
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		scope:      scope,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients
				}
				if allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

// Run dispatches until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.drop(c)
		case e := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(e) {
					continue
				}
				select {
				case c.send <- e.data:
				default:
					log.Warnf("dropping slow subscriber for workspace %s", c.workspace)
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues ev for subscribers of workspaceID. It never blocks the
// caller; events are dropped when the broadcast buffer is full.
func (h *Hub) Publish(_ context.Context, workspaceID string, ev *model.ApplicationEvent) error {
	data, err := json.Marshal(Message{WorkspaceID: workspaceID, Event: ev})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{workspace: workspaceID, appID: ev.ApplicationID, data: data}:
	default:
		log.Warnf("broadcast buffer full, dropping %s for %s", ev.Type, ev.ApplicationID)
	}
	return nil
}

func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	ws := h.scope(r)
	if ws == "" {
		http.Error(w, "workspace is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("ws upgrade: %v", err)
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, 64),
		workspace: ws,
		appID:     r.URL.Query().Get("app"),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
