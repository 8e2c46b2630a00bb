package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/timeline-party/internal/notify"
)

// Hub owns the websocket connections and keeps them registered as
// notification channels
type Hub struct {
	registry *notify.Registry
	upgrader websocket.Upgrader

	// All connected clients
	clients map[*Client]struct{}

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. An empty origin list accepts every origin.
func NewHub(registry *notify.Registry, allowedOrigins []string, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			h.mu.Lock()
			for client := range h.clients {
				h.registry.Unregister(client.key, client)
				client.close()
			}
			clear(h.clients)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			client.logger.Debug("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.registry.Unregister(client.key, client)
				client.close()
			}
			h.mu.Unlock()
			client.logger.Debug("client unregistered")
		}
	}
}

// Stop disconnects every client and stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// Register makes the client a notification channel for its key and hands
// it to the hub. The channel is reachable once Register returns.
func (h *Hub) Register(client *Client) {
	h.registry.Register(client.key, client)
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		h.registry.Unregister(client.key, client)
		client.close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.registry.Unregister(client.key, client)
	}
}

// Connections returns the number of connected clients
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and registers the connection for the key
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, key notify.Key) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn, key, h.logger)
	h.Register(client)

	go client.writePump()
	go client.readPump()
}
