package notifications

import (
	"context"
	"errors"
	"sync"

	"bilimshare/internal/middleware"
	"bilimshare/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per signed-in user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// Errors returned by Register.
var (
	ErrServerFull  = errors.New("server connection limit reached")
	ErrUserLimit   = errors.New("user connection limit reached")
	ErrHubShutdown = errors.New("hub is shutting down")
)

// Hub tracks the open feed connections, grouped by user ID. Anonymous
// viewers share the empty user ID and only count against the global limit.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*Client]struct{})}
}

// Register adds a connection for userID. It fails when a limit is reached.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubShutdown
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if userID != "" && len(m) >= maxConnsPerUser {
		return nil, ErrUserLimit
	}

	client := NewClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnections.Inc()
	return client, nil
}

// UnregisterClient removes client and closes its send buffer. It is safe to
// call more than once.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
	h.totalConns--
	observability.WebSocketConnections.Dec()
	close(client.Send)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// BroadcastAll sends message to every connected websocket client.
func (h *Hub) BroadcastAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(message)
		}
	}
}

// Shutdown closes every send buffer; each WritePump then sends a going-away
// frame and closes its connection. New registrations are refused.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, userConns := range h.conns {
		for client := range userConns {
			close(client.Send)
			observability.WebSocketConnections.Dec()
		}
	}
	middleware.Logger.Info("Feed hub shut down", "connections", h.totalConns)
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
