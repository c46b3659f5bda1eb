package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/types"
)

// Hub maintains the set of active clients and broadcasts events to them.
// Client channels are only closed from the Run goroutine.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until Stop is called or feed is closed
func (h *Hub) Run(feed <-chan *types.CollectedEvent) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.Int("total_clients", h.ClientCount()))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client unregistered", zap.Int("total_clients", h.ClientCount()))

		case event, ok := <-feed:
			if !ok {
				h.logger.Info("event feed closed")
				return
			}
			h.broadcast(event)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()
	}
}

// broadcast sends an event to every client. Clients that cannot keep up are disconnected.
func (h *Hub) broadcast(event *types.CollectedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	frame, err := json.Marshal(Message{Type: TypeEvent, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.trySend(frame) {
			slow = append(slow, client)
		}
	}
	sent := len(h.clients) - len(slow)
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("client buffer full, closing connection")
		h.remove(client)
	}

	h.logger.Debug("event broadcasted",
		zap.Uint64("event", event.ID),
		zap.Int("recipients", sent))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.closeSend()
	}
	h.clients = make(map[*Client]struct{})
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop stops the hub and closes all client connections
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
	h.logger.Info("hub stopped")
}
