package ws

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/metrics"
	"go.uber.org/zap"
)

const opBufSize = 256

// Hub is the room manager. It maps live connections to conversation rooms
// and to users. All membership state is owned by the Run loop.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[uuid.UUID]map[*Client]struct{}
	users   map[uuid.UUID]map[*Client]struct{}

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[uuid.UUID]map[*Client]struct{}),
		users:   make(map[uuid.UUID]map[*Client]struct{}),
		ops:     make(chan func(), opBufSize),
		done:    make(chan struct{}),
		logger:  logger.Named("hub"),
	}
}

// Run processes membership changes and deliveries until ctx is done or
// Close is called. Every remaining connection is dropped on exit.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		for c := range h.clients {
			h.remove(c)
		}
	}()

	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			h.Close()
			return nil
		case <-h.done:
			return nil
		}
	}
}

// Close stops the hub. Pending operations are discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) do(op func()) {
	select {
	case h.ops <- op:
	case <-h.done:
	}
}

func (h *Hub) Register(c *Client) {
	h.do(func() {
		h.clients[c] = struct{}{}
		metrics.Connections.Inc()
		h.logger.Debug("Client connected", zap.Int("total", len(h.clients)))
	})
}

func (h *Hub) Unregister(c *Client) {
	h.do(func() { h.remove(c) })
}

// remove runs on the loop.
func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.detach(h.rooms, room, c)
	}
	if c.hubUser != uuid.Nil {
		h.detach(h.users, c.hubUser, c)
	}
	close(c.send)
	metrics.Connections.Dec()
	h.logger.Debug("Client disconnected", zap.Int("total", len(h.clients)))
}

func (h *Hub) detach(index map[uuid.UUID]map[*Client]struct{}, key uuid.UUID, c *Client) {
	set := index[key]
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

func attach(index map[uuid.UUID]map[*Client]struct{}, key uuid.UUID, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

// Join subscribes c to a conversation's room.
func (h *Hub) Join(c *Client, conversationID uuid.UUID) {
	h.do(func() {
		if _, ok := h.clients[c]; !ok {
			return
		}
		c.rooms[conversationID] = struct{}{}
		attach(h.rooms, conversationID, c)
	})
}

func (h *Hub) Leave(c *Client, conversationID uuid.UUID) {
	h.do(func() {
		delete(c.rooms, conversationID)
		h.detach(h.rooms, conversationID, c)
	})
}

// AssociateUser binds c to userID's personal channel.
func (h *Hub) AssociateUser(c *Client, userID uuid.UUID) {
	h.do(func() {
		if _, ok := h.clients[c]; !ok {
			return
		}
		if c.hubUser != uuid.Nil {
			h.detach(h.users, c.hubUser, c)
		}
		c.hubUser = userID
		attach(h.users, userID, c)
	})
}

// BroadcastToRoom delivers an event to every connection in the room,
// including the sender's.
func (h *Hub) BroadcastToRoom(conversationID uuid.UUID, event string, payload any) {
	h.broadcast(conversationID, event, payload, nil)
}

func (h *Hub) broadcastExcept(conversationID uuid.UUID, event string, payload any, except *Client) {
	h.broadcast(conversationID, event, payload, except)
}

func (h *Hub) broadcast(conversationID uuid.UUID, event string, payload any, except *Client) {
	data, err := encode(event, "", payload)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.do(func() {
		for c := range h.rooms[conversationID] {
			if c != except {
				h.push(c, data)
			}
		}
	})
}

// BroadcastToUser delivers an event to every connection bound to the user.
func (h *Hub) BroadcastToUser(userID uuid.UUID, event string, payload any) {
	data, err := encode(event, "", payload)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.do(func() {
		for c := range h.users[userID] {
			h.push(c, data)
		}
	})
}

// sendTo delivers pre-encoded data to one connection.
func (h *Hub) sendTo(c *Client, data []byte) {
	h.do(func() {
		if _, ok := h.clients[c]; ok {
			h.push(c, data)
		}
	})
}

// push runs on the loop. A client whose buffer is full is dropped.
func (h *Hub) push(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("Client send buffer full, disconnecting")
		h.remove(c)
	}
}
