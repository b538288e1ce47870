// Package realtime pushes inbox events to connected clients over WebSocket.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains user_id -> set of connections and pushes inbox events.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// userID -> map[clientID]*Client
	users      map[uuid.UUID]map[string]*Client
	subs       map[uuid.UUID]func() // cancel Redis subscription per user
	mu         sync.RWMutex
	instanceID string
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
}

// RedisPublisher publishes inbox events to Redis for cross-instance broadcast.
// origin identifies the publishing hub so subscribers can skip their own events.
type RedisPublisher interface {
	PublishInboxEvent(userID uuid.UUID, origin, event string, payload []byte) error
}

// RedisSubscriber subscribes to a user's inbox channel and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeInbox(userID uuid.UUID, handler func(origin, event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. The Redis bridge may be nil for
// single-instance deployments.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:      make(map[uuid.UUID]map[string]*Client),
		subs:       make(map[uuid.UUID]func()),
		instanceID: uuid.NewString(),
		logger:     logger,
		redis:      redisPub,
		redisSub:   redisSub,
	}
}

// Register adds a client. Starts the Redis subscription for this user when the
// first of their clients connects.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeInbox(c.UserID, func(origin, event string, payload []byte) {
				// Events this hub published come back on the channel too;
				// it already delivered them locally.
				if origin == h.instanceID {
					return
				}
				h.broadcastLocal(c.UserID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.UserID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a client. Cancels the Redis subscription when the user's
// last client disconnects.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.users[c.UserID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// MessageDelivered notifies the recipient that a new message reached their inbox.
func (h *Hub) MessageDelivered(recipientID, messageID uuid.UUID) {
	h.notify(recipientID, "message_delivered", messageID)
}

// MessageDeleted notifies the recipient that an inbox message is gone.
func (h *Hub) MessageDeleted(recipientID, messageID uuid.UUID) {
	h.notify(recipientID, "message_deleted", messageID)
}

func (h *Hub) notify(userID uuid.UUID, event string, messageID uuid.UUID) {
	payload := map[string]string{"message_id": messageID.String()}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.broadcastLocal(userID, event, json.RawMessage(data))
	if h.redis != nil {
		_ = h.redis.PublishInboxEvent(userID, h.instanceID, event, data)
	}
}

// broadcastLocal sends an event to all of the user's local connections. The
// client set is copied under the lock so Register/Unregister cannot mutate the
// map mid-iteration.
func (h *Hub) broadcastLocal(userID uuid.UUID, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// ConnectionCount returns the number of connections for a user.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
