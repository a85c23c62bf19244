package stream

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hub fans frames out to every connection subscribed to a trip room. With a
// redis client attached it also bridges frames across nodes over pub/sub;
// each published frame carries the origin node id so a node skips its own
// echoes.
type Hub struct {
	redis  *redis.Client
	nodeID string
	rooms  map[string]map[*Client]struct{}
	mu     sync.RWMutex
}

// Client is one websocket connection, bound to a (trip, participant) pair at
// connect time. Send is buffered; a slow consumer drops frames rather than
// blocking the room. Send is never closed — a broadcast racing an unregister
// may still hold a reference to the client — so consumers stop on Done
// instead of channel close.
type Client struct {
	TripID string
	UserID string
	Send   chan []byte

	done chan struct{}
}

// Done is closed when the client has been unregistered from its room.
func (c *Client) Done() <-chan struct{} { return c.done }

type bridgeFrame struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:  redisClient,
		nodeID: uuid.NewString(),
		rooms:  map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(tripID, userID string) *Client {
	client := &Client{
		TripID: tripID,
		UserID: userID,
		Send:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[tripID] == nil {
		h.rooms[tripID] = map[*Client]struct{}{}
	}
	h.rooms[tripID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[client.TripID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, client.TripID)
		}
	}
	close(client.done)
}

// Broadcast delivers payload to every connection in the trip room, local and
// remote.
func (h *Hub) Broadcast(tripID string, payload []byte) {
	h.BroadcastExcept(tripID, nil, payload)
}

// BroadcastExcept delivers payload to the trip room, skipping the sender's
// own connection. Remote nodes deliver to all of their connections; the
// sender is always local.
func (h *Hub) BroadcastExcept(tripID string, sender *Client, payload []byte) {
	h.deliverLocal(tripID, sender, payload)

	if h.redis != nil {
		frame, err := json.Marshal(bridgeFrame{Origin: h.nodeID, Payload: payload})
		if err != nil {
			log.Printf("bridge frame marshal error: %v", err)
			return
		}
		if err := h.redis.Publish(context.Background(), redisChannel(tripID), frame).Err(); err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) deliverLocal(tripID string, skip *Client, payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[tripID]))
	for client := range h.rooms[tripID] {
		if client != skip {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "trip:*:events")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var frame bridgeFrame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			log.Printf("bridge frame decode error: %v", err)
			continue
		}
		if frame.Origin == h.nodeID {
			continue
		}
		h.deliverLocal(tripIDFromChannel(msg.Channel), nil, frame.Payload)
	}
}

func redisChannel(tripID string) string {
	return "trip:" + tripID + ":events"
}

func tripIDFromChannel(ch string) string {
	// trip:{tripID}:events
	const prefix = "trip:"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) || !strings.HasPrefix(ch, prefix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
