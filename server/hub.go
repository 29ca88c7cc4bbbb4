package server

import (
	"log/slog"
	"sync"

	"github.com/edisonsu0623/krunker-game-backend/domain/room"
	"github.com/edisonsu0623/krunker-game-backend/protocol"
	"github.com/edisonsu0623/krunker-game-backend/telemetry"
)

// DefaultSendBuffer is the per-client outbound queue length.
const DefaultSendBuffer = 64

// Client is the hub's side of one connection: a bounded queue of encoded
// frames drained by the transport's writer.
type Client struct {
	ID   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Frames yields encoded frames in publish order.
func (c *Client) Frames() <-chan []byte { return c.send }

// Done is closed once the client is unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans room broadcasts out to connected clients and room spectators.
// It implements room.Publisher; Publish never blocks, a client whose queue
// is full misses the frame.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	spectators map[string]map[int]chan room.Broadcast
	nextSub    int

	sendBuffer int
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

var _ room.Publisher = (*Hub)(nil)

func NewHub(logger *slog.Logger, metrics *telemetry.Metrics, sendBuffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		clients:    make(map[string]*Client),
		spectators: make(map[string]map[int]chan room.Broadcast),
		sendBuffer: sendBuffer,
		logger:     logger.With(slog.String("component", "hub")),
		metrics:    metrics,
	}
}

// Register adds a client queue for id, replacing any previous one.
func (h *Hub) Register(id string) *Client {
	c := &Client{
		ID:   id,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	prev := h.clients[id]
	h.clients[id] = c
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return c
}

// Unregister removes the client. Safe to call repeatedly.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Hub) Publish(b room.Broadcast) {
	frame, err := protocol.Encode(b.Event, b.Payload)
	if err != nil {
		h.logger.Error("encode broadcast",
			slog.String("event", b.Event),
			slog.String("room_id", b.RoomID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range b.Recipients {
		if c, ok := h.clients[id]; ok {
			h.enqueue(c, frame)
		}
	}
	for _, ch := range h.spectators[b.RoomID] {
		select {
		case ch <- b:
		default:
			h.metrics.BroadcastDropped()
		}
	}
}

// SendTo delivers one event to a single client.
func (h *Hub) SendTo(id, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode reply",
			slog.String("event", event),
			slog.String("player_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if ok {
		h.enqueue(c, frame)
	}
}

func (h *Hub) enqueue(c *Client, frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		h.metrics.BroadcastDropped()
		h.logger.Debug("send queue full, frame dropped", slog.String("player_id", c.ID))
	}
}

// Subscribe streams every broadcast for roomID until cancel is called.
func (h *Hub) Subscribe(roomID string) (<-chan room.Broadcast, func()) {
	ch := make(chan room.Broadcast, h.sendBuffer)

	h.mu.Lock()
	if h.spectators[roomID] == nil {
		h.spectators[roomID] = make(map[int]chan room.Broadcast)
	}
	h.nextSub++
	id := h.nextSub
	h.spectators[roomID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.spectators[roomID], id)
			if len(h.spectators[roomID]) == 0 {
				delete(h.spectators, roomID)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
