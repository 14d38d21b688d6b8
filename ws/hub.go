package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Rod082213/teams-clone/models"
)

// Hub owns every live connection, the user -> connections index and the
// chat -> connections room index. All three maps are guarded by mu.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	byUser  map[string]map[*Conn]struct{}
	rooms   map[string]map[*Conn]struct{}
	stopped bool

	sendBuffer int
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pumps  sync.WaitGroup
}

func NewHub(sendBuffer int, log zerolog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:      make(map[*Conn]struct{}),
		byUser:     make(map[string]map[*Conn]struct{}),
		rooms:      make(map[string]map[*Conn]struct{}),
		sendBuffer: sendBuffer,
		log:        log.With().Str("component", "hub").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run blocks until ctx is done, then disconnects every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Close stops accepting connections and deregisters all current ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.stopped = true
	all := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		all = append(all, c)
	}
	h.mu.Unlock()

	h.cancel()
	for _, c := range all {
		h.Deregister(c)
	}
	h.log.Info().Int("connections", len(all)).Msg("hub closed")
}

// Wait blocks until every connection pump has exited.
func (h *Hub) Wait() {
	h.pumps.Wait()
}

// Register adds c to the registry. It returns false once the hub is closed.
func (h *Hub) Register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return false
	}
	h.conns[c] = struct{}{}
	h.log.Debug().Str("conn_id", c.id).Int("total", len(h.conns)).Msg("connection registered")
	return true
}

// Authenticate binds c to userID. Rebinding moves c between users.
func (h *Hub) Authenticate(c *Conn, userID, username string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		h.log.Warn().Str("conn_id", c.id).Msg("authenticate on unregistered connection")
		return false
	}
	if c.userID != "" && c.userID != userID {
		removeFrom(h.byUser, c.userID, c)
	}
	c.userID = userID
	c.username = username
	addTo(h.byUser, userID, c)
	h.log.Debug().Str("conn_id", c.id).Str("user_id", userID).Int("user_conns", len(h.byUser[userID])).Msg("connection authenticated")
	return true
}

// Deregister removes c from every room and index and closes its outbound
// queue. It reports false when c was not registered.
func (h *Hub) Deregister(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	for chatID := range c.rooms {
		removeFrom(h.rooms, chatID, c)
	}
	c.rooms = nil
	if c.userID != "" {
		removeFrom(h.byUser, c.userID, c)
	}
	delete(h.conns, c)
	close(c.send)

	h.log.Debug().Str("conn_id", c.id).Str("user_id", c.userID).Int("total", len(h.conns)).Msg("connection deregistered")
	return true
}

// Join subscribes c to chatID. Joining twice is a no-op.
func (h *Hub) Join(c *Conn, chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		h.log.Warn().Str("conn_id", c.id).Str("chat_id", chatID).Msg("join on unregistered connection")
		return false
	}
	if c.rooms == nil {
		c.rooms = make(map[string]struct{})
	}
	c.rooms[chatID] = struct{}{}
	addTo(h.rooms, chatID, c)
	return true
}

// Leave unsubscribes c from chatID. It reports false when c was not joined
// to chatID or is no longer registered.
func (h *Hub) Leave(c *Conn, chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		h.log.Warn().Str("conn_id", c.id).Str("chat_id", chatID).Msg("leave on unregistered connection")
		return false
	}
	if _, ok := c.rooms[chatID]; !ok {
		return false
	}
	delete(c.rooms, chatID)
	removeFrom(h.rooms, chatID, c)
	return true
}

// CloseRoom unsubscribes every connection from chatID, e.g. once the chat is
// deleted, and returns how many were joined.
func (h *Hub) CloseRoom(chatID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.rooms[chatID]
	for c := range set {
		delete(c.rooms, chatID)
	}
	delete(h.rooms, chatID)
	if len(set) > 0 {
		h.log.Debug().Str("chat_id", chatID).Int("conns", len(set)).Msg("room closed")
	}
	return len(set)
}

// Broadcast queues event for every connection joined to chatID at the time of
// the call and returns how many accepted it. A connection whose queue is full
// is dropped.
func (h *Hub) Broadcast(chatID, event string, payload any) int {
	frame, err := models.NewEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return 0
	}

	var slow []*Conn
	delivered := 0

	h.mu.RLock()
	for c := range h.rooms[chatID] {
		select {
		case c.send <- frame:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("conn_id", c.id).Str("chat_id", chatID).Msg("send queue full, dropping connection")
		h.Deregister(c)
	}
	return delivered
}

// SendTo queues event for c alone.
func (h *Hub) SendTo(c *Conn, event string, payload any) bool {
	frame, err := models.NewEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return false
	}

	h.mu.RLock()
	_, registered := h.conns[c]
	ok := false
	if registered {
		select {
		case c.send <- frame:
			ok = true
		default:
		}
	}
	h.mu.RUnlock()

	if registered && !ok {
		h.log.Warn().Str("conn_id", c.id).Msg("send queue full, dropping connection")
		h.Deregister(c)
	}
	return ok
}

// UserID returns the user c is authenticated as, or "".
func (h *Hub) UserID(c *Conn) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.userID
}

// RoomSize returns the number of connections joined to chatID.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// UserConnCount returns how many connections userID currently holds.
func (h *Hub) UserConnCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func addTo(index map[string]map[*Conn]struct{}, key string, c *Conn) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Conn]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeFrom(index map[string]map[*Conn]struct{}, key string, c *Conn) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}
