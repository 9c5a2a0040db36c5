package ws

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type room struct {
	name    string
	mu      sync.RWMutex
	members map[string]*Client // client id -> client
	queue   chan []byte
	done    chan struct{}
}

// run fans frames out one at a time, so a room's frames reach every member in
// the order they were delivered to the hub.
func (r *room) run(log zerolog.Logger) {
	for {
		select {
		case <-r.done:
			return
		case frame := <-r.queue:
			r.fanout(frame, log)
		}
	}
}

func (r *room) fanout(frame []byte, log zerolog.Logger) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, client := range r.members {
		if !client.Enqueue(frame) {
			// Slow or dead recipient: drop it, its session cleans up on close.
			log.Debug().Str("room", r.name).Str("session", client.ID).Msg("dropping unresponsive client")
			client.Close()
		}
	}
}

// Hub is the room registry: room key -> connected clients. Rooms are created
// on first join and released when the last member leaves. Each room owns a
// goroutine that serializes its fan-out; different rooms fan out concurrently.
type Hub struct {
	mu          sync.Mutex
	rooms       map[string]*room
	memberships map[string]map[string]struct{} // client id -> room names
	queueSize   int
	log         zerolog.Logger
	dropped     atomic.Int64
}

// NewHub creates an empty registry. queueSize bounds each room's pending
// frames.
func NewHub(log zerolog.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
		queueSize:   queueSize,
		log:         log,
	}
}

// Join adds client to the room. Joining twice is a no-op.
func (h *Hub) Join(name string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		r = &room{
			name:    name,
			members: make(map[string]*Client),
			queue:   make(chan []byte, h.queueSize),
			done:    make(chan struct{}),
		}
		h.rooms[name] = r
		go r.run(h.log)
	}

	r.mu.Lock()
	r.members[client.ID] = client
	r.mu.Unlock()

	if h.memberships[client.ID] == nil {
		h.memberships[client.ID] = make(map[string]struct{})
	}
	h.memberships[client.ID][name] = struct{}{}
}

// Leave removes the client from the room. Once Leave returns no frame
// published to the room reaches the client.
func (h *Hub) Leave(name, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(name, clientID)
}

// LeaveAll removes the client from every room it joined.
func (h *Hub) LeaveAll(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.memberships[clientID] {
		h.leaveLocked(name, clientID)
	}
	delete(h.memberships, clientID)
}

func (h *Hub) leaveLocked(name, clientID string) {
	if rooms, ok := h.memberships[clientID]; ok {
		delete(rooms, name)
		if len(rooms) == 0 {
			delete(h.memberships, clientID)
		}
	}

	r, ok := h.rooms[name]
	if !ok {
		return
	}
	// Waits for an in-flight fan-out of this room to finish.
	r.mu.Lock()
	delete(r.members, clientID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		delete(h.rooms, name)
		close(r.done)
	}
}

// Publish encodes the envelope once and delivers it to the room.
func (h *Hub) Publish(name string, env Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	h.Deliver(name, frame)
	return nil
}

// Deliver queues an encoded frame for every current member of the room. It
// never waits on recipients; a room with no members drops the frame.
// Malformed room names and full room queues count as dropped.
func (h *Hub) Deliver(name string, frame []byte) {
	if _, _, ok := ParseRoom(name); !ok {
		h.dropped.Add(1)
		h.log.Warn().Str("room", name).Msg("dropping broadcast for malformed room")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		return
	}
	select {
	case r.queue <- frame:
	default:
		h.dropped.Add(1)
		h.log.Warn().Str("room", name).Msg("room queue full, dropping broadcast")
	}
}

// Dropped counts broadcasts discarded by Deliver since start.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Members returns the number of clients in the room.
func (h *Hub) Members(name string) int {
	h.mu.Lock()
	r, ok := h.rooms[name]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Rooms lists the rooms with at least one member.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo.Keys(h.rooms)
}

// Sessions returns the number of distinct connected clients.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.memberships)
}

// RoomsOf lists the rooms a client is currently in.
func (h *Hub) RoomsOf(clientID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo.Keys(h.memberships[clientID])
}
