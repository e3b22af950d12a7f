package server

import (
	"sync"

	"github.com/google/uuid"
)

// Hub keeps track of all live connections and owns their outbound queues.
// Sends only touch the sharded queue map; the connection map is locked on
// register, unregister and listing.
type Hub struct {
	mu          sync.RWMutex              // Mutex to protect direct access to the connections map.
	connections map[uuid.UUID]*Connection // Registered connections
	closed      bool

	queues *queueManager
	pumps  sync.WaitGroup // one per registered connection, released after its closed event
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]*Connection),
		queues:      newQueueManager(),
	}
}

// register creates the outbound queue for conn before any event about it can
// fire, so the first send after the opened event always lands in a queue.
func (h *Hub) register(conn *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrServerClosed
	}
	conn.queue = h.queues.open(conn.ID)
	h.connections[conn.ID] = conn
	h.pumps.Add(1)
	return nil
}

// unregister removes conn and discards its queue, returning the number of
// messages that were never written.
func (h *Hub) unregister(conn *Connection) int {
	h.mu.Lock()
	delete(h.connections, conn.ID)
	h.mu.Unlock()
	return h.queues.discard(conn.ID)
}

// release marks one registered connection as fully finished.
func (h *Hub) release() {
	h.pumps.Done()
}

// Get returns the live connection with the given identity.
func (h *Hub) Get(id uuid.UUID) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[id]
	return conn, ok
}

// IDs returns the identities of all live connections.
func (h *Hub) IDs() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(h.connections))
	for id := range h.connections {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) send(id uuid.UUID, f frame) bool {
	return h.queues.enqueue(id, f)
}

// Shutdown stops accepting registrations and returns the connections that are
// still live so the caller can close them.
func (h *Hub) Shutdown() []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	return conns
}

// wait blocks until every registered connection has fired its closed event.
func (h *Hub) wait() {
	h.pumps.Wait()
}
