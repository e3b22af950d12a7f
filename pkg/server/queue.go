package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const queueShards = 32

// frame is one outbound message as the application handed it to us.
type frame struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

func textFrame(s string) frame   { return frame{kind: websocket.TextMessage, data: []byte(s)} }
func binaryFrame(b []byte) frame { return frame{kind: websocket.BinaryMessage, data: b} }

// outboundQueue is an unbounded FIFO with many producers and one consumer, the
// drain loop of the owning connection.
type outboundQueue struct {
	mu      sync.Mutex
	pending []frame
	closed  bool
	wake    chan struct{} // capacity 1, signalled on every push
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{wake: make(chan struct{}, 1)}
}

func (q *outboundQueue) push(f frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// take removes and returns everything queued so far, oldest first.
func (q *outboundQueue) take() []frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// close marks the queue dead and returns how many frames were dropped.
func (q *outboundQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	n := len(q.pending)
	q.pending = nil
	return n
}

type queueShard struct {
	mu     sync.Mutex
	queues map[uuid.UUID]*outboundQueue
}

// queueManager maps connection identities to their outbound queues. The map is
// split into shards so unrelated connections never contend on one lock, and no
// shard lock is held while a queue is pushed to or drained.
type queueManager struct {
	shards [queueShards]queueShard
}

func newQueueManager() *queueManager {
	m := &queueManager{}
	for i := range m.shards {
		m.shards[i].queues = make(map[uuid.UUID]*outboundQueue)
	}
	return m
}

func (m *queueManager) shard(id uuid.UUID) *queueShard {
	return &m.shards[int(id[15])%queueShards]
}

// open returns the queue for id, creating it if needed.
func (m *queueManager) open(id uuid.UUID) *outboundQueue {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	if !ok {
		q = newOutboundQueue()
		s.queues[id] = q
	}
	return q
}

func (m *queueManager) lookup(id uuid.UUID) (*outboundQueue, bool) {
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	return q, ok
}

// enqueue appends f to the queue of id. It reports false when id has no live
// queue; the frame is then dropped.
func (m *queueManager) enqueue(id uuid.UUID, f frame) bool {
	q, ok := m.lookup(id)
	if !ok {
		return false
	}
	return q.push(f)
}

// discard removes the queue of id and returns the number of undelivered frames.
func (m *queueManager) discard(id uuid.UUID) int {
	s := m.shard(id)
	s.mu.Lock()
	q, ok := s.queues[id]
	delete(s.queues, id)
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return q.close()
}

func (m *queueManager) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.queues)
		s.mu.Unlock()
	}
	return n
}
