package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloads(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f.data)
	}
	return out
}

func TestQueueManager_UnknownIdentityIsDropped(t *testing.T) {
	m := newQueueManager()
	other := m.open(uuid.New())
	other.take()

	assert.False(t, m.enqueue(uuid.New(), textFrame("lost")))
	assert.Empty(t, other.take())
	assert.Equal(t, 1, m.len())
}

func TestQueueManager_FIFO(t *testing.T) {
	m := newQueueManager()
	id := uuid.New()
	q := m.open(id)
	assert.Same(t, q, m.open(id))

	for i := 0; i < 10; i++ {
		require.True(t, m.enqueue(id, textFrame(fmt.Sprintf("m%d", i))))
	}

	got := payloads(q.take())
	require.Len(t, got, 10)
	for i, p := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), p)
	}
	assert.Empty(t, q.take())
}

func TestQueueManager_FrameKinds(t *testing.T) {
	m := newQueueManager()
	id := uuid.New()
	q := m.open(id)

	m.enqueue(id, textFrame("t"))
	m.enqueue(id, binaryFrame([]byte{1, 2}))

	frames := q.take()
	require.Len(t, frames, 2)
	assert.Equal(t, websocket.TextMessage, frames[0].kind)
	assert.Equal(t, websocket.BinaryMessage, frames[1].kind)
}

func TestOutboundQueue_WakeCoalesces(t *testing.T) {
	q := newOutboundQueue()

	select {
	case <-q.wake:
		t.Fatal("empty queue must not be signalled")
	default:
	}

	q.push(textFrame("a"))
	q.push(textFrame("b"))
	q.push(textFrame("c"))

	select {
	case <-q.wake:
	default:
		t.Fatal("push must signal the consumer")
	}
	select {
	case <-q.wake:
		t.Fatal("signals must coalesce into one wake-up")
	default:
	}
	assert.Equal(t, []string{"a", "b", "c"}, payloads(q.take()))
}

func TestQueueManager_Discard(t *testing.T) {
	m := newQueueManager()
	id := uuid.New()
	q := m.open(id)
	m.enqueue(id, textFrame("a"))
	m.enqueue(id, textFrame("b"))

	assert.Equal(t, 2, m.discard(id))
	assert.Equal(t, 0, m.discard(id))
	assert.Equal(t, 0, m.len())

	assert.False(t, m.enqueue(id, textFrame("late")))
	assert.False(t, q.push(textFrame("stale pointer")))
	assert.Empty(t, q.take())
}

func TestQueueManager_ConcurrentProducers(t *testing.T) {
	m := newQueueManager()
	ids := make([]uuid.UUID, 8)
	queues := make([]*outboundQueue, len(ids))
	for i := range ids {
		ids[i] = uuid.New()
		queues[i] = m.open(ids[i])
	}

	const perProducer = 200
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		for i := range ids {
			wg.Add(1)
			go func(p, i int) {
				defer wg.Done()
				for n := 0; n < perProducer; n++ {
					m.enqueue(ids[i], textFrame(fmt.Sprintf("%d:%d", p, n)))
				}
			}(p, i)
		}
	}
	wg.Wait()

	for _, q := range queues {
		next := map[int]int{}
		frames := q.take()
		require.Len(t, frames, 4*perProducer)
		for _, f := range frames {
			var p, n int
			_, err := fmt.Sscanf(string(f.data), "%d:%d", &p, &n)
			require.NoError(t, err)
			require.Equal(t, next[p], n)
			next[p]++
		}
	}
}

// For any sequence of payloads, draining the queue in arbitrary batch sizes
// yields the payloads in the order they were enqueued.
func TestProperty_QueuePreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("take returns frames in enqueue order", prop.ForAll(
		func(items []string, batch int) bool {
			m := newQueueManager()
			id := uuid.New()
			q := m.open(id)

			var got []string
			for i, item := range items {
				if !m.enqueue(id, textFrame(item)) {
					return false
				}
				if (i+1)%batch == 0 {
					got = append(got, payloads(q.take())...)
				}
			}
			got = append(got, payloads(q.take())...)

			if len(got) != len(items) {
				return false
			}
			for i := range items {
				if got[i] != items[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 16),
	))

	properties.Property("enqueue never reaches another connection", prop.ForAll(
		func(n int) bool {
			m := newQueueManager()
			a, b := uuid.New(), uuid.New()
			qa, qb := m.open(a), m.open(b)
			for i := 0; i < n; i++ {
				m.enqueue(a, textFrame("x"))
			}
			m.enqueue(uuid.New(), textFrame("stray"))
			return len(qa.take()) == n && len(qb.take()) == 0
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
