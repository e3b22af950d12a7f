package events

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingSink struct {
	mu       sync.Mutex
	opened   int
	closed   int
	messages []string
}

func (s *countingSink) OnOpen(Peer) {
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
}

func (s *countingSink) OnClose(Peer) {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func (s *countingSink) OnMessage(_ Peer, payload []byte) {
	s.mu.Lock()
	s.messages = append(s.messages, string(payload))
	s.mu.Unlock()
}

func TestPublisher_FanOut(t *testing.T) {
	p := NewPublisher(nil)
	a, b := &countingSink{}, &countingSink{}
	p.Subscribe(a)
	p.Subscribe(b)
	assert.Equal(t, 2, p.Len())

	peer := Peer{ID: uuid.New(), RemoteAddr: "127.0.0.1:1"}
	p.OnOpen(peer)
	p.OnMessage(peer, []byte("hi"))
	p.OnClose(peer)

	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, 1, s.opened)
		assert.Equal(t, 1, s.closed)
		assert.Equal(t, []string{"hi"}, s.messages)
	}
}

func TestPublisher_Unsubscribe(t *testing.T) {
	p := NewPublisher(nil)
	a := &countingSink{}
	unsubscribe := p.Subscribe(a)
	p.Subscribe(a)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, p.Len())

	p.OnOpen(Peer{ID: uuid.New()})
	assert.Equal(t, 1, a.opened)

	assert.NotPanics(t, func() { p.Subscribe(nil)() })
	assert.Equal(t, 1, p.Len())
}

func TestPublisher_PanickingSubscriberIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	p := NewPublisher(zap.New(core))

	before, after := &countingSink{}, &countingSink{}
	p.Subscribe(before)
	p.Subscribe(Funcs{
		Open:    func(Peer) { panic("boom") },
		Message: func(Peer, []byte) { panic("boom") },
	})
	p.Subscribe(after)

	peer := Peer{ID: uuid.New()}
	assert.NotPanics(t, func() {
		p.OnOpen(peer)
		p.OnMessage(peer, []byte("x"))
		p.OnClose(peer)
	})

	assert.Equal(t, 1, before.opened)
	assert.Equal(t, 1, after.opened)
	assert.Equal(t, []string{"x"}, after.messages)
	assert.Equal(t, 1, after.closed)

	entries := logs.FilterMessage("event subscriber panicked").All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, string(EventConnectionOpened), entries[0].ContextMap()["event"])
		assert.Equal(t, peer.ID.String(), entries[0].ContextMap()["connection_id"])
	}
}

func TestFuncs_NilFieldsAreSkipped(t *testing.T) {
	var got []string
	f := Funcs{Close: func(Peer) { got = append(got, "close") }}

	assert.NotPanics(t, func() {
		f.OnOpen(Peer{})
		f.OnMessage(Peer{}, nil)
		f.OnClose(Peer{})
	})
	assert.Equal(t, []string{"close"}, got)
}

func TestPublisher_ConcurrentSubscribeAndPublish(t *testing.T) {
	p := NewPublisher(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := p.Subscribe(&countingSink{})
			unsubscribe()
		}()
		go func() {
			defer wg.Done()
			p.OnMessage(Peer{ID: uuid.New()}, []byte("m"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, p.Len())
}
