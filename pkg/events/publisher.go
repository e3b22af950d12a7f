// Package events fans connection lifecycle and message notifications out to
// any number of subscribers.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/logpush/pkg/metrics"
)

// EventType represents the type of event
type EventType string

// Define event types
const (
	EventConnectionOpened EventType = "CONNECTION_OPENED"
	EventConnectionClosed EventType = "CONNECTION_CLOSED"
	EventMessageReceived  EventType = "MESSAGE_RECEIVED"
)

// Peer is an immutable snapshot of a connection handed to subscribers.
type Peer struct {
	ID          uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time
}

// Sink receives connection lifecycle and message notifications.
type Sink interface {
	OnOpen(peer Peer)
	OnClose(peer Peer)
	OnMessage(peer Peer, payload []byte)
}

// Funcs adapts plain functions to a Sink. Nil fields are skipped.
type Funcs struct {
	Open    func(peer Peer)
	Close   func(peer Peer)
	Message func(peer Peer, payload []byte)
}

func (f Funcs) OnOpen(peer Peer) {
	if f.Open != nil {
		f.Open(peer)
	}
}

func (f Funcs) OnClose(peer Peer) {
	if f.Close != nil {
		f.Close(peer)
	}
}

func (f Funcs) OnMessage(peer Peer, payload []byte) {
	if f.Message != nil {
		f.Message(peer, payload)
	}
}

// Publisher is the central event fan-out. It is itself a Sink, so a server only
// ever talks to one Sink no matter how many subscribers are registered.
type Publisher struct {
	mu          sync.RWMutex
	subscribers []Sink

	logger *zap.Logger
}

var _ Sink = (*Publisher)(nil)

// NewPublisher creates a new event publisher
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		logger: logger,
	}
}

// Subscribe registers a sink and returns a function that removes it again.
func (p *Publisher) Subscribe(sink Sink) (unsubscribe func()) {
	if sink == nil {
		return func() {}
	}

	entry := &subscription{Sink: sink}

	p.mu.Lock()
	p.subscribers = append(p.subscribers, entry)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.subscribers {
				if s == Sink(entry) {
					p.subscribers = append(p.subscribers[:i:i], p.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered subscribers.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

func (p *Publisher) OnOpen(peer Peer) {
	p.publish(EventConnectionOpened, peer, func(s Sink) { s.OnOpen(peer) })
}

func (p *Publisher) OnClose(peer Peer) {
	p.publish(EventConnectionClosed, peer, func(s Sink) { s.OnClose(peer) })
}

func (p *Publisher) OnMessage(peer Peer, payload []byte) {
	p.publish(EventMessageReceived, peer, func(s Sink) { s.OnMessage(peer, payload) })
}

// publish calls every subscriber in turn. A panicking subscriber is logged and
// skipped; the remaining subscribers still run.
func (p *Publisher) publish(eventType EventType, peer Peer, call func(Sink)) {
	p.mu.RLock()
	subscribers := p.subscribers
	p.mu.RUnlock()

	for _, sub := range subscribers {
		p.invoke(eventType, peer, sub, call)
	}
}

func (p *Publisher) invoke(eventType EventType, peer Peer, sub Sink, call func(Sink)) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.Inc()
			p.logger.Error("event subscriber panicked",
				zap.String("event", string(eventType)),
				zap.String("connection_id", peer.ID.String()),
				zap.String("panic", fmt.Sprintf("%v", r)),
			)
		}
	}()
	call(sub)
}

// subscription gives every Subscribe call a distinct identity so the same sink
// value can be registered twice and removed independently.
type subscription struct {
	Sink
}
