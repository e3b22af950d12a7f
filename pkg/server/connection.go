package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/logpush/pkg/events"
	"github.com/tecu23/logpush/pkg/metrics"
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateUpgrading State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUpgrading:
		return "upgrading"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is the record of one upgraded peer. It owns the transport and runs
// the receive and drain loops for it.
type Connection struct {
	ID          uuid.UUID
	ws          *websocket.Conn // The underlying Websocket connection
	hub         *Hub
	queue       *outboundQueue // set by the hub on registration
	remoteAddr  string
	connectedAt time.Time
	upgraded    bool
	state       atomic.Int32

	done      chan struct{} // closed when either loop stops
	closeOnce sync.Once
	inflight  sync.WaitGroup // message-received dispatches still running

	cfg    *Config
	sink   events.Sink
	logger *zap.Logger
}

func NewConnection(
	ws *websocket.Conn,
	remoteAddr string,
	hub *Hub,
	cfg *Config,
	sink events.Sink,
	logger *zap.Logger,
) *Connection {
	id := uuid.New()
	c := &Connection{
		ID:          id,
		ws:          ws,
		hub:         hub,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		upgraded:    ws != nil,
		done:        make(chan struct{}),
		cfg:         cfg,
		sink:        sink,
		logger: logger.With(
			zap.String("connection_id", id.String()),
			zap.String("remote_addr", remoteAddr),
		),
	}
	c.state.Store(int32(StateUpgrading))
	return c
}

func (c *Connection) RemoteAddr() string     { return c.remoteAddr }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }
func (c *Connection) Upgraded() bool         { return c.upgraded }
func (c *Connection) State() State           { return State(c.state.Load()) }

// Peer returns the snapshot handed to event subscribers.
func (c *Connection) Peer() events.Peer {
	return events.Peer{
		ID:          c.ID,
		RemoteAddr:  c.remoteAddr,
		ConnectedAt: c.connectedAt,
	}
}

// run drives the connection from Open to Closed. The opened event fires before
// either loop starts and the closed event fires after both have exited and every
// message dispatch has returned.
func (c *Connection) run() {
	// A connection closed before its pump started stays Closing; it still
	// gets its opened and closed events.
	c.state.CompareAndSwap(int32(StateUpgrading), int32(StateOpen))
	metrics.ConnectionsOpened.Inc()
	metrics.OpenConnections.Inc()
	c.logger.Info("WebSocket connection established")

	defer c.finish()
	c.sink.OnOpen(c.Peer())

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		c.ReadPump()
	}()
	go func() {
		defer loops.Done()
		c.WritePump()
	}()
	loops.Wait()
}

func (c *Connection) finish() {
	c.shutdown()
	c.inflight.Wait()

	if dropped := c.hub.unregister(c); dropped > 0 {
		metrics.MessagesDropped.WithLabelValues(metrics.DropConnectionClosed).Add(float64(dropped))
		c.logger.Debug("discarded undelivered messages", zap.Int("count", dropped))
	}
	c.state.Store(int32(StateClosed))
	metrics.OpenConnections.Dec()
	c.logger.Info("WebSocket connection closed")

	c.sink.OnClose(c.Peer())
}

// ReadPump handles inbound messages from the client
func (c *Connection) ReadPump() {
	defer c.shutdown()

	if c.cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		// ReadMessage joins continuation frames into one message. The default
		// close handler acknowledges a close frame before the error is returned.
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.logTransportError("read", err)
			return
		}
		c.extendReadDeadline()
		metrics.MessagesReceived.Inc()
		c.dispatch(msg)
	}
}

func (c *Connection) dispatch(msg []byte) {
	peer := c.Peer()
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.sink.OnMessage(peer, msg)
	}()
}

// WritePump handles outbound messages to the client. It is the only goroutine
// that writes data frames to the transport.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.done:
			return

		case <-c.queue.wake:
			batch := c.queue.take()
			for i, f := range batch {
				if err := c.write(f.kind, f.data); err != nil {
					c.logTransportError("write", err)
					metrics.MessagesDropped.
						WithLabelValues(metrics.DropConnectionClosed).
						Add(float64(len(batch) - i))
					return
				}
				metrics.MessagesSent.Inc()
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logTransportError("ping", err)
				return
			}
		}
	}
}

func (c *Connection) write(kind int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, data)
}

func (c *Connection) extendReadDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
}

// SendText queues a text message. It reports false once the connection is gone.
func (c *Connection) SendText(text string) bool {
	return c.queue.push(textFrame(text))
}

// SendBytes queues a binary message. It reports false once the connection is gone.
func (c *Connection) SendBytes(data []byte) bool {
	return c.queue.push(binaryFrame(data))
}

// SendJSON is a helper for sending JSON to this connection
func (c *Connection) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Error marshaling JSON", zap.Error(err))
		return false
	}
	return c.queue.push(frame{kind: websocket.TextMessage, data: data})
}

// Close starts a local close: a normal-closure frame is sent and the transport
// is released, which stops both loops.
func (c *Connection) Close() {
	if c.State() != StateOpen {
		c.shutdown()
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
	c.shutdown()
}

// Done is closed when the connection starts closing.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		for {
			cur := c.state.Load()
			if cur >= int32(StateClosing) || c.state.CompareAndSwap(cur, int32(StateClosing)) {
				break
			}
		}
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *Connection) logTransportError(op string, err error) {
	select {
	case <-c.done:
		// Closed locally; the error is just the other loop noticing.
		c.logger.Debug("transport "+op+" stopped", zap.Error(err))
		return
	default:
	}
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		c.logger.Warn("transport "+op+" error", zap.Error(err))
		return
	}
	c.logger.Debug("transport "+op+" closed", zap.Error(err))
}
