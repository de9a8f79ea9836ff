// Package conn wraps a single websocket between this node and one remote
// peer. It frames outbound events, decodes inbound frames, and exposes
// liveness as an atomic flag. Everything above this layer deals in events,
// never in raw frames.
package conn

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/meshchat/pkg/bus"
	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/logger"
)

var (
	// ErrTransportClosed is returned by SendEvent once the underlying link
	// is gone. The connection is torn down, the process keeps running.
	ErrTransportClosed = errors.New("transport closed")

	// ErrProtocolViolation marks an inbound frame that does not decode as
	// one protocol event. The sender is treated as buggy or hostile and the
	// connection is closed with a distinct reason.
	ErrProtocolViolation = errors.New("protocol violation")
)

const closeWriteWait = 5 * time.Second

// Conn owns one duplex peer link. Exactly one goroutine runs the read pump;
// writes are serialized internally, so SendEvent is safe from any
// goroutine.
type Conn struct {
	ws      *websocket.Conn
	alive   atomic.Bool
	writeMu sync.Mutex
	once    sync.Once
}

// New wraps an established websocket. The connection starts alive.
func New(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws}
	c.alive.Store(true)
	return c
}

// Alive reports whether the link is still usable. Readable without any
// connection-internal lock.
func (c *Conn) Alive() bool {
	return c.alive.Load()
}

// SendEvent serializes the event and writes it as one text frame.
func (c *Conn) SendEvent(e event.Event) error {
	if !c.alive.Load() {
		return fmt.Errorf("%w: send %s", ErrTransportClosed, e.Kind())
	}
	data, err := event.Marshal(e)
	if err != nil {
		return fmt.Errorf("send %s: %w", e.Kind(), err)
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.alive.Store(false)
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

// FetchEvent blocks until one complete frame arrives and decodes it.
// Non-text frames are skipped (nil, nil). A read error or remote close
// marks the connection dead and returns (nil, nil). A frame that fails to
// decode closes the connection with a policy-violation reason and returns
// the error.
func (c *Conn) FetchEvent() (event.Event, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		c.Close(websocket.CloseNormalClosure, "")
		return nil, nil
	}
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	e, err := event.Unmarshal(data)
	if err != nil {
		c.Close(websocket.ClosePolicyViolation, "unable to parse the message")
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return e, nil
}

// Pump reads events until the connection dies and posts each one to the
// bus. A decode failure has already closed the connection inside
// FetchEvent, so the pump logs it and exits.
func (c *Conn) Pump(b *bus.Bus) {
	for c.alive.Load() {
		e, err := c.FetchEvent()
		if err != nil {
			logger.WarnCF("conn", "closing connection after undecodable frame", map[string]any{"error": err.Error()})
			return
		}
		if e == nil {
			continue
		}
		if err := b.Post(e); err != nil {
			return
		}
	}
}

// Close marks the connection dead and then closes the transport, in that
// order, so no concurrent sender writes into a half-closed socket.
// Idempotent and safe to call concurrently with an in-flight send.
func (c *Conn) Close(code int, reason string) {
	c.alive.Store(false)
	c.once.Do(func() {
		c.writeMu.Lock()
		deadline := time.Now().Add(closeWriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
