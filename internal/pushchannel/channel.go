// Package pushchannel maintains the realtime connection to the backend and
// dispatches server-initiated events to subscribed handlers.
package pushchannel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradeline/chatsync/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event is the wire frame for both directions: a name plus a JSON payload.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Handler consumes the payload of one inbound event. It is an alias so any
// func(json.RawMessage) subscribes directly.
type Handler = func(data json.RawMessage)

// Dialer builds channels against a socket endpoint.
type Dialer struct {
	// BaseURL is the socket endpoint; http(s) schemes are rewritten to ws(s).
	BaseURL          string
	Header           http.Header
	HandshakeTimeout time.Duration
	SendQueueSize    int
	MaxReconnectWait time.Duration
}

// Channel is one live scoped connection. Exactly one handler is active per
// event name; Subscribe replaces any previous handler for that name.
type Channel struct {
	scope string
	url   string
	d     *Dialer

	mu        sync.Mutex
	handlers  map[string]Handler
	onConnect func()
	connected bool
	closed    bool

	send chan Event
	done chan struct{}
}

// Connect starts a channel for the given scope (empty for the default chat
// namespace, "support" for the support namespace). It never fails
// synchronously: if the endpoint is unreachable the channel keeps retrying
// in the background and the caller degrades to REST-only behavior meanwhile.
func (d *Dialer) Connect(ctx context.Context, scope string) *Channel {
	queue := d.SendQueueSize
	if queue <= 0 {
		queue = 64
	}

	c := &Channel{
		scope:    scope,
		url:      endpointURL(d.BaseURL, scope),
		d:        d,
		handlers: make(map[string]Handler),
		send:     make(chan Event, queue),
		done:     make(chan struct{}),
	}

	go c.run(ctx)
	return c
}

// endpointURL rewrites the scheme for websocket dialing and appends the scope
// as a path segment, mirroring how the web client picked its namespaces.
func endpointURL(base, scope string) string {
	u := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if scope != "" {
		u += "/" + scope
	}
	return u
}

// Subscribe registers the handler for an event name, replacing any previous
// one so a remounted consumer can never end up with duplicate delivery.
func (c *Channel) Subscribe(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.handlers[event] = h
}

// Unsubscribe removes the handler for an event name.
func (c *Channel) Unsubscribe(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// OnConnect registers a callback invoked after every successful (re)connect,
// used to re-announce room membership. If the channel is already connected
// the callback fires once right away: the dial races the consumer's wiring,
// and a registration that waited for the next reconnect would leave the
// client invisible to the server until then.
func (c *Channel) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	connected := c.connected
	c.mu.Unlock()

	if connected && fn != nil {
		fn()
	}
}

// Connected reports whether a live connection is currently established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit queues an outbound event. Delivery is fire-and-forget: when the
// channel is down or the queue is full the event is dropped and logged,
// never blocking the caller.
func (c *Channel) Emit(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Warn("pushchannel: marshal emit payload", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case c.send <- Event{Name: event, Data: data}:
	case <-c.done:
	default:
		logger.Log.Warn("pushchannel: send queue full, dropping event", zap.String("event", event))
	}
}

// Close tears the channel down, releasing all subscriptions. It is
// idempotent and safe to call from any goroutine.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.handlers = make(map[string]Handler)
	c.mu.Unlock()

	close(c.done)
}

// run owns the connection lifecycle: dial with backoff, pump until the
// connection drops, reconnect until the channel is closed.
func (c *Channel) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	if c.d.MaxReconnectWait > 0 {
		bo.MaxInterval = c.d.MaxReconnectWait
	}
	bo.MaxElapsedTime = 0 // retry forever; REST keeps the app usable meanwhile

	dialer := websocket.Dialer{HandshakeTimeout: c.d.HandshakeTimeout}

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.Close()
			return
		default:
		}

		conn, _, err := dialer.DialContext(ctx, c.url, c.d.Header)
		if err != nil {
			wait := bo.NextBackOff()
			logger.Log.Warn("pushchannel: connect failed, will retry",
				zap.String("scope", c.scope), zap.Duration("wait", wait), zap.Error(err))
			select {
			case <-time.After(wait):
			case <-c.done:
				return
			case <-ctx.Done():
				c.Close()
				return
			}
			continue
		}

		bo.Reset()
		logger.Log.Info("pushchannel: connected", zap.String("scope", c.scope))

		c.mu.Lock()
		c.connected = true
		onConnect := c.onConnect
		c.mu.Unlock()
		if onConnect != nil {
			onConnect()
		}

		c.pump(conn)

		c.mu.Lock()
		c.connected = false
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		logger.Log.Warn("pushchannel: connection lost", zap.String("scope", c.scope))
	}
}

// pump runs the writer goroutine and the read loop for one connection,
// returning when either side fails or the channel is closed.
func (c *Channel) pump(conn *websocket.Conn) {
	defer conn.Close()

	writerDone := make(chan struct{})
	go c.writer(conn, writerDone)
	defer close(writerDone)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.done:
			default:
				logger.Log.Debug("pushchannel: read error", zap.Error(err))
			}
			return
		}
		c.dispatch(ev)
	}
}

// writer drains the send queue onto the connection and keeps it alive with
// pings. A single writer per connection; gorilla allows only one concurrent
// write.
func (c *Channel) writer(conn *websocket.Conn, writerDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Log.Debug("pushchannel: write error", zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-c.done:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			return
		case <-writerDone:
			return
		}
	}
}

// dispatch hands the event to its subscribed handler, if any.
func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	h := c.handlers[ev.Name]
	c.mu.Unlock()

	if h == nil {
		logger.Log.Debug("pushchannel: no handler for event", zap.String("event", ev.Name))
		return
	}
	h(ev.Data)
}
