// Package transport is the duplex WebSocket channel to the interview
// service. It never retries on its own; reconnection is driven by the
// connection monitor.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// eventBuffer is the capacity of the inbound event channel.
	eventBuffer = 64
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second
	// closeGrace bounds how long Close waits for the reader to exit.
	closeGrace = 2 * time.Second
)

// ErrNotOpen is returned when sending on a socket that is not open.
var ErrNotOpen = errors.New("transport: not open")

// SessionURL builds the socket address for a session.
func SessionURL(wsBase, sessionID string) string {
	return strings.TrimRight(wsBase, "/") + "/ws/interview/" + url.PathEscape(sessionID)
}

// Options configures a Client.
type Options struct {
	URL    string
	Header http.Header // e.g. Authorization
	// Dialer overrides websocket.DefaultDialer, mostly for tests.
	Dialer *websocket.Dialer
}

// Client is a single logical connection to the interview service. The
// Events channel outlives individual sockets so consumers keep reading
// across reconnects.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	events chan Event

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	closing chan struct{} // closed when the current socket is being torn down
	done    chan struct{} // closed when the current reader exits

	writeMu sync.Mutex
}

// New creates a Client in the Disconnected state.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("transport: URL is required")
	}
	d := opts.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	return &Client{
		url:    opts.URL,
		header: opts.Header,
		dialer: d,
		events: make(chan Event, eventBuffer),
		state:  Disconnected,
	}, nil
}

// Events returns the inbound event stream, in arrival order.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkReconnecting records that a retry has been requested for a
// disconnected socket.
func (c *Client) MarkReconnecting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkTransition(c.state, Reconnecting); err != nil {
		return err
	}
	c.state = Reconnecting
	return nil
}

// Connect dials the service. On failure the client returns to Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if err := checkTransition(c.state, Connecting); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Open
	c.closing = make(chan struct{})
	c.done = make(chan struct{})
	closing, done := c.closing, c.done
	c.mu.Unlock()

	log.Printf("transport: connected to %s", c.url)
	c.emit(closing, Event{Type: EventConnected})
	go c.readLoop(conn, closing, done)
	return nil
}

// SendText writes a JSON message.
func (c *Client) SendText(msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Type, err)
	}
	return c.write(websocket.TextMessage, data)
}

// SendBinary writes a raw audio chunk.
func (c *Client) SendBinary(chunk []byte) error {
	return c.write(websocket.BinaryMessage, chunk)
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(messageType, data); err != nil {
		// Unblock the reader so the state machine records the failure.
		conn.Close()
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close performs a clean close handshake. Closing a socket that is not open
// is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state != Open {
		if c.state == Reconnecting {
			c.state = Disconnected
		}
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	conn, closing, done := c.conn, c.closing, c.done
	close(closing)
	c.mu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-done:
	case <-time.After(closeGrace):
	}
	conn.Close()
	<-done
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, closing, done chan struct{}) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(conn, closing, err)
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			c.emit(closing, Event{Type: EventAudio, Audio: data})
		case websocket.TextMessage:
			ev, derr := DecodeText(data)
			if derr != nil {
				log.Printf("transport: dropping malformed frame: %v", derr)
				continue
			}
			c.emit(closing, ev)
		}
	}
}

// finish moves the state machine to Disconnected after the reader exits.
func (c *Client) finish(conn *websocket.Conn, closing chan struct{}, readErr error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	requested := c.state == Closing
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()
	conn.Close()

	ev := Event{Type: EventDisconnected}
	if !requested {
		ev.Err = readErr
		log.Printf("transport: connection lost: %v", readErr)
		c.emit(nil, ev)
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

// emit delivers an event, giving up if the socket is being torn down so a
// stalled consumer cannot block Close.
func (c *Client) emit(closing chan struct{}, ev Event) {
	if closing == nil {
		select {
		case c.events <- ev:
		default:
			log.Printf("transport: event buffer full, dropping %s", ev.Type)
		}
		return
	}
	select {
	case c.events <- ev:
	case <-closing:
	}
}
