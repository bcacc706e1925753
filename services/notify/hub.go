// Package notify delivers events to push channel clients grouped in rooms.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/metrics"
	"github.com/trezcool/classboard/core/presence"
)

// Client kinds
const (
	KindBoard   = "board"
	KindTeacher = "teacher"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Frame is the JSON message exchanged over the push channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encoding payload")
	}
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "encoding frame")
	}
	return msg, nil
}

// Hub tracks the connected clients of this process by room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{} // registered and not yet released
	closing bool
	log     core.Logger
}

var _ presence.Emitter = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		log:     logger,
	}
}

// Register adds a connection to rooms. The caller must run the client's pumps,
// and Release the client once it has finished handling the connection.
// A client registered after CloseAll is closed right away.
func (h *Hub) Register(conn *websocket.Conn, kind string, rooms ...string) *Client {
	c := &Client{
		hub:      h,
		conn:     conn,
		kind:     kind,
		rooms:    rooms,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}

	h.mu.Lock()
	for _, room := range rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]struct{})
		}
		h.rooms[room][c] = struct{}{}
	}
	h.clients[c] = struct{}{}
	closing := h.closing
	h.mu.Unlock()

	metrics.ConnectedClients.WithLabelValues(kind).Inc()
	if closing {
		c.Close()
	}
	return c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	for _, room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	metrics.ConnectedClients.WithLabelValues(c.kind).Dec()
}

func (h *Hub) release(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// CloseAll closes every client, then waits until each one is released or ctx is done.
// Hijacked connections outlive http.Server.Shutdown, so this is part of a graceful stop.
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	for _, c := range clients {
		select {
		case <-c.released:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for push channel clients")
		}
	}
	return nil
}

// ClientCount returns the number of registered clients not yet released.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast queues msg to every client of room and returns how many clients got it.
// A client whose buffer is full misses the message.
func (h *Hub) Broadcast(room string, msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int
	for c := range h.rooms[room] {
		if c.enqueue(msg) {
			n++
		}
	}
	return n
}

// Emit delivers an event to the clients of room connected to this process.
func (h *Hub) Emit(event string, payload interface{}, room string) {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		metrics.EmitsTotal.WithLabelValues(event, "error").Inc()
		h.log.Error("emitting "+event, err, map[string]interface{}{"room": room})
		return
	}
	h.Broadcast(room, msg)
	metrics.EmitsTotal.WithLabelValues(event, "ok").Inc()
}

// Client is one push channel connection.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	kind  string
	rooms []string
	send  chan []byte

	closeOnce   sync.Once
	done        chan struct{}
	releaseOnce sync.Once
	released    chan struct{}
}

func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Send queues an event for this client only.
func (c *Client) Send(event string, payload interface{}) error {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	if !c.enqueue(msg) {
		return errors.New("client send buffer full or closed")
	}
	return nil
}

// Close leaves every room and closes the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		close(c.done)
	})
}

// Release tells the hub the connection handler is done with this client, closing it if needed.
// It is safe to call more than once.
func (c *Client) Release() {
	c.Close()
	c.releaseOnce.Do(func() {
		c.hub.release(c)
		close(c.released)
	})
}

// WritePump writes queued messages and pings to the connection until the client is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadPump reads frames until the connection fails, passing each to handle, then closes the client.
func (c *Client) ReadPump(handle func(Frame)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("push channel closed", err)
			}
			return
		}
		var frame Frame
		if err = json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			continue
		}
		handle(frame)
	}
}
