// Package broadcast implements the Broadcaster contract (spec §4.6):
// broadcast(room, eventName, payload) is non-blocking and may drop to
// slow subscribers; order within a (room,eventName) is preserved.
//
// Grounded on mrf-agent-racer/backend/internal/ws/broadcast.go's
// client{conn,send chan []byte} + writePump + select{case send<-:
// default: evict} shape, generalized from a single implicit room to
// per-room fan-out since this contract needs distinct rooms ("live",
// "replay:<sessionKey>") each with independent subscriber sets.
package broadcast

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrTooManyConnections is returned by Join when a room is at capacity.
var ErrTooManyConnections = &broadcastError{"broadcast: too many connections in room"}

type broadcastError struct{ msg string }

func (e *broadcastError) Error() string { return e.msg }

// Message is the envelope written to every subscriber, carrying a
// room-global monotonically increasing sequence number (spec §8
// "Sequence numbers on broadcast messages" supplement).
type Message struct {
	Event   string `json:"event"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

type room struct {
	mu      sync.RWMutex
	clients map[*client]bool
	seq     atomic.Uint64
}

func newRoom() *room {
	return &room{clients: make(map[*client]bool)}
}

// Broadcaster is a room-keyed, non-blocking pub/sub fan-out. A subscriber
// slow enough to fill its 64-message send buffer is evicted rather than
// allowed to stall the broadcast of every other subscriber (spec §4.6,
// §5 backpressure model).
type Broadcaster struct {
	log zerolog.Logger

	mu       sync.RWMutex
	rooms    map[string]*room
	maxConns int
}

// New returns an empty Broadcaster. maxConns <= 0 means unlimited
// subscribers per room.
func New(log zerolog.Logger, maxConns int) *Broadcaster {
	return &Broadcaster{
		log:      log.With().Str("component", "broadcaster").Logger(),
		rooms:    make(map[string]*room),
		maxConns: maxConns,
	}
}

func (b *Broadcaster) room(name string) *room {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[name]
	if !ok {
		r = newRoom()
		b.rooms[name] = r
	}
	return r
}

// Subscriber is an opaque handle returned by Join, passed to Leave.
type Subscriber struct {
	room string
	c    *client
}

// Join registers conn as a subscriber of room, returning ErrTooManyConnections
// if the room is already at capacity.
func (b *Broadcaster) Join(room string, conn *websocket.Conn) (*Subscriber, error) {
	r := b.room(room)
	r.mu.Lock()
	if b.maxConns > 0 && len(r.clients) >= b.maxConns {
		r.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn)
	r.clients[c] = true
	r.mu.Unlock()
	return &Subscriber{room: room, c: c}, nil
}

// Leave removes a subscriber from its room and closes its send channel.
func (b *Broadcaster) Leave(sub *Subscriber) {
	b.mu.RLock()
	r, ok := b.rooms[sub.room]
	b.mu.RUnlock()
	if !ok {
		return
	}
	r.mu.Lock()
	if _, ok := r.clients[sub.c]; ok {
		delete(r.clients, sub.c)
		sub.c.close()
	}
	r.mu.Unlock()
}

// Broadcast sends eventName/payload to every subscriber of room. It never
// blocks: a subscriber whose buffer is full is evicted. Order within a
// (room,eventName) pair is preserved because all sends for one call
// happen from this single goroutine invocation before returning.
func (b *Broadcaster) Broadcast(roomName, eventName string, payload any) {
	r := b.room(roomName)
	msg := Message{Event: eventName, Seq: r.seq.Add(1), Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Str("room", roomName).Str("event", eventName).Msg("marshal failed, dropping broadcast")
		return
	}

	r.mu.RLock()
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			b.log.Warn().Str("room", roomName).Msg("subscriber too slow, evicting")
			b.evict(roomName, c)
		}
	}
}

func (b *Broadcaster) evict(roomName string, c *client) {
	r := b.room(roomName)
	r.mu.Lock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		c.close()
	}
	r.mu.Unlock()
}

// SubscriberCount returns the number of active subscribers of room.
func (b *Broadcaster) SubscriberCount(roomName string) int {
	r := b.room(roomName)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
