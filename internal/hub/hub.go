// Package hub serves the shared-tree store contract over websockets: read,
// atomic write, append with generated keys, subscriptions, and server-side
// disconnect cleanup. It is the serving half of what clients consume through
// the store adapter.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/store"
	"github.com/wheelroom/wheelroom/internal/store/memstore"
)

// Config holds websocket connection settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default websocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Persister stores room snapshots outside the in-memory tree so abandoned
// rooms survive a hub restart.
type Persister interface {
	SaveRoom(ctx context.Context, code string, doc []byte) error
}

// Hub owns the shared tree and the websocket connections mutating it.
type Hub struct {
	store    *memstore.Store
	config   Config
	upgrader websocket.Upgrader

	relay   *Relay
	persist Persister

	mu    sync.RWMutex
	conns map[*Conn]bool
}

// Conn is one client connection.
type Conn struct {
	ID   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	subs   map[string]store.Subscription

	ConnectedAt time.Time
}

// New builds a hub around st and installs the mutation hook that feeds the
// relay and persister.
func New(st *memstore.Store, config Config) *Hub {
	h := &Hub{
		store:  st,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		conns: make(map[*Conn]bool),
	}
	st.SetMutationHook(h.handleMutation)
	return h
}

// SetRelay attaches a cross-instance relay.
func (h *Hub) SetRelay(r *Relay) { h.relay = r }

// SetPersister attaches room snapshot persistence.
func (h *Hub) SetPersister(p Persister) { h.persist = p }

// handleMutation fans locally originated mutations out to the relay and the
// room persister.
func (h *Hub) handleMutation(m memstore.Mutation) {
	if h.relay != nil {
		h.relay.Publish(m)
	}
	if h.persist == nil {
		return
	}
	code := roomCode(m.Path)
	if code == "" {
		return
	}
	go h.persistRoom(code)
}

func (h *Hub) persistRoom(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := h.store.ReadOnce(ctx, "rooms/"+code)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("snapshot room for persistence")
		return
	}
	if err := h.persist.SaveRoom(ctx, code, doc); err != nil {
		log.Error().Err(err).Str("room", code).Msg("persist room snapshot")
	}
}

// roomCode extracts the room code from a tree path, or "" for paths outside
// rooms/.
func roomCode(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != "rooms" {
		return ""
	}
	return parts[1]
}

// UpgradeConnection upgrades an HTTP request to a hub connection.
func (h *Hub) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	conn := &Conn{
		ID:          uuid.New().String(),
		hub:         h,
		ws:          ws,
		send:        make(chan []byte, 256),
		subs:        make(map[string]store.Subscription),
		ConnectedAt: time.Now(),
	}

	h.mu.Lock()
	h.conns[conn] = true
	total := len(h.conns)
	h.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().Str("connection_id", conn.ID).Int("total_connections", total).Msg("connection established")
	return nil
}

// unregister tears the connection down: subscriptions are dropped and the
// connection's disconnect cleanups run, reclaiming its presence entries.
func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	if !h.conns[conn] {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn)
	h.mu.Unlock()

	conn.mu.Lock()
	conn.closed = true
	subs := conn.subs
	conn.subs = make(map[string]store.Subscription)
	conn.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	close(conn.send)

	h.store.RunCleanup(conn.ID)
	log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("write frame")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			return
		}
		c.handleRequest(message)
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

func (c *Conn) handleRequest(message []byte) {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("bad request frame")
		return
	}

	ctx := context.Background()
	reply := Frame{Type: FrameAck, ID: req.ID}

	switch req.Op {
	case OpRead:
		value, err := c.hub.store.ReadOnce(ctx, req.Path)
		if err != nil {
			reply = errFrame(req.ID, err)
			break
		}
		reply.Value = value

	case OpWrite:
		if err := c.hub.store.WriteAtomic(ctx, req.Path, req.Value); err != nil {
			reply = errFrame(req.ID, err)
		}

	case OpAppend:
		key, err := c.hub.store.Append(ctx, req.Path, req.Value)
		if err != nil {
			reply = errFrame(req.ID, err)
			break
		}
		reply.Key = key

	case OpRemove:
		if err := c.hub.store.Remove(ctx, req.Path); err != nil {
			reply = errFrame(req.ID, err)
		}

	case OpSubscribe:
		if err := c.subscribe(req.Path); err != nil {
			reply = errFrame(req.ID, err)
		}

	case OpUnsubscribe:
		c.mu.Lock()
		if sub, ok := c.subs[req.Path]; ok {
			delete(c.subs, req.Path)
			c.mu.Unlock()
			sub.Unsubscribe()
		} else {
			c.mu.Unlock()
		}

	case OpOnDisconnect:
		c.hub.store.RegisterCleanup(c.ID, req.Path)

	default:
		reply = errFrame(req.ID, fmt.Errorf("unknown op %q", req.Op))
	}

	c.enqueueFrame(reply)
}

func (c *Conn) subscribe(path string) error {
	c.mu.Lock()
	if _, ok := c.subs[path]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub, err := c.hub.store.Subscribe(path, func(snapshot json.RawMessage) {
		c.enqueueFrame(Frame{Type: FrameChange, Path: path, Value: snapshot})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs[path] = sub
	c.mu.Unlock()
	return nil
}

func errFrame(id string, err error) Frame {
	return Frame{Type: FrameErr, ID: id, Error: err.Error()}
}

// enqueueFrame queues a frame for the write pump; a connection too slow to
// drain its buffer is closed.
func (c *Conn) enqueueFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("marshal frame")
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, closing connection")
		c.ws.Close()
	}
}
