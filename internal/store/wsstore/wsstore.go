// Package wsstore is the client-side store adapter: it speaks the hub's
// websocket protocol and exposes the same Store contract components consume
// everywhere else. Request/reply frames are correlated by id; change frames
// are fanned out to path subscriptions on a single dispatch goroutine, which
// preserves per-subscription ordering.
package wsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/hub"
	"github.com/wheelroom/wheelroom/internal/store"
)

const requestTimeout = 10 * time.Second

// Store is a hub-backed store connection.
type Store struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan hub.Frame
	subs     map[string][]*subscription
	lastSnap map[string]json.RawMessage
	snapSeen map[string]bool
	nextSub  int
	closed   bool

	closeCh  chan struct{}
	changeCh chan hub.Frame
}

type subscription struct {
	s    *Store
	id   int
	path string
	fn   func(json.RawMessage)
}

// Dial connects to a hub websocket endpoint, e.g. "ws://localhost:8080/ws".
func Dial(ctx context.Context, url string) (*Store, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", url, store.ErrUnavailable)
	}
	s := &Store{
		ws:       ws,
		pending:  make(map[string]chan hub.Frame),
		subs:     make(map[string][]*subscription),
		lastSnap: make(map[string]json.RawMessage),
		snapSeen: make(map[string]bool),
		closeCh:  make(chan struct{}),
		changeCh: make(chan hub.Frame, 256),
	}
	go s.readLoop()
	go s.dispatchLoop()
	return s, nil
}

func (s *Store) readLoop() {
	defer s.shutdown()
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame hub.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("bad hub frame")
			continue
		}
		switch frame.Type {
		case hub.FrameAck, hub.FrameErr:
			s.mu.Lock()
			ch, ok := s.pending[frame.ID]
			delete(s.pending, frame.ID)
			s.mu.Unlock()
			if ok {
				ch <- frame
			}
		case hub.FrameChange:
			select {
			case s.changeCh <- frame:
			default:
				log.Warn().Str("path", frame.Path).Msg("change buffer full, dropping snapshot")
			}
		}
	}
}

func (s *Store) dispatchLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case frame := <-s.changeCh:
			s.mu.Lock()
			s.lastSnap[frame.Path] = frame.Value
			s.snapSeen[frame.Path] = true
			subs := append([]*subscription(nil), s.subs[frame.Path]...)
			s.mu.Unlock()
			for _, sub := range subs {
				sub.fn(frame.Value)
			}
		}
	}
}

func (s *Store) request(ctx context.Context, req hub.Request) (hub.Frame, error) {
	req.ID = uuid.New().String()
	reply := make(chan hub.Frame, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return hub.Frame{}, store.ErrUnavailable
	}
	s.pending[req.ID] = reply
	s.mu.Unlock()

	if err := s.send(req); err != nil {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return hub.Frame{}, err
	}

	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()
	select {
	case frame := <-reply:
		if frame.Type == hub.FrameErr {
			return hub.Frame{}, fmt.Errorf("hub: %s", frame.Error)
		}
		return frame, nil
	case <-ctx.Done():
		return hub.Frame{}, ctx.Err()
	case <-timeout.C:
		return hub.Frame{}, fmt.Errorf("request timed out: %w", store.ErrUnavailable)
	case <-s.closeCh:
		return hub.Frame{}, store.ErrUnavailable
	}
}

func (s *Store) send(req hub.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send request: %w", store.ErrUnavailable)
	}
	return nil
}

// ReadOnce fetches the snapshot at path.
func (s *Store) ReadOnce(ctx context.Context, path string) (json.RawMessage, error) {
	frame, err := s.request(ctx, hub.Request{Op: hub.OpRead, Path: path})
	if err != nil {
		return nil, err
	}
	return frame.Value, nil
}

// WriteAtomic replaces the subtree at path.
func (s *Store) WriteAtomic(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	_, err = s.request(ctx, hub.Request{Op: hub.OpWrite, Path: path, Value: raw})
	return err
}

// Append stores value under a hub-generated key.
func (s *Store) Append(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	frame, err := s.request(ctx, hub.Request{Op: hub.OpAppend, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return frame.Key, nil
}

// Remove deletes the subtree at path.
func (s *Store) Remove(ctx context.Context, path string) error {
	_, err := s.request(ctx, hub.Request{Op: hub.OpRemove, Path: path})
	return err
}

// Subscribe registers fn for path snapshots. The hub delivers the current
// snapshot right after the subscription is established.
func (s *Store) Subscribe(path string, fn func(json.RawMessage)) (store.Subscription, error) {
	s.mu.Lock()
	s.nextSub++
	sub := &subscription{s: s, id: s.nextSub, path: path, fn: fn}
	first := len(s.subs[path]) == 0
	s.subs[path] = append(s.subs[path], sub)
	cached, seen := s.lastSnap[path], s.snapSeen[path]
	s.mu.Unlock()

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := s.request(ctx, hub.Request{Op: hub.OpSubscribe, Path: path}); err != nil {
			s.drop(sub)
			return nil, err
		}
	} else if seen {
		// The hub only pushes the current snapshot once per path, so replay
		// the last-known one through the dispatch queue for the late
		// subscriber. Routing it through dispatch keeps per-path ordering.
		select {
		case s.changeCh <- hub.Frame{Type: hub.FrameChange, Path: path, Value: cached}:
		case <-s.closeCh:
		}
	}
	return sub, nil
}

// Unsubscribe detaches the subscription, telling the hub once the last
// subscription for the path is gone.
func (sub *subscription) Unsubscribe() {
	sub.s.drop(sub)
}

func (s *Store) drop(sub *subscription) {
	s.mu.Lock()
	list := s.subs[sub.path]
	for i, candidate := range list {
		if candidate.id == sub.id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.subs[sub.path] = list
	last := len(list) == 0
	closed := s.closed
	s.mu.Unlock()

	if last && !closed {
		// Fire and forget; the hub drops the server-side subscription.
		if err := s.send(hub.Request{ID: uuid.New().String(), Op: hub.OpUnsubscribe, Path: sub.path}); err != nil {
			log.Debug().Err(err).Str("path", sub.path).Msg("unsubscribe send failed")
		}
	}
}

// OnDisconnectRemove asks the hub to remove path when this connection drops.
func (s *Store) OnDisconnectRemove(path string) error {
	return s.send(hub.Request{ID: uuid.New().String(), Op: hub.OpOnDisconnect, Path: path})
}

// Close tears the connection down. Outstanding and future requests fail with
// ErrUnavailable.
func (s *Store) Close() {
	s.shutdown()
}

func (s *Store) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	s.ws.Close()
}
