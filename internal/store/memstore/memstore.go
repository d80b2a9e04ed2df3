// Package memstore implements the shared-tree store contract in memory.
// It backs the hub daemon and stands in for a remote store in tests.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/store"
)

// localOwner tags disconnect cleanups registered through the plain Store
// interface, i.e. by an in-process client rather than a hub connection.
const localOwner = "local"

// Mutation describes one applied change, for replication and persistence.
type Mutation struct {
	Op    string // "write" or "remove"
	Path  string
	Value json.RawMessage
}

// Store is an in-memory JSON tree with prefix subscriptions and
// disconnect-cleanup registration. All mutations are serialized behind one
// mutex, which is what makes Append keys monotonic across writers attached
// to the same instance.
type Store struct {
	push *store.PushIDGenerator

	mu        sync.Mutex
	root      map[string]any
	subs      map[int]*subscription
	nextSubID int
	cleanups  map[string][]string // owner -> paths to remove on disconnect
	onMutate  func(Mutation)

	// dispatchMu serializes snapshot delivery so a subscription never
	// observes changes out of order.
	dispatchMu sync.Mutex
}

type subscription struct {
	s    *Store
	id   int
	path []string
	fn   func(json.RawMessage)
}

// Unsubscribe detaches the subscription. No callbacks run after it returns.
func (sub *subscription) Unsubscribe() {
	sub.s.mu.Lock()
	delete(sub.s.subs, sub.id)
	sub.s.mu.Unlock()
	sub.s.dispatchMu.Lock()
	sub.s.dispatchMu.Unlock()
}

// New returns an empty store whose generated keys are timestamped by clock.
func New(clock clockwork.Clock) *Store {
	return &Store{
		push:     store.NewPushIDGenerator(clock),
		root:     make(map[string]any),
		subs:     make(map[int]*subscription),
		cleanups: make(map[string][]string),
	}
}

// SetMutationHook registers fn to observe locally originated mutations.
// Remote applications via ApplyRemote do not fire it.
func (s *Store) SetMutationHook(fn func(Mutation)) {
	s.mu.Lock()
	s.onMutate = fn
	s.mu.Unlock()
}

// ReadOnce returns the snapshot at path, or (nil, nil) when absent.
func (s *Store) ReadOnce(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	snap := snapshot(s.root, split(path))
	s.mu.Unlock()
	if snap == nil {
		return nil, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %q: %w", path, err)
	}
	return raw, nil
}

// WriteAtomic replaces the subtree at path. A nil value removes it.
func (s *Store) WriteAtomic(_ context.Context, path string, value any) error {
	return s.apply("write", path, value, true)
}

// Append stores value under a fresh push key and returns the key.
func (s *Store) Append(_ context.Context, path string, value any) (string, error) {
	key := s.push.Next()
	if err := s.apply("write", path+"/"+key, value, true); err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes the subtree at path.
func (s *Store) Remove(_ context.Context, path string) error {
	return s.apply("remove", path, nil, true)
}

// ApplyRemote applies a mutation replicated from another instance without
// re-firing the mutation hook.
func (s *Store) ApplyRemote(m Mutation) error {
	if m.Op == "remove" || m.Value == nil {
		return s.apply("remove", m.Path, nil, false)
	}
	return s.apply("write", m.Path, m.Value, false)
}

// Subscribe registers fn for path. The current snapshot is delivered before
// Subscribe returns.
func (s *Store) Subscribe(path string, fn func(json.RawMessage)) (store.Subscription, error) {
	segs := split(path)

	s.mu.Lock()
	s.nextSubID++
	sub := &subscription{s: s, id: s.nextSubID, path: segs, fn: fn}
	s.subs[sub.id] = sub
	initial := marshalSnapshot(snapshot(s.root, segs))
	s.dispatchMu.Lock()
	s.mu.Unlock()

	fn(initial)
	s.dispatchMu.Unlock()
	return sub, nil
}

// OnDisconnectRemove registers path for removal when the in-process client
// "disconnects" (see FireDisconnect).
func (s *Store) OnDisconnectRemove(path string) error {
	s.RegisterCleanup(localOwner, path)
	return nil
}

// RegisterCleanup records path for removal when owner disconnects. The hub
// uses one owner per websocket connection.
func (s *Store) RegisterCleanup(owner, path string) {
	s.mu.Lock()
	s.cleanups[owner] = append(s.cleanups[owner], path)
	s.mu.Unlock()
}

// RunCleanup removes every path registered for owner.
func (s *Store) RunCleanup(owner string) {
	s.mu.Lock()
	paths := s.cleanups[owner]
	delete(s.cleanups, owner)
	s.mu.Unlock()

	for _, p := range paths {
		if err := s.Remove(context.Background(), p); err != nil {
			log.Error().Err(err).Str("path", p).Msg("disconnect cleanup failed")
		}
	}
}

// FireDisconnect simulates a dropped connection for the in-process client,
// executing cleanups registered via OnDisconnectRemove.
func (s *Store) FireDisconnect() {
	s.RunCleanup(localOwner)
}

func (s *Store) apply(op, path string, value any, local bool) error {
	segs := split(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}

	var canon any
	if op == "write" {
		var err error
		canon, err = canonical(value)
		if err != nil {
			return fmt.Errorf("encode value for %q: %w", path, err)
		}
		if canon == nil {
			op = "remove"
		}
	}

	s.mu.Lock()
	if op == "remove" {
		removeAt(s.root, segs)
	} else {
		setAt(s.root, segs, canon)
	}

	type delivery struct {
		fn   func(json.RawMessage)
		snap json.RawMessage
	}
	var due []delivery
	for _, sub := range s.subs {
		if !overlaps(sub.path, segs) {
			continue
		}
		due = append(due, delivery{sub.fn, marshalSnapshot(snapshot(s.root, sub.path))})
	}
	hook := s.onMutate
	// dispatchMu is acquired while mu is still held so concurrent writers
	// deliver snapshots in mutation order; releasing mu first would let a
	// later writer's delivery overtake an earlier one.
	s.dispatchMu.Lock()
	s.mu.Unlock()

	if hook != nil && local {
		m := Mutation{Op: op, Path: strings.Join(segs, "/")}
		if op == "write" {
			m.Value = marshalSnapshot(canon)
		}
		hook(m)
	}

	for _, d := range due {
		d.fn(d.snap)
	}
	s.dispatchMu.Unlock()
	return nil
}

// canonical round-trips value through JSON so the tree only holds
// map[string]any, []any, and scalar leaves.
func canonical(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalSnapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal snapshot")
		return nil
	}
	return raw
}

func split(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// overlaps reports whether one path is a segment-wise prefix of the other.
func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func setAt(root map[string]any, segs []string, value any) {
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = value
}

func removeAt(root map[string]any, segs []string) {
	node := root
	parents := make([]map[string]any, 0, len(segs))
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		parents = append(parents, node)
		node = child
	}
	delete(node, segs[len(segs)-1])

	// Prune now-empty intermediate nodes.
	for i := len(parents) - 1; i >= 0; i-- {
		if len(node) > 0 {
			break
		}
		delete(parents[i], segs[i])
		node = parents[i]
	}
}

func snapshot(root map[string]any, segs []string) any {
	var node any = root
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	if m, ok := node.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return node
}
