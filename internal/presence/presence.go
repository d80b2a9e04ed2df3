// Package presence tracks which participants are live in a room. Each
// participant writes only its own liveness entry; everyone reads all of them.
// Ungraceful disconnects are reclaimed by a store-side cleanup registration
// rather than client heartbeats.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/room"
	"github.com/wheelroom/wheelroom/internal/store"
)

// Tracker maintains this participant's liveness entry and the derived live
// count for one room.
type Tracker struct {
	st       store.Store
	code     string
	identity string
	onCount  func(int)

	mu    sync.Mutex
	count int
	sub   store.Subscription
}

// Attach writes this participant's entry, registers disconnect cleanup, and
// subscribes to the presence subtree. onCount may be nil.
func Attach(ctx context.Context, st store.Store, code, identity string, onCount func(int)) (*Tracker, error) {
	t := &Tracker{st: st, code: code, identity: identity, onCount: onCount}
	own := room.Path(code, "presence", identity)

	if err := st.OnDisconnectRemove(own); err != nil {
		return nil, fmt.Errorf("register disconnect cleanup: %w", err)
	}
	if err := st.WriteAtomic(ctx, own, true); err != nil {
		return nil, fmt.Errorf("write presence: %w", err)
	}

	sub, err := st.Subscribe(room.Path(code, "presence"), t.handleSnapshot)
	if err != nil {
		// Roll the entry back rather than leaving a ghost participant until
		// the disconnect cleanup fires.
		if rmErr := st.Remove(ctx, own); rmErr != nil {
			log.Error().Err(rmErr).Str("room", code).Msg("roll back presence entry")
		}
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}
	t.sub = sub
	return t, nil
}

func (t *Tracker) handleSnapshot(raw json.RawMessage) {
	entries := map[string]bool{}
	if raw != nil {
		if err := json.Unmarshal(raw, &entries); err != nil {
			log.Error().Err(err).Str("room", t.code).Msg("bad presence snapshot")
			return
		}
	}
	count := 0
	for _, live := range entries {
		if live {
			count++
		}
	}

	t.mu.Lock()
	t.count = count
	t.mu.Unlock()

	if t.onCount != nil {
		t.onCount(count)
	}
}

// LiveCount returns the number of entries currently true.
func (t *Tracker) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// SetVisible flips this participant's entry, e.g. false while a client is
// backgrounded. The shared count cannot distinguish "backgrounded" from
// "gone"; that is the accepted trade-off.
func (t *Tracker) SetVisible(ctx context.Context, visible bool) error {
	return t.st.WriteAtomic(ctx, room.Path(t.code, "presence", t.identity), visible)
}

// Detach removes this participant's entry and drops the subscription, for an
// explicit leave.
func (t *Tracker) Detach(ctx context.Context) {
	if t.sub != nil {
		t.sub.Unsubscribe()
		t.sub = nil
	}
	if err := t.st.Remove(ctx, room.Path(t.code, "presence", t.identity)); err != nil {
		log.Error().Err(err).Str("room", t.code).Msg("remove presence on leave")
	}
}
