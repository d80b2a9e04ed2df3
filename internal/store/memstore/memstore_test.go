package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(clockwork.NewFakeClock())
}

func mustWrite(t *testing.T, s *Store, path string, value any) {
	t.Helper()
	if err := s.WriteAtomic(context.Background(), path, value); err != nil {
		t.Fatalf("WriteAtomic(%q) error = %v", path, err)
	}
}

func readString(t *testing.T, s *Store, path string) string {
	t.Helper()
	raw, err := s.ReadOnce(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadOnce(%q) error = %v", path, err)
	}
	return string(raw)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newStore(t)
	mustWrite(t, s, "rooms/ABC234/created", 12345)

	if got := readString(t, s, "rooms/ABC234/created"); got != "12345" {
		t.Errorf("ReadOnce() = %s, want 12345", got)
	}
}

func TestReadAbsentPathIsNil(t *testing.T) {
	s := newStore(t)
	raw, err := s.ReadOnce(context.Background(), "rooms/NOPE42")
	if err != nil {
		t.Fatalf("ReadOnce() error = %v", err)
	}
	if raw != nil {
		t.Errorf("ReadOnce() = %s, want nil for absent path", raw)
	}
}

func TestWriteReplacesSubtree(t *testing.T) {
	s := newStore(t)
	mustWrite(t, s, "rooms/R/presence", map[string]bool{"a": true, "b": true})
	mustWrite(t, s, "rooms/R/presence", map[string]bool{"c": true})

	var got map[string]bool
	raw, _ := s.ReadOnce(context.Background(), "rooms/R/presence")
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(got) != 1 || !got["c"] {
		t.Errorf("snapshot after replace = %v, want only c:true", got)
	}
}

func TestRemovePrunesEmptyParents(t *testing.T) {
	s := newStore(t)
	mustWrite(t, s, "rooms/R/presence/a", true)
	if err := s.Remove(context.Background(), "rooms/R/presence/a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	raw, _ := s.ReadOnce(context.Background(), "rooms/R")
	if raw != nil {
		t.Errorf("room subtree still present after last leaf removed: %s", raw)
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	s := newStore(t)
	mustWrite(t, s, "rooms/R/result", map[string]any{"game": "Chess"})

	var got []string
	sub, err := s.Subscribe("rooms/R/result", func(raw json.RawMessage) {
		got = append(got, string(raw))
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	if len(got) != 1 {
		t.Fatalf("got %d snapshots before any mutation, want exactly 1 (the initial state)", len(got))
	}
	if got[0] == "" {
		t.Error("initial snapshot empty, want current value")
	}
}

func TestSubscribeSeesWritesBelowAndAbove(t *testing.T) {
	s := newStore(t)
	var snapshots []string
	sub, err := s.Subscribe("rooms/R/presence", func(raw json.RawMessage) {
		snapshots = append(snapshots, string(raw))
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	mustWrite(t, s, "rooms/R/presence/a", true)       // below the subscribed path
	mustWrite(t, s, "rooms/R", map[string]any{})      // above it
	mustWrite(t, s, "rooms/OTHER/presence/x", true)   // sibling room
	mustWrite(t, s, "rooms/R/spinData/timestamp", 1)  // sibling subtree

	// initial nil + the two overlapping writes
	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3: %v", len(snapshots), snapshots)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := newStore(t)
	calls := 0
	sub, err := s.Subscribe("rooms/R", func(json.RawMessage) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	sub.Unsubscribe()
	mustWrite(t, s, "rooms/R/created", 1)

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1 (initial only)", calls)
	}
}

func TestAppendKeysSortInInsertionOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	var keys []string
	for i := 0; i < 20; i++ {
		key, err := s.Append(context.Background(), "rooms/R/games", map[string]any{"name": "g"})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		keys = append(keys, key)
		if i%3 == 0 {
			clock.Advance(time.Millisecond)
		}
	}

	if !sort.StringsAreSorted(keys) {
		t.Errorf("append keys not in lexical insertion order: %v", keys)
	}
}

func TestDisconnectCleanupRemovesRegisteredPaths(t *testing.T) {
	s := newStore(t)
	mustWrite(t, s, "rooms/R/presence/me", true)
	mustWrite(t, s, "rooms/R/presence/other", true)
	if err := s.OnDisconnectRemove("rooms/R/presence/me"); err != nil {
		t.Fatalf("OnDisconnectRemove() error = %v", err)
	}

	s.FireDisconnect()

	if got := readString(t, s, "rooms/R/presence/me"); got != "" {
		t.Errorf("own presence survived disconnect: %s", got)
	}
	if got := readString(t, s, "rooms/R/presence/other"); got != "true" {
		t.Errorf("other participant's presence = %s, want true", got)
	}

	// Registrations are consumed; a second disconnect is a no-op.
	mustWrite(t, s, "rooms/R/presence/me", true)
	s.FireDisconnect()
	if got := readString(t, s, "rooms/R/presence/me"); got != "true" {
		t.Error("cleanup re-ran after registration was consumed")
	}
}

func TestMutationHookSkipsRemoteApplies(t *testing.T) {
	s := newStore(t)
	var seen []Mutation
	s.SetMutationHook(func(m Mutation) { seen = append(seen, m) })

	mustWrite(t, s, "rooms/R/created", 1)
	if err := s.ApplyRemote(Mutation{Op: "write", Path: "rooms/R/createdBy", Value: json.RawMessage(`"user_x"`)}); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}

	if len(seen) != 1 {
		t.Fatalf("hook fired %d times, want 1 (local write only)", len(seen))
	}
	if seen[0].Path != "rooms/R/created" {
		t.Errorf("hook path = %q, want rooms/R/created", seen[0].Path)
	}

	// The remote write still landed and still notified subscribers.
	if got := readString(t, s, "rooms/R/createdBy"); got != `"user_x"` {
		t.Errorf("remote value = %s, want \"user_x\"", got)
	}
}

func TestConcurrentWritersDeliverSnapshotsInMutationOrder(t *testing.T) {
	s := newStore(t)

	var mu sync.Mutex
	var last json.RawMessage
	sub, err := s.Subscribe("rooms/R/games", func(raw json.RawMessage) {
		mu.Lock()
		last = raw
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	// Each hub connection mutates from its own goroutine; a later writer's
	// snapshot must never be overtaken by an earlier writer's older one.
	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				name := fmt.Sprintf("g-%d-%d", w, i)
				if _, err := s.Append(context.Background(), "rooms/R/games", map[string]any{"name": name}); err != nil {
					t.Errorf("Append(%s) error = %v", name, err)
				}
			}
		}(w)
	}
	wg.Wait()

	// Deliveries complete before each mutation returns, so the snapshot seen
	// last is the one computed after the final mutation: the complete list.
	mu.Lock()
	defer mu.Unlock()
	var entries map[string]any
	if err := json.Unmarshal(last, &entries); err != nil {
		t.Fatalf("unmarshal last snapshot: %v", err)
	}
	if len(entries) != writers*perWriter {
		t.Errorf("last delivered snapshot has %d entries, want %d", len(entries), writers*perWriter)
	}
}

func TestNoDeliveryAfterUnsubscribeReturns(t *testing.T) {
	s := newStore(t)
	var calls atomic.Int64
	sub, err := s.Subscribe("rooms/R/created", func(json.RawMessage) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				s.WriteAtomic(context.Background(), "rooms/R/created", i)
			}
		}
	}()
	for calls.Load() < 10 {
		runtime.Gosched()
	}

	sub.Unsubscribe()
	after := calls.Load()

	// The writer keeps mutating; a stray delivery would bump the counter.
	for i := 0; i < 100; i++ {
		s.WriteAtomic(context.Background(), "rooms/R/created", i)
	}
	close(stop)
	wg.Wait()

	if got := calls.Load(); got != after {
		t.Errorf("callback ran %d times after Unsubscribe returned", got-after)
	}
}

func TestApplyRemoteNilValueRemoves(t *testing.T) {
	s := newStore(t)
	mustWrite(t, s, "rooms/R/presence/a", true)

	if err := s.ApplyRemote(Mutation{Op: "write", Path: "rooms/R/presence/a", Value: nil}); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}
	if got := readString(t, s, "rooms/R/presence/a"); got != "" {
		t.Errorf("value survived nil remote write: %s", got)
	}
}
