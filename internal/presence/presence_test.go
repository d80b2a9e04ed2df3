package presence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/wheelroom/wheelroom/internal/store"
	"github.com/wheelroom/wheelroom/internal/store/memstore"
)

func attach(t *testing.T, st *memstore.Store, identity string, onCount func(int)) *Tracker {
	t.Helper()
	tr, err := Attach(context.Background(), st, "ABC234", identity, onCount)
	if err != nil {
		t.Fatalf("Attach(%s) error = %v", identity, err)
	}
	return tr
}

func TestCountTracksJoinsAndLeaves(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clockwork.NewFakeClock())

	var counts []int
	a := attach(t, st, "user_a", func(n int) { counts = append(counts, n) })
	if a.LiveCount() != 1 {
		t.Fatalf("LiveCount() after own attach = %d, want 1", a.LiveCount())
	}

	b := attach(t, st, "user_b", nil)
	if a.LiveCount() != 2 {
		t.Errorf("LiveCount() after second join = %d, want 2", a.LiveCount())
	}
	if b.LiveCount() != 2 {
		t.Errorf("joiner's LiveCount() = %d, want 2", b.LiveCount())
	}

	b.Detach(ctx)
	if a.LiveCount() != 1 {
		t.Errorf("LiveCount() after leave = %d, want 1", a.LiveCount())
	}

	// Callback saw every transition in order.
	want := []int{1, 2, 1}
	if len(counts) != len(want) {
		t.Fatalf("onCount fired %d times %v, want %v", len(counts), counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("onCount[%d] = %d, want %d", i, counts[i], want[i])
		}
	}
	a.Detach(ctx)
}

func TestSetVisibleFlipsCountWithoutRemoving(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clockwork.NewFakeClock())

	a := attach(t, st, "user_a", nil)
	b := attach(t, st, "user_b", nil)
	defer a.Detach(ctx)
	defer b.Detach(ctx)

	if err := b.SetVisible(ctx, false); err != nil {
		t.Fatalf("SetVisible(false) error = %v", err)
	}
	if a.LiveCount() != 1 {
		t.Errorf("LiveCount() with one hidden = %d, want 1", a.LiveCount())
	}

	if err := b.SetVisible(ctx, true); err != nil {
		t.Fatalf("SetVisible(true) error = %v", err)
	}
	if a.LiveCount() != 2 {
		t.Errorf("LiveCount() after return = %d, want 2", a.LiveCount())
	}
}

// subscribeFailStore fails every Subscribe while delegating everything else.
type subscribeFailStore struct {
	*memstore.Store
}

func (s *subscribeFailStore) Subscribe(string, func(json.RawMessage)) (store.Subscription, error) {
	return nil, store.ErrUnavailable
}

func TestFailedAttachRollsBackEntry(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New(clockwork.NewFakeClock())
	st := &subscribeFailStore{Store: inner}

	if _, err := Attach(ctx, st, "ABC234", "user_a", nil); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Attach() error = %v, want ErrUnavailable", err)
	}

	raw, err := inner.ReadOnce(ctx, "rooms/ABC234/presence/user_a")
	if err != nil {
		t.Fatalf("ReadOnce() error = %v", err)
	}
	if raw != nil {
		t.Errorf("presence entry left behind after failed attach: %s", raw)
	}
}

func TestUngracefulDisconnectReclaimsEntry(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clockwork.NewFakeClock())

	a := attach(t, st, "user_a", nil)
	defer a.Detach(ctx)
	attach(t, st, "user_b", nil) // never detaches

	// The store-side cleanup stands in for the dropped connection.
	st.FireDisconnect()
	if a.LiveCount() != 0 {
		t.Errorf("LiveCount() after disconnect cleanup = %d, want 0", a.LiveCount())
	}
}
