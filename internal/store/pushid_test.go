package store

import (
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestPushIDFormat(t *testing.T) {
	g := NewPushIDGenerator(clockwork.NewFakeClock())
	id := g.Next()

	if len(id) != 20 {
		t.Fatalf("Next() length = %d, want 20", len(id))
	}
	for i, c := range id {
		if !contains(pushAlphabet, byte(c)) {
			t.Errorf("Next() char %d = %q, not in alphabet", i, c)
		}
	}
}

func TestPushIDOrderAcrossMilliseconds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewPushIDGenerator(clock)

	var ids []string
	for i := 0; i < 50; i++ {
		ids = append(ids, g.Next())
		clock.Advance(time.Millisecond)
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("ids generated across milliseconds are not in lexical order")
	}
}

func TestPushIDOrderWithinMillisecond(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewPushIDGenerator(clock)

	// Same timestamp prefix forces ordering onto the random suffix.
	var ids []string
	for i := 0; i < 100; i++ {
		ids = append(ids, g.Next())
	}

	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("id %d %q not strictly greater than %q", i, ids[i], ids[i-1])
		}
		if ids[i][:8] != ids[i-1][:8] {
			t.Fatalf("timestamp prefix changed within one millisecond: %q vs %q", ids[i-1], ids[i])
		}
	}
}

func TestPushIDTimestampEncodesClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewPushIDGenerator(clock)

	before := g.Next()
	clock.Advance(time.Hour)
	after := g.Next()

	if before[:8] >= after[:8] {
		t.Errorf("timestamp prefix did not advance with the clock: %q vs %q", before[:8], after[:8])
	}
}

func contains(alphabet string, c byte) bool {
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == c {
			return true
		}
	}
	return false
}
