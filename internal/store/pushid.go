package store

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

// pushAlphabet is ordered by ASCII value so that generated keys sort
// lexicographically in generation order.
const pushAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// PushIDGenerator produces 20-character keys: 8 characters encode the
// millisecond timestamp, 12 are random. Keys generated in the same
// millisecond reuse the previous random suffix incremented by one, keeping
// the sequence strictly increasing per generator.
type PushIDGenerator struct {
	clock clockwork.Clock

	mu       sync.Mutex
	lastMs   int64
	lastRand [12]int
}

// NewPushIDGenerator returns a generator backed by clock.
func NewPushIDGenerator(clock clockwork.Clock) *PushIDGenerator {
	return &PushIDGenerator{clock: clock}
}

// Next returns the next push key.
func (g *PushIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UnixMilli()
	if now == g.lastMs {
		// Same millisecond: increment the previous random suffix.
		for i := len(g.lastRand) - 1; i >= 0; i-- {
			if g.lastRand[i] < len(pushAlphabet)-1 {
				g.lastRand[i]++
				break
			}
			g.lastRand[i] = 0
		}
	} else {
		for i := range g.lastRand {
			g.lastRand[i] = rand.IntN(len(pushAlphabet))
		}
	}
	g.lastMs = now

	var b strings.Builder
	b.Grow(20)

	var ts [8]byte
	ms := now
	for i := 7; i >= 0; i-- {
		ts[i] = pushAlphabet[ms%64]
		ms /= 64
	}
	b.Write(ts[:])

	for _, idx := range g.lastRand {
		b.WriteByte(pushAlphabet[idx])
	}
	return b.String()
}
