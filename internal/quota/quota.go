// Package quota enforces the per-room, per-device submission cap. Counters
// are device-local and client-trusted: a participant with several devices can
// exceed the intended per-person cap, which is a documented limitation.
package quota

import (
	"strconv"

	"github.com/wheelroom/wheelroom/internal/localstate"
)

// DefaultCap is the number of choices one device may add per room.
const DefaultCap = 2

// Tracker counts submissions for one (device, room) pair.
type Tracker struct {
	state *localstate.Store
	key   string
	used  int
	cap   int
}

// NewTracker loads the persisted counter for roomCode.
func NewTracker(state *localstate.Store, roomCode string) (*Tracker, error) {
	key := "suggestions_" + roomCode
	raw, err := state.Get(key)
	if err != nil {
		return nil, err
	}
	used := 0
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			used = n
		}
	}
	return &Tracker{state: state, key: key, used: used, cap: DefaultCap}, nil
}

// CanSubmit reports whether another submission is allowed.
func (t *Tracker) CanSubmit() bool {
	return t.used < t.cap
}

// Remaining returns how many submissions are left.
func (t *Tracker) Remaining() int {
	if r := t.cap - t.used; r > 0 {
		return r
	}
	return 0
}

// Record increments and persists the counter. Call it only after a confirmed
// store write.
func (t *Tracker) Record() error {
	t.used++
	return t.state.Set(t.key, strconv.Itoa(t.used))
}
