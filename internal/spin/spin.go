// Package spin coordinates the shared wheel spin. The initiating client
// elects the outcome and broadcasts one announcement; every other client
// deterministically replays the same animation from it. Staleness windows on
// the announcement and result slots stand in for acknowledgment or locking,
// which the store does not offer.
package spin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/choices"
	"github.com/wheelroom/wheelroom/internal/room"
	"github.com/wheelroom/wheelroom/internal/store"
)

// AnnouncementWindow is how long a spin announcement stays valid. Older
// announcements (e.g. delivered as initial state to a late joiner) are
// dropped silently.
const AnnouncementWindow = 30 * time.Second

// ResultWindow is how long a result stays displayable after it was written.
const ResultWindow = 5 * time.Second

// State is the coordinator's lifecycle state. Cooldown is implicit: the
// Spinning flag alone gates re-entry.
type State int

const (
	Idle State = iota
	Spinning
)

// Config wires a Coordinator to its room.
type Config struct {
	Store    store.Store
	Code     string
	Identity string
	Clock    clockwork.Clock
	Rand     *rand.Rand

	// Choices returns the current ordered list; the coordinator never
	// caches it.
	Choices func() []room.Choice

	// OnSpinStarted fires when an animation begins; replay is true when the
	// spin was initiated elsewhere. Optional.
	OnSpinStarted func(replay bool)

	// OnResult fires when a fresh, displayable result arrives. Optional.
	OnResult func(game string)
}

// Coordinator runs the spin state machine for one client in one room.
type Coordinator struct {
	cfg Config

	mu          sync.Mutex
	state       State
	rotation    float64
	anim        Animation
	animStarted time.Time
	target      float64
	winnerIndex int

	spinSub   store.Subscription
	resultSub store.Subscription
}

// Attach subscribes to the room's announcement and result slots.
func Attach(cfg Config) (*Coordinator, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(cfg.Clock.Now().UnixNano()), 0))
	}
	c := &Coordinator{cfg: cfg}

	spinSub, err := cfg.Store.Subscribe(room.Path(cfg.Code, "spinData"), c.handleAnnouncement)
	if err != nil {
		return nil, fmt.Errorf("subscribe spin announcements: %w", err)
	}
	c.spinSub = spinSub

	resultSub, err := cfg.Store.Subscribe(room.Path(cfg.Code, "result"), c.handleResult)
	if err != nil {
		spinSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe results: %w", err)
	}
	c.resultSub = resultSub
	return c, nil
}

// InitiateSpin elects a winner, broadcasts the announcement, and starts the
// local animation without waiting for the store echo. It is a guarded no-op
// (not an error) while already spinning or with fewer than two choices.
func (c *Coordinator) InitiateSpin(ctx context.Context) error {
	list := c.cfg.Choices()

	c.mu.Lock()
	if c.state != Idle || len(list) < choices.MinToSpin {
		c.mu.Unlock()
		return nil
	}
	winner := c.cfg.Rand.IntN(len(list))
	turns := 5 + c.cfg.Rand.Float64()*5 // 5-10 full rotations
	target := turns*360 + TargetAngle(winner, len(list))
	// Reserve the spinning state so a racing second click is ignored while
	// the announcement write is in flight.
	c.state = Spinning
	c.mu.Unlock()

	ann := room.SpinData{
		TargetRotation: target,
		WinnerIndex:    winner,
		StartedBy:      c.cfg.Identity,
		Timestamp:      c.cfg.Clock.Now().UnixMilli(),
	}
	if err := c.cfg.Store.WriteAtomic(ctx, room.Path(c.cfg.Code, "spinData"), ann); err != nil {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		return fmt.Errorf("announce spin: %w", err)
	}

	c.mu.Lock()
	c.beginLocked(target, winner)
	c.mu.Unlock()

	log.Info().Str("room", c.cfg.Code).Int("winner_index", winner).Float64("target", target).Msg("spin initiated")
	if c.cfg.OnSpinStarted != nil {
		c.cfg.OnSpinStarted(false)
	}
	return nil
}

// handleAnnouncement replays spins initiated by other clients.
func (c *Coordinator) handleAnnouncement(raw json.RawMessage) {
	if raw == nil {
		return
	}
	var ann room.SpinData
	if err := json.Unmarshal(raw, &ann); err != nil {
		log.Error().Err(err).Str("room", c.cfg.Code).Msg("bad spin announcement")
		return
	}
	age := c.cfg.Clock.Now().UnixMilli() - ann.Timestamp
	if age > AnnouncementWindow.Milliseconds() {
		return // stale, e.g. initial sync on a late join
	}
	if ann.StartedBy == c.cfg.Identity {
		return // the initiator already animates locally
	}

	c.mu.Lock()
	if c.state == Spinning {
		// Redelivery of an in-flight spin must not disturb the animation.
		c.mu.Unlock()
		return
	}
	c.beginLocked(ann.TargetRotation, ann.WinnerIndex)
	c.mu.Unlock()

	log.Info().Str("room", c.cfg.Code).Str("initiator", ann.StartedBy).Msg("replaying spin")
	if c.cfg.OnSpinStarted != nil {
		c.cfg.OnSpinStarted(true)
	}
}

func (c *Coordinator) beginLocked(target float64, winner int) {
	c.state = Spinning
	c.target = target
	c.winnerIndex = winner
	c.anim = NewAnimation(c.rotation, target, Duration)
	c.animStarted = c.cfg.Clock.Now()
}

// Advance steps the in-flight animation against the clock and returns the
// current rotation plus whether a spin is still running. The host calls it
// from its frame loop; when the animation completes, Advance snaps the
// rotation and writes the result.
func (c *Coordinator) Advance(ctx context.Context) (float64, bool) {
	c.mu.Lock()
	if c.state != Spinning {
		r := c.rotation
		c.mu.Unlock()
		return r, false
	}
	rot, done := c.anim.Tick(c.cfg.Clock.Now().Sub(c.animStarted))
	if !done {
		c.rotation = rot
		c.mu.Unlock()
		return rot, true
	}
	c.rotation = math.Mod(c.target, 360)
	c.state = Idle
	winner := c.winnerIndex
	final := c.rotation
	c.mu.Unlock()

	c.writeResult(ctx, winner)
	return final, false
}

// writeResult records the winner once the animation completes. Every client
// that finishes writes it; the slot is last-write-wins and duplicates are
// harmless. A failed write is logged, never rolled back into the animation.
func (c *Coordinator) writeResult(ctx context.Context, winnerIndex int) {
	list := c.cfg.Choices()
	if winnerIndex < 0 || winnerIndex >= len(list) {
		log.Warn().Str("room", c.cfg.Code).Int("winner_index", winnerIndex).Int("choices", len(list)).
			Msg("winner index out of range at completion")
		return
	}
	res := room.Result{
		Game:      list[winnerIndex].Name,
		Timestamp: c.cfg.Clock.Now().UnixMilli(),
	}
	if err := c.cfg.Store.WriteAtomic(ctx, room.Path(c.cfg.Code, "result"), res); err != nil {
		log.Error().Err(err).Str("room", c.cfg.Code).Msg("write spin result")
	}
}

// handleResult surfaces fresh results. A client mid-animation skips it (its
// own completion will deliver the same name), as does anyone receiving an old
// result as initial subscription state.
func (c *Coordinator) handleResult(raw json.RawMessage) {
	if raw == nil || c.cfg.OnResult == nil {
		return
	}
	var res room.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		log.Error().Err(err).Str("room", c.cfg.Code).Msg("bad spin result")
		return
	}
	c.mu.Lock()
	spinning := c.state == Spinning
	c.mu.Unlock()
	if spinning {
		return
	}
	if c.cfg.Clock.Now().UnixMilli()-res.Timestamp > ResultWindow.Milliseconds() {
		return
	}
	c.cfg.OnResult(res.Game)
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rotation returns the current wheel rotation in degrees.
func (c *Coordinator) Rotation() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotation
}

// Detach drops both subscriptions.
func (c *Coordinator) Detach() {
	if c.spinSub != nil {
		c.spinSub.Unsubscribe()
		c.spinSub = nil
	}
	if c.resultSub != nil {
		c.resultSub.Unsubscribe()
		c.resultSub = nil
	}
}
