// Package session ties the room components to one joined room. A Session is
// the explicit context object handed to the UI layer: component lifecycles
// are bound to room entry and exit instead of living in globals.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/choices"
	"github.com/wheelroom/wheelroom/internal/localstate"
	"github.com/wheelroom/wheelroom/internal/presence"
	"github.com/wheelroom/wheelroom/internal/quota"
	"github.com/wheelroom/wheelroom/internal/room"
	"github.com/wheelroom/wheelroom/internal/spin"
	"github.com/wheelroom/wheelroom/internal/store"
)

// Options configures room entry. Store, State, Code and Identity are
// required; callbacks and Clock/Rand are optional.
type Options struct {
	Store    store.Store
	State    *localstate.Store
	Code     string
	Identity string
	Clock    clockwork.Clock
	Rand     *rand.Rand

	OnPresence    func(count int)
	OnChoices     func(list []room.Choice)
	OnSpinStarted func(replay bool)
	OnResult      func(game string)
}

// Session is one participant's attachment to one room.
type Session struct {
	Code     string
	Identity string

	Presence *presence.Tracker
	Choices  *choices.Synchronizer
	Spin     *spin.Coordinator
	Quota    *quota.Tracker
}

// Enter attaches presence, the choice synchronizer and the spin coordinator
// to the room. On any failure it detaches whatever already attached.
func Enter(ctx context.Context, opts Options) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	q, err := quota.NewTracker(opts.State, opts.Code)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}

	pres, err := presence.Attach(ctx, opts.Store, opts.Code, opts.Identity, opts.OnPresence)
	if err != nil {
		return nil, fmt.Errorf("attach presence: %w", err)
	}

	syn, err := choices.Attach(ctx, opts.Store, opts.Code, opts.Identity, q, opts.Clock, opts.OnChoices)
	if err != nil {
		pres.Detach(ctx)
		return nil, fmt.Errorf("attach choices: %w", err)
	}

	coord, err := spin.Attach(spin.Config{
		Store:         opts.Store,
		Code:          opts.Code,
		Identity:      opts.Identity,
		Clock:         opts.Clock,
		Rand:          opts.Rand,
		Choices:       syn.Choices,
		OnSpinStarted: opts.OnSpinStarted,
		OnResult:      opts.OnResult,
	})
	if err != nil {
		syn.Detach()
		pres.Detach(ctx)
		return nil, fmt.Errorf("attach spin coordinator: %w", err)
	}

	log.Info().Str("room", opts.Code).Str("participant", opts.Identity).Msg("entered room")
	return &Session{
		Code:     opts.Code,
		Identity: opts.Identity,
		Presence: pres,
		Choices:  syn,
		Spin:     coord,
		Quota:    q,
	}, nil
}

// Leave detaches every component and removes this participant's presence.
func (s *Session) Leave(ctx context.Context) {
	s.Spin.Detach()
	s.Choices.Detach()
	s.Presence.Detach(ctx)
	log.Info().Str("room", s.Code).Str("participant", s.Identity).Msg("left room")
}
