package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/store"
)

// ErrInvalidCode is returned for join input that is not a 6-character code.
var ErrInvalidCode = errors.New("invalid room code")

// ErrRoomNotFound is returned when a join code does not exist in the store.
var ErrRoomNotFound = errors.New("room not found")

// Directory creates rooms and verifies join codes against the shared store.
type Directory struct {
	store    store.Store
	identity string
	clock    clockwork.Clock
}

// NewDirectory returns a directory acting as participant identity. A nil
// clock falls back to the wall clock.
func NewDirectory(st store.Store, identity string, clock clockwork.Clock) *Directory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Directory{store: st, identity: identity, clock: clock}
}

// CreateRoom generates a code and writes a fresh room record. The code is not
// checked for collision.
func (d *Directory) CreateRoom(ctx context.Context) (string, error) {
	if d.store == nil {
		return "", store.ErrUnavailable
	}
	code := NewCode()
	rec := Record{
		Created:   d.clock.Now().UnixMilli(),
		CreatedBy: d.identity,
	}
	if err := d.store.WriteAtomic(ctx, Path(code), rec); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	log.Info().Str("room", code).Str("participant", d.identity).Msg("room created")
	return code, nil
}

// JoinRoom validates raw and performs a point-in-time existence check.
// Invalid input never touches the store.
func (d *Directory) JoinRoom(ctx context.Context, raw string) (string, error) {
	code := NormalizeCode(raw)
	if len(code) != CodeLength {
		return "", ErrInvalidCode
	}
	if d.store == nil {
		return "", store.ErrUnavailable
	}
	snap, err := d.store.ReadOnce(ctx, Path(code))
	if err != nil {
		return "", fmt.Errorf("join room %s: %w", code, err)
	}
	if snap == nil {
		return "", ErrRoomNotFound
	}
	log.Info().Str("room", code).Str("participant", d.identity).Msg("room joined")
	return code, nil
}
