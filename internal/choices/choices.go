// Package choices keeps each client's view of the shared, append-only choice
// list. Entries are ordered by their store-assigned insertion key, so every
// client derives the identical sequence regardless of notification arrival
// order.
package choices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/room"
	"github.com/wheelroom/wheelroom/internal/store"
)

// MaxNameLength is the display-name limit in characters.
const MaxNameLength = 30

// MinToSpin is the number of choices required before a spin is allowed.
const MinToSpin = 2

var (
	// ErrEmptyInput is returned for blank names.
	ErrEmptyInput = errors.New("empty choice name")
	// ErrQuotaExceeded is returned when the local submission quota is spent.
	ErrQuotaExceeded = errors.New("submission quota exceeded")
	// ErrTooLong is returned for names over MaxNameLength characters.
	ErrTooLong = errors.New("choice name too long")
	// ErrDuplicateName is returned when the name is already in the local
	// view (case-insensitive). The check is best-effort: a race between two
	// clients can still insert both.
	ErrDuplicateName = errors.New("choice already on the wheel")
)

// Quota is what the synchronizer needs from the local quota tracker.
type Quota interface {
	CanSubmit() bool
	Record() error
}

// Synchronizer maintains the ordered local view of one room's choice list.
type Synchronizer struct {
	st       store.Store
	code     string
	identity string
	quota    Quota
	clock    clockwork.Clock
	onChange func([]room.Choice)

	mu   sync.Mutex
	list []room.Choice
	sub  store.Subscription
}

type record struct {
	Name      string `json:"name"`
	AddedBy   string `json:"addedBy"`
	Timestamp int64  `json:"timestamp"`
}

// Attach subscribes to the room's choice collection. onChange may be nil; it
// receives the freshly ordered list after every notification.
func Attach(ctx context.Context, st store.Store, code, identity string, q Quota, clock clockwork.Clock, onChange func([]room.Choice)) (*Synchronizer, error) {
	s := &Synchronizer{
		st:       st,
		code:     code,
		identity: identity,
		quota:    q,
		clock:    clock,
		onChange: onChange,
	}
	sub, err := st.Subscribe(room.Path(code, "games"), s.handleSnapshot)
	if err != nil {
		return nil, fmt.Errorf("subscribe choices: %w", err)
	}
	s.sub = sub
	return s, nil
}

func (s *Synchronizer) handleSnapshot(raw json.RawMessage) {
	entries := map[string]record{}
	if raw != nil {
		if err := json.Unmarshal(raw, &entries); err != nil {
			log.Error().Err(err).Str("room", s.code).Msg("bad choices snapshot")
			return
		}
	}

	list := make([]room.Choice, 0, len(entries))
	for key, rec := range entries {
		list = append(list, room.Choice{
			Key:       key,
			Name:      rec.Name,
			AddedBy:   rec.AddedBy,
			Timestamp: rec.Timestamp,
		})
	}
	// Insertion keys are the sole sort key; ascending lexical order equals
	// insertion order across all writers.
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })

	s.mu.Lock()
	s.list = list
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(list)
	}
}

// AddChoice validates name and appends it to the shared collection. The
// quota counter is incremented only after the write is confirmed.
func (s *Synchronizer) AddChoice(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyInput
	}
	if !s.quota.CanSubmit() {
		return ErrQuotaExceeded
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrTooLong
	}
	s.mu.Lock()
	for _, c := range s.list {
		if strings.EqualFold(c.Name, name) {
			s.mu.Unlock()
			return ErrDuplicateName
		}
	}
	s.mu.Unlock()

	rec := record{Name: name, AddedBy: s.identity, Timestamp: s.clock.Now().UnixMilli()}
	key, err := s.st.Append(ctx, room.Path(s.code, "games"), rec)
	if err != nil {
		return fmt.Errorf("add choice: %w", err)
	}
	if err := s.quota.Record(); err != nil {
		log.Error().Err(err).Str("room", s.code).Msg("persist quota counter")
	}
	log.Debug().Str("room", s.code).Str("key", key).Str("name", name).Msg("choice added")
	return nil
}

// Choices returns a copy of the current ordered list.
func (s *Synchronizer) Choices() []room.Choice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]room.Choice, len(s.list))
	copy(out, s.list)
	return out
}

// Count returns the current list length.
func (s *Synchronizer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// CanSpin reports whether the room has enough choices for a spin.
func (s *Synchronizer) CanSpin() bool {
	return s.Count() >= MinToSpin
}

// Detach drops the subscription.
func (s *Synchronizer) Detach() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}
