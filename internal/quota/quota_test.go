package quota

import (
	"path/filepath"
	"testing"

	"github.com/wheelroom/wheelroom/internal/localstate"
)

func openState(t *testing.T, path string) *localstate.Store {
	t.Helper()
	s, err := localstate.Open(path)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	return s
}

func TestTrackerCap(t *testing.T) {
	state := openState(t, filepath.Join(t.TempDir(), "state.db"))
	defer state.Close()

	tr, err := NewTracker(state, "ABC234")
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}

	for i := 0; i < DefaultCap; i++ {
		if !tr.CanSubmit() {
			t.Fatalf("CanSubmit() = false at %d used, want true", i)
		}
		if got := tr.Remaining(); got != DefaultCap-i {
			t.Errorf("Remaining() = %d, want %d", got, DefaultCap-i)
		}
		if err := tr.Record(); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	if tr.CanSubmit() {
		t.Error("CanSubmit() = true after cap reached, want false")
	}
	if got := tr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestTrackerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	state := openState(t, path)
	tr, err := NewTracker(state, "ABC234")
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	tr.Record()
	state.Close()

	state = openState(t, path)
	defer state.Close()
	tr, err = NewTracker(state, "ABC234")
	if err != nil {
		t.Fatalf("NewTracker() after reopen error = %v", err)
	}
	if got := tr.Remaining(); got != DefaultCap-1 {
		t.Errorf("Remaining() after reopen = %d, want %d", got, DefaultCap-1)
	}
}

func TestTrackerIsPerRoom(t *testing.T) {
	state := openState(t, filepath.Join(t.TempDir(), "state.db"))
	defer state.Close()

	first, _ := NewTracker(state, "AAAAAA")
	for i := 0; i < DefaultCap; i++ {
		first.Record()
	}

	second, _ := NewTracker(state, "BBBBBB")
	if !second.CanSubmit() {
		t.Error("quota spent in one room leaked into another")
	}
}
