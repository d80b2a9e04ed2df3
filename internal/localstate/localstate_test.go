package localstate

import (
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", path, err)
	}
	return s
}

func TestGetAbsentKeyIsEmpty(t *testing.T) {
	s := openTemp(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	v, err := s.Get("nothing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "" {
		t.Errorf("Get() = %q, want empty string for absent key", v)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := openTemp(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	if err := s.Set("k", "one"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("k", "two"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, _ := s.Get("k"); v != "two" {
		t.Errorf("Get() after overwrite = %q, want two", v)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	s := openTemp(t, path)
	if err := s.Set("identity", "user_abc123def"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openTemp(t, path)
	defer s.Close()
	if v, _ := s.Get("identity"); v != "user_abc123def" {
		t.Errorf("Get() after reopen = %q, want user_abc123def", v)
	}
}
