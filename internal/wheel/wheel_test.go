package wheel

import (
	"strings"
	"testing"

	"github.com/wheelroom/wheelroom/internal/spin"
)

func TestFrameMarksPointerSlice(t *testing.T) {
	names := []string{"Chess", "Go", "Poker"}
	rotation := spin.TargetAngle(1, len(names))

	frame := Frame(names, rotation)
	lines := strings.Split(strings.TrimRight(frame, "\n"), "\n")
	if len(lines) != len(names) {
		t.Fatalf("frame has %d lines, want %d", len(lines), len(names))
	}
	for i, line := range lines {
		marked := strings.HasPrefix(line, "▶")
		if marked != (i == 1) {
			t.Errorf("line %d marked = %v, want %v: %q", i, marked, i == 1, line)
		}
		if !strings.Contains(line, names[i]) {
			t.Errorf("line %d missing name %q: %q", i, names[i], line)
		}
	}
}

func TestFrameEmptyList(t *testing.T) {
	frame := Frame(nil, 0)
	if !strings.Contains(frame, "add choices") {
		t.Errorf("empty frame = %q, want placeholder text", frame)
	}
}

func TestFrameLongNameStaysOnOneLine(t *testing.T) {
	long := strings.Repeat("x", 30)
	frame := Frame([]string{long, "Go"}, 0)
	for _, line := range strings.Split(strings.TrimRight(frame, "\n"), "\n") {
		if strings.Contains(line, long) {
			t.Errorf("untruncated long name rendered: %q", line)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short unchanged", "Chess", 24, "Chess"},
		{"exact unchanged", "abcd", 4, "abcd"},
		{"cut with ellipsis", "abcdef", 4, "abc…"},
		{"multibyte counted as runes", "ääääää", 4, "äää…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}
