// Package wheel renders the wheel state as a text frame: a pure function
// from (ordered choice names, rotation angle) to lines, with no knowledge of
// how the list or the angle were synchronized.
package wheel

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wheelroom/wheelroom/internal/spin"
)

// maxLabel is the widest a slice label renders before truncation.
const maxLabel = 24

// Frame renders one static frame. The slice under the pointer is marked; any
// label over maxLabel characters is cut with an ellipsis rather than bleeding
// into the next line.
func Frame(names []string, rotation float64) string {
	var b strings.Builder
	if len(names) == 0 {
		b.WriteString("  (add choices to spin)\n")
		return b.String()
	}

	pointer := spin.PointerIndex(len(names), rotation)
	slice := 360.0 / float64(len(names))
	for i, name := range names {
		marker := "  "
		if i == pointer {
			marker = "▶ "
		}
		fmt.Fprintf(&b, "%s%-*s %5.1f°\n", marker, maxLabel, Truncate(name, maxLabel), float64(i)*slice)
	}
	return b.String()
}

// Truncate cuts s to max characters, replacing the tail with an ellipsis.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
