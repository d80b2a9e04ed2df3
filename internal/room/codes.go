package room

import (
	"math/rand/v2"
	"strings"
)

// CodeAlphabet excludes glyphs that read ambiguously when shared out loud or
// scrawled on a napkin (0/O, 1/I).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed room code length. 32^6 combinations make collisions
// on random generation astronomically unlikely; there is deliberately no
// collision retry.
const CodeLength = 6

// NewCode returns a fresh random room code.
func NewCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(CodeAlphabet[rand.IntN(len(CodeAlphabet))])
	}
	return b.String()
}

// NormalizeCode trims and upper-cases user input so codes survive copy/paste.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
