package security

import (
	"strings"
	"unicode/utf8"
)

// MaxValueLen caps a single template value, in bytes.
const MaxValueLen = 1024

// SanitizeValue cleans an event value before it is substituted into a
// command argument. Control characters other than tab and newline are
// dropped, and the result is cut to MaxValueLen on a rune boundary.
func SanitizeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if (r < 0x20 && r != '\t' && r != '\n') || r == 0x7f {
			continue
		}
		if b.Len()+utf8.RuneLen(r) > MaxValueLen {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
