// Package strings holds small text helpers for terminal output.
package strings

import (
	"strings"
)

// ChallengeColumnWidth is the width challenges are cut to in status tables.
const ChallengeColumnWidth = 60

// minWidth leaves room for one character plus the ellipsis.
const minWidth = 4

// Ellipsis marks text that was cut.
const Ellipsis = "..."

// Truncate collapses all whitespace in s to single spaces and cuts the
// result to at most width runes, ending it with Ellipsis when anything
// was removed. Widths below 4 are raised to 4.
func Truncate(s string, width int) string {
	if width < minWidth {
		width = minWidth
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-len(Ellipsis)]) + Ellipsis
}

// Challenge shortens a WWW-Authenticate value for a table cell. Header
// values can repeat the scheme list across several lines, so it is
// flattened before cutting.
func Challenge(s string) string {
	return Truncate(s, ChallengeColumnWidth)
}
