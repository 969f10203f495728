// Package utils provides shared helpers for text and logging.
package utils

import "unicode/utf8"

// Truncate shortens s to at most maxLen runes, appending "..." when it cut
// anything. A non-positive maxLen returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
