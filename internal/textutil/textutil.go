// Package textutil provides small string-shortening helpers shared by
// the logger's console mirror and the subagent scope's debug previews.
package textutil

// Truncate returns s unchanged if it is at most maxLen bytes, otherwise
// its first maxLen bytes.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// TruncateWithEllipsis is Truncate but replaces the cut point with "..."
// once maxLen allows room for it.
func TruncateWithEllipsis(s string, maxLen int) string {
	if maxLen < 4 {
		return Truncate(s, maxLen)
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
