package memory

import (
	"fmt"
	"strings"
)

// FormatRecall renders ranked memories one per line, content truncated to
// width runes.
func FormatRecall(ranked []Ranked, width int) []string {
	lines := make([]string, 0, len(ranked))
	for _, r := range ranked {
		content := strings.ReplaceAll(r.Item.Content, "\n", " ")
		lines = append(lines, fmt.Sprintf("[%.3f] %s", r.Score, Truncate(content, width)))
	}
	return lines
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
