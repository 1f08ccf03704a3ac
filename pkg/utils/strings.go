package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseBool interprets the truthy spellings commonly found in env files.
// Everything else, including the empty string, is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	}
	return false
}

// trimQuotes strips one matching pair of surrounding quotes.
func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// findInlineCommentIndex returns the index of the # starting an inline
// comment, or -1. A # inside quotes or preceded by a backslash does not
// count.
func findInlineCommentIndex(line string) int {
	var quote byte
	escaped := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '#':
			return i
		}
	}
	return -1
}

// findClosingQuoteIndex returns the index of the closing quote, honoring
// backslash escapes. s[0] must be the opening quote.
func findClosingQuoteIndex(s string, quote byte) int {
	escaped := false
	for i := 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == quote:
			return i
		}
	}
	return -1
}

// SplitKeyValue parses a KEY=value line, handling quoted values and inline
// comments: KEY="value" # comment.
func SplitKeyValue(line string) (string, string, bool) {
	rawKey, rawValue, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}

	key := strings.TrimSpace(rawKey)
	value := strings.TrimSpace(rawValue)

	if strings.HasPrefix(value, `"`) || strings.HasPrefix(value, "'") {
		if end := findClosingQuoteIndex(value, value[0]); end >= 0 {
			value = value[:end+1]
		}
	} else if idx := findInlineCommentIndex(value); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}

	return key, trimQuotes(value), true
}

// IsComment reports whether a line carries no configuration: blank or
// starting with #.
func IsComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// GenerateRandomString returns length hex characters of randomness, suitable
// for scratch file names.
func GenerateRandomString(length int) string {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// Degenerate fallback; callers only need uniqueness-ish names.
		return fmt.Sprintf("%d", length)
	}
	return hex.EncodeToString(buf)[:length]
}
