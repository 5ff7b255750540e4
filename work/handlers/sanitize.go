package handlers

import (
	"strings"

	"github.com/grafana/regexp"
)

// maxInputLength caps free text filters
const maxInputLength = 200

var (
	// control characters and characters with meaning in HTML or SQL
	unsafeChars = regexp.MustCompile(`[\x00-\x1f\x7f<>"'` + "`" + `;\\]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SanitizeInput neutralizes a free text search filter before it reaches the
// directory: whitespace runs collapse to one space, unsafe characters are
// dropped, and the result is trimmed and capped.
func SanitizeInput(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = unsafeChars.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if r := []rune(s); len(r) > maxInputLength {
		s = strings.TrimSpace(string(r[:maxInputLength]))
	}
	return s
}
