package classify

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Length ceilings applied after sanitizing.
const (
	MaxContentLen = 2000
	MaxReasonLen  = 1000
)

const promptTemplate = `Classify this bookmark into 1-3 topics from the list below. Respond with ONLY a JSON array, nothing else.
Topics: Learning, Ideas, Reference, Work, Inspiration, Personal, Other.

Content: [%s]
Because: [%s]

Example response: ["Learning", "Reference"]`

var sanitizer = strings.NewReplacer(
	"\r", " ",
	"\n", " ",
	"\t", " ",
	`"`, "'",
)

// Sanitize flattens control whitespace, swaps double quotes for single
// quotes, trims, and truncates to maxLen runes.
func Sanitize(s string, maxLen int) string {
	s = strings.TrimSpace(sanitizer.Replace(s))
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	return s
}

// BuildPrompt renders the classification instruction. Inputs must already
// be sanitized.
func BuildPrompt(content, reason string) string {
	return fmt.Sprintf(promptTemplate, content, reason)
}
