package lifecycle

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"because/internal/domain"
)

// MinReasonLength is the shortest reason accepted for a new item.
const MinReasonLength = 4

// vagueWords carry no information on their own.
var vagueWords = map[string]bool{
	"cool": true, "nice": true, "good": true, "great": true, "interesting": true,
	"awesome": true, "useful": true, "later": true, "idk": true, "stuff": true,
	"ok": true, "okay": true, "fun": true, "wow": true, "lol": true, "neat": true,
	"read": true, "todo": true, "check": true, "this": true, "it": true, "maybe": true,
}

const (
	hintContent = "Add the link or text you want to remember."
	hintReason  = "Say why this matters to you."
	hintShort   = "That reason is too short. Add a few words about why it matters."
	hintVague   = "That won't mean much later. Say what you'll use it for, e.g. \"compare with our caching approach\"."
)

// validateFields rejects empty content or reason.
func validateFields(content, reason string) error {
	if strings.TrimSpace(content) == "" {
		return &domain.ValidationError{Field: "content", Hint: hintContent}
	}
	if strings.TrimSpace(reason) == "" {
		return &domain.ValidationError{Field: "reason", Hint: hintReason}
	}
	return nil
}

// ValidateNew applies the checks for a new item: both fields present and a
// reason that says something.
func ValidateNew(content, reason string) error {
	if err := validateFields(content, reason); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		return &domain.ValidationError{Field: "reason", Hint: hintShort}
	}
	if isVague(reason) {
		return &domain.ValidationError{Field: "reason", Hint: hintVague}
	}
	return nil
}

// isVague reports a reason of at most two words that are all filler.
func isVague(reason string) bool {
	words := strings.Fields(strings.ToLower(reason))
	if len(words) == 0 || len(words) > 2 {
		return false
	}
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if !vagueWords[w] {
			return false
		}
	}
	return true
}
