package classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"because/internal/domain"
)

// Result is the outcome of parsing a classification response: either a
// list of valid labels or the fallback.
type Result struct {
	Labels   []domain.Topic
	Fallback bool
}

// FallbackResult is the result used whenever classification cannot produce
// a label.
func FallbackResult() Result {
	return Result{Fallback: true}
}

// Topics returns the labels to store, which is {Other} for a fallback.
func (r Result) Topics() []domain.Topic {
	if r.Fallback || len(r.Labels) == 0 {
		return domain.FallbackTopics()
	}
	return append([]domain.Topic(nil), r.Labels...)
}

var arrayPattern = regexp.MustCompile(`\[[\s\S]*?\]`)

// ExtractArray returns the first bracketed, array-looking substring of text.
func ExtractArray(text string) (string, bool) {
	m := arrayPattern.FindString(text)
	return m, m != ""
}

// ParseResponse turns free model text into labels. Prose around the array is
// ignored, and a bare JSON value is treated as a one-element list.
func ParseResponse(text string) Result {
	var raw any
	if m, ok := ExtractArray(text); ok {
		if err := json.Unmarshal([]byte(m), &raw); err != nil {
			return FallbackResult()
		}
	} else if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return FallbackResult()
	}
	return labelsFrom(raw)
}

func labelsFrom(raw any) Result {
	elems, ok := raw.([]any)
	if !ok {
		elems = []any{raw}
	}
	strs := make([]string, 0, len(elems))
	for _, e := range elems {
		switch v := e.(type) {
		case nil:
		case string:
			strs = append(strs, v)
		default:
			strs = append(strs, fmt.Sprint(v))
		}
	}
	labels := domain.NormalizeTopics(strs)
	if len(labels) == 0 {
		return FallbackResult()
	}
	return Result{Labels: labels}
}
