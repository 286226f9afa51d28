package domain

import "strings"

// Topic is one label from the closed classification set.
type Topic string

const (
	TopicLearning    Topic = "Learning"
	TopicIdeas       Topic = "Ideas"
	TopicReference   Topic = "Reference"
	TopicWork        Topic = "Work"
	TopicInspiration Topic = "Inspiration"
	TopicPersonal    Topic = "Personal"
	TopicOther       Topic = "Other"
)

// MaxTopics is the most labels an item may carry.
const MaxTopics = 3

// AllTopics lists the closed label set in display order.
var AllTopics = []Topic{
	TopicLearning,
	TopicIdeas,
	TopicReference,
	TopicWork,
	TopicInspiration,
	TopicPersonal,
	TopicOther,
}

// ParseTopic matches s case-insensitively against the closed set, ignoring
// surrounding whitespace, and returns the canonical label.
func ParseTopic(s string) (Topic, bool) {
	s = strings.TrimSpace(s)
	for _, t := range AllTopics {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// NormalizeTopics keeps the recognised labels of raw in order, drops
// duplicates and caps the result at MaxTopics. The result may be empty.
func NormalizeTopics(raw []string) []Topic {
	var out []Topic
	seen := make(map[Topic]bool, len(raw))
	for _, r := range raw {
		t, ok := ParseTopic(r)
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}

// FallbackTopics is the label list used whenever classification fails.
func FallbackTopics() []Topic {
	return []Topic{TopicOther}
}
