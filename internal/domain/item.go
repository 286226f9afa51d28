package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item is one saved "content + reason" pair.
type Item struct {
	// ID is generated at creation and never reused.
	ID string `json:"id"`

	// Content is the thing being remembered, usually a URL.
	Content string `json:"content"`

	// Reason says why it matters and drives classification.
	Reason string `json:"reason"`

	CreatedAt time.Time `json:"createdAt"`

	// Topics is empty until the first classification completes.
	Topics []Topic `json:"topics,omitempty"`

	// Classifying marks an in-flight classification. Never persisted.
	Classifying bool `json:"-"`
}

// NewItem creates an item with a fresh id and trimmed fields.
func NewItem(content, reason string, createdAt time.Time) Item {
	return Item{
		ID:        uuid.NewString(),
		Content:   strings.TrimSpace(content),
		Reason:    strings.TrimSpace(reason),
		CreatedAt: createdAt,
	}
}

// Clone returns a copy that shares no slices with it.
func (i Item) Clone() Item {
	if i.Topics != nil {
		i.Topics = append([]Topic(nil), i.Topics...)
	}
	return i
}

// EffectiveTopics returns the item's topics, or {Other} when none are set.
func (i Item) EffectiveTopics() []Topic {
	if len(i.Topics) == 0 {
		return FallbackTopics()
	}
	return i.Topics
}

// HasTopic reports whether t is among the item's effective topics.
func (i Item) HasTopic(t Topic) bool {
	for _, have := range i.EffectiveTopics() {
		if have == t {
			return true
		}
	}
	return false
}

// CopyText is the clipboard form of the item.
func (i Item) CopyText() string {
	return i.Content + "\nBecause " + i.Reason
}

// CloneItems deep-copies a collection snapshot.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for idx, it := range items {
		out[idx] = it.Clone()
	}
	return out
}
