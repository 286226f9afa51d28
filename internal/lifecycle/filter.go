package lifecycle

import (
	"strings"

	"because/internal/domain"
)

// Filter returns the items matching query and topic, in collection order.
// An empty query matches everything; query matches case-insensitively
// against content and reason. An empty topic disables the topic filter.
func (m *Manager) Filter(query string, topic domain.Topic) []domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterItems(m.items, query, topic)
}

func filterItems(items []domain.Item, query string, topic domain.Topic) []domain.Item {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if q != "" &&
			!strings.Contains(strings.ToLower(it.Content), q) &&
			!strings.Contains(strings.ToLower(it.Reason), q) {
			continue
		}
		if topic != "" && !it.HasTopic(topic) {
			continue
		}
		out = append(out, it.Clone())
	}
	return out
}

// Stats is the topic distribution of the collection. Labels, Counts and
// Values line up index by index.
type Stats struct {
	Labels []domain.Topic
	Counts []int
	// Values are Counts scaled so the largest is 100.
	Values []float64
}

// Stats counts items per topic. Every label but Other counts items carrying
// it; Other counts items that carry none of the others.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeStats(m.items)
}

func computeStats(items []domain.Item) Stats {
	if len(items) == 0 {
		return Stats{Labels: []domain.Topic{}, Counts: []int{}, Values: []float64{}}
	}

	var labels []domain.Topic
	for _, t := range domain.AllTopics {
		if t != domain.TopicOther {
			labels = append(labels, t)
		}
	}
	counts := make([]int, len(labels)+1)
	other := 0
	for _, it := range items {
		matched := false
		for i, t := range labels {
			if it.HasTopic(t) {
				counts[i]++
				matched = true
			}
		}
		if !matched {
			other++
		}
	}
	counts[len(labels)] = other
	labels = append(labels, domain.TopicOther)

	highest := 1
	for _, c := range counts {
		if c > highest {
			highest = c
		}
	}
	values := make([]float64, len(counts))
	for i, c := range counts {
		values[i] = float64(c) / float64(highest) * 100
	}
	return Stats{Labels: labels, Counts: counts, Values: values}
}
