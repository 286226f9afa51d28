// Package lifecycle owns the in-memory collection for a session and routes
// every mutation through persistence and classification.
package lifecycle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"because/internal/domain"
	"because/internal/storage"
)

// Classifier resolves topic labels. It must always return a usable list.
type Classifier interface {
	Classify(ctx context.Context, content, reason string) []domain.Topic
}

// DefaultUndoWindow is the delete grace window.
const DefaultUndoWindow = 5 * time.Second

// Options configures a Manager.
type Options struct {
	UndoWindow time.Duration
	Now        func() time.Time
}

// Manager is the single source of truth for the session's collection.
//
// All state lives behind mu. Persistence calls are made with mu held, so
// writes reach the store in the order mutations were applied. Classification
// runs without the lock and re-enters through applyTopics.
type Manager struct {
	mu         sync.Mutex
	items      []domain.Item
	revs       map[string]uint64
	pending    []*pendingDelete
	repo       storage.Repository
	classifier Classifier
	undoWindow time.Duration
	now        func() time.Time
	wg         sync.WaitGroup
	closed     bool
	bgErr      error
	log        logrus.FieldLogger
}

// New creates a Manager with an empty collection. Call Load to read the
// persisted one.
func New(repo storage.Repository, classifier Classifier, opts Options, logger logrus.FieldLogger) *Manager {
	if opts.UndoWindow <= 0 {
		opts.UndoWindow = DefaultUndoWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		revs:       make(map[string]uint64),
		repo:       repo,
		classifier: classifier,
		undoWindow: opts.UndoWindow,
		now:        opts.Now,
		log:        logger.WithField("component", "lifecycle"),
	}
}

// Load replaces the in-memory collection with the persisted one.
func (m *Manager) Load(ctx context.Context) error {
	items, err := m.repo.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
	m.log.WithField("count", len(items)).Info("Collection loaded")
	return nil
}

// Items returns a copy of the collection, including classifying flags.
func (m *Manager) Items() []domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CloneItems(m.items)
}

// Get returns a copy of one item.
func (m *Manager) Get(id string) (domain.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.indexLocked(id); idx >= 0 {
		return m.items[idx].Clone(), true
	}
	return domain.Item{}, false
}

// ResolveID maps a full id, or a prefix matching exactly one item, to the
// item's id.
func (m *Manager) ResolveID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", domain.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var match string
	for _, it := range m.items {
		if it.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(it.ID, ref) {
			if match != "" {
				return "", domain.ErrAmbiguousID
			}
			match = it.ID
		}
	}
	if match == "" {
		return "", domain.ErrNotFound
	}
	return match, nil
}

// Add validates and saves a new item at the head of the collection, then
// classifies it in the background.
func (m *Manager) Add(ctx context.Context, content, reason string) (domain.Item, error) {
	content, reason = strings.TrimSpace(content), strings.TrimSpace(reason)
	if err := ValidateNew(content, reason); err != nil {
		return domain.Item{}, err
	}

	item := domain.NewItem(content, reason, m.now())
	item.Classifying = true

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.Item{}, domain.ErrClosed
	}
	m.items = append([]domain.Item{item}, m.items...)
	m.shiftPendingLocked(1)
	if err := m.saveLocked(ctx, m.items); err != nil {
		m.items = m.items[1:]
		m.shiftPendingLocked(-1)
		m.mu.Unlock()
		m.log.WithError(err).Warn("Add rolled back")
		return domain.Item{}, err
	}
	m.classifyLocked(item.ID, content, reason)
	m.mu.Unlock()

	m.log.WithField("item_id", item.ID).Info("Item added")
	return item.Clone(), nil
}

// Edit replaces an item's content and reason in place and reclassifies it.
// On failure the previous values are kept.
func (m *Manager) Edit(ctx context.Context, id, content, reason string) (domain.Item, error) {
	content, reason = strings.TrimSpace(content), strings.TrimSpace(reason)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.Item{}, domain.ErrClosed
	}
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return domain.Item{}, domain.ErrNotFound
	}
	if err := validateFields(content, reason); err != nil {
		m.mu.Unlock()
		return domain.Item{}, err
	}

	prev := m.items[idx].Clone()
	m.items[idx].Content = content
	m.items[idx].Reason = reason
	m.items[idx].Classifying = true
	if err := m.saveLocked(ctx, m.items); err != nil {
		m.items[idx] = prev
		m.mu.Unlock()
		m.log.WithError(err).WithField("item_id", id).Warn("Edit rolled back")
		return domain.Item{}, err
	}
	m.classifyLocked(id, content, reason)
	edited := m.items[idx].Clone()
	m.mu.Unlock()
	return edited, nil
}

// Reclassify asks for fresh topics. It is refused while a classification
// for the item is already running.
func (m *Manager) Reclassify(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrClosed
	}
	idx := m.indexLocked(id)
	if idx < 0 {
		return domain.ErrNotFound
	}
	if m.items[idx].Classifying {
		return domain.ErrAlreadyClassifying
	}
	m.items[idx].Classifying = true
	m.classifyLocked(id, m.items[idx].Content, m.items[idx].Reason)
	return nil
}

// Wait blocks until every background classification has been applied.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// TakeBackgroundError returns and clears the last failure from a background
// write (topic updates, delayed delete commits).
func (m *Manager) TakeBackgroundError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.bgErr
	m.bgErr = nil
	return err
}

// Close waits for classifications and commits every pending delete. Later
// mutations that would start background work fail with ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	for _, pd := range m.pending {
		pd.timer.Stop()
		pd.state = deleteCommitted
	}
	m.pending = nil
	return m.saveLocked(ctx, m.items)
}

// classifyLocked starts a classification for the item's next revision. The
// WaitGroup is incremented under mu so it never races with Close.
func (m *Manager) classifyLocked(id, content, reason string) {
	rev := m.bumpLocked(id)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		topics := m.classifier.Classify(context.Background(), content, reason)
		m.applyTopics(id, rev, topics)
	}()
}

// applyTopics stores a classification result unless the item changed since
// the request was made.
func (m *Manager) applyTopics(id string, rev uint64, topics []domain.Topic) {
	if len(topics) == 0 {
		topics = domain.FallbackTopics()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.log.WithField("item_id", id)
	if m.revs[id] != rev {
		log.Debug("Discarding stale classification")
		return
	}

	target := m.findLocked(id)
	if target == nil {
		log.Debug("Item gone before classification finished")
		return
	}
	target.Topics = append([]domain.Topic(nil), topics...)
	target.Classifying = false

	if err := m.saveLocked(context.Background(), m.items); err != nil {
		log.WithError(err).Warn("Failed to persist topics")
		m.bgErr = err
	}
}

// findLocked looks in the collection and then among pending deletes.
func (m *Manager) findLocked(id string) *domain.Item {
	if idx := m.indexLocked(id); idx >= 0 {
		return &m.items[idx]
	}
	for _, pd := range m.pending {
		if pd.item.ID == id {
			return &pd.item
		}
	}
	return nil
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) bumpLocked(id string) uint64 {
	m.revs[id]++
	return m.revs[id]
}

// saveLocked persists items together with any deletes still inside their
// grace window, so an undo never has to be written back.
func (m *Manager) saveLocked(ctx context.Context, items []domain.Item) error {
	return m.repo.Save(ctx, m.withPendingLocked(items))
}

func (m *Manager) withPendingLocked(items []domain.Item) []domain.Item {
	if len(m.pending) == 0 {
		return items
	}
	out := make([]domain.Item, len(items), len(items)+len(m.pending))
	copy(out, items)
	// Later deletes were indexed against a collection that already lacked
	// the earlier ones, so restore newest first.
	for i := len(m.pending) - 1; i >= 0; i-- {
		out = insertAt(out, m.pending[i].index, m.pending[i].item)
	}
	return out
}

// shiftPendingLocked keeps pending positions stable when n items are
// prepended to (or, for negative n, dropped from) the head.
func (m *Manager) shiftPendingLocked(n int) {
	for _, pd := range m.pending {
		pd.index += n
	}
}

// reindexPendingLocked recomputes pending positions against full, the
// collection with every pending delete still in place. Each delete is
// indexed against a collection that already lacks the earlier ones.
func (m *Manager) reindexPendingLocked(full []domain.Item) {
	removed := make(map[string]bool, len(m.pending))
	for _, pd := range m.pending {
		idx := 0
		for _, it := range full {
			if it.ID == pd.item.ID {
				break
			}
			if !removed[it.ID] {
				idx++
			}
		}
		pd.index = idx
		removed[pd.item.ID] = true
	}
}

func insertAt(items []domain.Item, idx int, it domain.Item) []domain.Item {
	if idx > len(items) {
		idx = len(items)
	}
	if idx < 0 {
		idx = 0
	}
	items = append(items, domain.Item{})
	copy(items[idx+1:], items[idx:])
	items[idx] = it
	return items
}
