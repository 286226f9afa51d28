package lifecycle

import (
	"context"
	"time"

	"because/internal/domain"
)

type deleteState int

const (
	deletePending deleteState = iota
	deleteCommitted
	deleteCancelled
)

// pendingDelete tracks one removal inside its grace window.
type pendingDelete struct {
	item     domain.Item
	index    int
	deadline time.Time
	state    deleteState
	timer    *time.Timer
}

// PendingDelete describes a removal that can still be undone.
type PendingDelete struct {
	Item     domain.Item
	Deadline time.Time
}

// Delete removes the item from the collection immediately and commits the
// removal to storage once the undo window passes.
func (m *Manager) Delete(id string) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.Item{}, domain.ErrClosed
	}

	idx := m.indexLocked(id)
	if idx < 0 {
		return domain.Item{}, domain.ErrNotFound
	}
	item := m.items[idx]
	m.items = append(m.items[:idx:idx], m.items[idx+1:]...)

	pd := &pendingDelete{
		item:     item,
		index:    idx,
		deadline: m.now().Add(m.undoWindow),
		state:    deletePending,
	}
	pd.timer = time.AfterFunc(m.undoWindow, func() { m.commitDelete(pd) })
	m.pending = append(m.pending, pd)

	m.log.WithField("item_id", id).Info("Item deleted, awaiting commit")
	return item.Clone(), nil
}

// Undo restores the most recent delete still inside its window, at the
// position it was removed from.
func (m *Manager) Undo() (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending)
	if n == 0 {
		return domain.Item{}, domain.ErrNothingToUndo
	}
	pd := m.pending[n-1]
	m.pending = m.pending[:n-1]
	pd.timer.Stop()
	pd.state = deleteCancelled

	m.items = insertAt(m.items, pd.index, pd.item)
	m.log.WithField("item_id", pd.item.ID).Info("Delete undone")
	return pd.item.Clone(), nil
}

// Pending lists deletes that can still be undone, oldest first.
func (m *Manager) Pending() []PendingDelete {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingDelete, 0, len(m.pending))
	for _, pd := range m.pending {
		out = append(out, PendingDelete{Item: pd.item.Clone(), Deadline: pd.deadline})
	}
	return out
}

// commitDelete runs when the grace window elapses. A failed write is logged
// and kept for TakeBackgroundError; the removal is not reverted.
func (m *Manager) commitDelete(pd *pendingDelete) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pd.state != deletePending {
		return
	}
	pd.state = deleteCommitted
	m.dropPendingLocked(pd)

	log := m.log.WithField("item_id", pd.item.ID)
	if err := m.saveLocked(context.Background(), m.items); err != nil {
		log.WithError(err).Warn("Failed to commit delete")
		m.bgErr = err
		return
	}
	log.Debug("Delete committed")
}

func (m *Manager) dropPendingLocked(pd *pendingDelete) {
	for i, p := range m.pending {
		if p == pd {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}
