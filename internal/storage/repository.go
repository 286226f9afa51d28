package storage

import (
	"context"

	"because/internal/domain"
)

// Repository is what the item lifecycle needs from persistence: whole
// collection snapshots in, whole collection snapshots out.
type Repository interface {
	// Load returns the full collection. It fails with domain.ErrUnavailable
	// only when no backend at all can be read.
	Load(ctx context.Context) ([]domain.Item, error)

	// Save replaces the persisted collection with items. A failed save leaves
	// the previous snapshot in place.
	Save(ctx context.Context, items []domain.Item) error

	// Close gracefully shuts down the underlying backends.
	Close() error
}

// PrimaryBackend is the structured, transactional store keyed by item id.
type PrimaryBackend interface {
	ReadAll(ctx context.Context) ([]domain.Item, error)
	// ReplaceAll clears every record and writes items as a single unit.
	ReplaceAll(ctx context.Context, items []domain.Item) error
	Close() error
}

// PrimaryOpener opens the primary backend. Any error means the primary is
// not usable for this session.
type PrimaryOpener func(ctx context.Context) (PrimaryBackend, error)

// FlatStore is the legacy key-value backend holding the whole collection
// under one key.
type FlatStore interface {
	Get(ctx context.Context) ([]domain.Item, error)
	Set(ctx context.Context, items []domain.Item) error
	Remove(ctx context.Context) error
}
