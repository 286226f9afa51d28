package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"because/internal/domain"
)

// Mode is the backend selection for the current session.
type Mode int

const (
	ModeUninitialized Mode = iota
	ModePrimary
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeFallback:
		return "fallback"
	default:
		return "uninitialized"
	}
}

// Store picks between the primary and the flat backend on first use,
// migrates legacy data into the primary once, and demotes to the flat
// backend for the rest of the session when the primary fails.
//
// A Store is the session: its remembered mode lives and dies with it.
type Store struct {
	mu      sync.Mutex
	open    PrimaryOpener
	primary PrimaryBackend
	flat    FlatStore
	mode    Mode
	log     logrus.FieldLogger
}

// NewStore creates a store. Nothing is opened until the first Load or Save.
func NewStore(open PrimaryOpener, flat FlatStore, logger logrus.FieldLogger) *Store {
	return &Store{
		open: open,
		flat: flat,
		log:  logger.WithField("component", "store"),
	}
}

// Mode reports the backend currently in use.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Load returns a fresh copy of the persisted collection.
func (s *Store) Load(ctx context.Context) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeUninitialized {
		s.openPrimary(ctx)
	}
	if s.mode == ModePrimary {
		items, err := s.loadPrimary(ctx)
		if err == nil {
			return domain.CloneItems(items), nil
		}
		s.demote(err)
	}

	items, err := s.flat.Get(ctx)
	if err != nil {
		return nil, storageErr(domain.KindUnavailable, "load", err)
	}
	s.log.WithField("count", len(items)).Debug("Loaded from flat store")
	return domain.CloneItems(items), nil
}

// loadPrimary reads the primary and, when it is empty, migrates whatever the
// flat store holds into it and erases the legacy key.
func (s *Store) loadPrimary(ctx context.Context) ([]domain.Item, error) {
	items, err := s.primary.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}

	legacy, err := s.flat.Get(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Legacy store unreadable, skipping migration")
		return items, nil
	}
	if len(legacy) == 0 {
		return items, nil
	}

	if err := s.primary.ReplaceAll(ctx, legacy); err != nil {
		return nil, err
	}
	if err := s.flat.Remove(ctx); err != nil {
		s.log.WithError(err).Warn("Migrated legacy data but failed to erase legacy key")
	}
	s.log.WithField("count", len(legacy)).Info("Migrated legacy items into primary store")
	return legacy, nil
}

// Save persists a snapshot of items. On the primary, a quota failure demotes
// the session and is returned as is; any other failure demotes and retries
// the same write on the flat store.
func (s *Store) Save(ctx context.Context, items []domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := domain.CloneItems(items)
	if s.mode == ModeUninitialized {
		s.openPrimary(ctx)
	}
	if s.mode == ModePrimary {
		err := s.primary.ReplaceAll(ctx, snapshot)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.demote(err)
		if domain.IsQuotaExceeded(err) {
			return err
		}
	}
	return s.flat.Set(ctx, snapshot)
}

// Close releases the primary backend if it is open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primary == nil {
		return nil
	}
	err := s.primary.Close()
	s.primary = nil
	return err
}

func (s *Store) openPrimary(ctx context.Context) {
	p, err := s.open(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Primary store unavailable, using flat store for this session")
		s.mode = ModeFallback
		return
	}
	s.primary = p
	s.mode = ModePrimary
	s.log.Debug("Using primary store")
}

func (s *Store) demote(cause error) {
	s.log.WithError(cause).Warn("Primary store failed, falling back to flat store for this session")
	s.mode = ModeFallback
	if s.primary != nil {
		if err := s.primary.Close(); err != nil {
			s.log.WithError(err).Warn("Error closing primary store after demotion")
		}
		s.primary = nil
	}
}

var _ Repository = (*Store)(nil)
