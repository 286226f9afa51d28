package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"because/internal/domain"
)

// BadgerBackend is the primary backend. Each item is stored under its own
// key, with its collection position alongside so order survives a reload.
type BadgerBackend struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// storedItem is the value layout for one key.
type storedItem struct {
	Pos  int         `json:"pos"`
	Item domain.Item `json:"item"`
}

const itemPrefix = "item:"

// OpenBadger opens (or creates) the badger database at dbPath.
func OpenBadger(dbPath string, logger logrus.FieldLogger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Warn("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.WithField("path", dbPath).Debug("BadgerDB opened")

	return &BadgerBackend{
		db:  db,
		log: logger.WithField("component", "primary_store"),
	}, nil
}

// BadgerOpener returns a PrimaryOpener that opens badger at dbPath lazily.
func BadgerOpener(dbPath string, logger logrus.FieldLogger) PrimaryOpener {
	return func(ctx context.Context) (PrimaryBackend, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return OpenBadger(dbPath, logger)
	}
}

// Close closes the BadgerDB database connection.
func (b *BadgerBackend) Close() error {
	if err := b.db.Close(); err != nil {
		b.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	b.log.Debug("BadgerDB closed")
	return nil
}

func itemKey(id string) []byte {
	return []byte(itemPrefix + id)
}

// ReadAll returns every stored item in collection order.
func (b *BadgerBackend) ReadAll(ctx context.Context) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stored []storedItem
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(itemPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var s storedItem
				if err := json.Unmarshal(val, &s); err != nil {
					return fmt.Errorf("failed to unmarshal item for key %s: %w", string(item.Key()), err)
				}
				stored = append(stored, s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.log.WithError(err).Error("Failed to read items from BadgerDB")
		return nil, classifyErr("read", err)
	}

	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Pos < stored[j].Pos })
	items := make([]domain.Item, len(stored))
	for i, s := range stored {
		items[i] = s.Item
	}
	return items, nil
}

// ReplaceAll deletes every item key and writes items in one transaction, so
// either the whole new snapshot lands or the old one stays.
func (b *BadgerBackend) ReplaceAll(ctx context.Context, items []domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	values := make([][]byte, len(items))
	for i, it := range items {
		v, err := json.Marshal(storedItem{Pos: i, Item: it})
		if err != nil {
			return classifyErr("write", fmt.Errorf("failed to marshal item %s: %w", it.ID, err))
		}
		values[i] = v
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := []byte(itemPrefix)
		var existing [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			existing = append(existing, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range existing {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, item := range items {
			if err := txn.SetEntry(badger.NewEntry(itemKey(item.ID), values[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.log.WithError(err).WithField("count", len(items)).Error("Failed to write items to BadgerDB")
		return classifyErr("write", err)
	}

	b.log.WithField("count", len(items)).Debug("Items written")
	return nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
