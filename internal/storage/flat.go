package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"because/internal/domain"
)

// LegacyKey names the single flat-store entry holding the collection.
const LegacyKey = "because_items"

// DefaultQuotaBytes mirrors the usual browser local storage allowance.
const DefaultQuotaBytes int64 = 5 << 20

// FlatBackend stores the whole collection as one JSON document.
type FlatBackend struct {
	fs    afero.Fs
	path  string
	quota int64
	log   logrus.FieldLogger
}

// flatRecord accepts the older "because" spelling of the reason field.
type flatRecord struct {
	domain.Item
	Because string `json:"because,omitempty"`
}

// NewFlatBackend stores LegacyKey under dir on fs. A quota of zero or less
// disables the size check.
func NewFlatBackend(fs afero.Fs, dir string, quota int64, logger logrus.FieldLogger) *FlatBackend {
	return &FlatBackend{
		fs:    fs,
		path:  filepath.Join(dir, LegacyKey+".json"),
		quota: quota,
		log:   logger.WithField("component", "flat_store"),
	}
}

// Get returns the stored collection, or nothing when the key is absent. An
// unparseable document reads as empty.
func (f *FlatBackend) Get(ctx context.Context) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr(domain.KindUnavailable, "flat read", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var records []flatRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		f.log.WithError(err).Warn("Legacy data is not valid JSON, treating as empty")
		return nil, nil
	}
	items := make([]domain.Item, 0, len(records))
	for _, r := range records {
		it := r.Item
		if it.Reason == "" {
			it.Reason = r.Because
		}
		items = append(items, it)
	}
	return items, nil
}

// Set replaces the stored collection. The document is written to a sibling
// temp file and renamed into place.
func (f *FlatBackend) Set(ctx context.Context, items []domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if items == nil {
		items = []domain.Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return storageErr(domain.KindIO, "flat write", fmt.Errorf("failed to marshal items: %w", err))
	}
	if f.quota > 0 && int64(len(raw)) > f.quota {
		f.log.WithFields(logrus.Fields{"bytes": len(raw), "quota": f.quota}).Warn("Flat store quota exceeded")
		return storageErr(domain.KindQuotaExceeded, "flat write",
			fmt.Errorf("%d bytes exceeds quota of %d; export your data to free space", len(raw), f.quota))
	}

	if err := f.fs.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return classifyErr("flat write", err)
	}
	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, raw, 0o600); err != nil {
		_ = f.fs.Remove(tmp)
		return classifyErr("flat write", err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		_ = f.fs.Remove(tmp)
		return classifyErr("flat write", err)
	}
	f.log.WithField("count", len(items)).Debug("Flat store written")
	return nil
}

// Remove erases the legacy key. Removing an absent key is not an error.
func (f *FlatBackend) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.fs.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return classifyErr("flat remove", err)
	}
	return nil
}
