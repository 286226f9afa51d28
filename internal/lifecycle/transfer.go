package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"because/internal/bookmarks"
	"because/internal/domain"
)

const (
	// ExportVersion tags the snapshot format.
	ExportVersion = 1

	MaxImportRecords = 10000
	MaxImportBytes   = 10 << 20

	// MaxBookmarksPerImport caps new items from one bookmark file.
	MaxBookmarksPerImport = 500

	defaultBookmarkReason = "Imported from browser bookmarks"
)

var validate = validator.New()

// Snapshot is the export format.
type Snapshot struct {
	Version    int           `json:"version"`
	ExportedAt time.Time     `json:"exportedAt"`
	Items      []domain.Item `json:"items"`
}

// ImportReport summarises an import.
type ImportReport struct {
	Imported int
	Skipped  int
}

// Export returns the collection as a snapshot.
func (m *Manager) Export() Snapshot {
	items := m.Items()
	if items == nil {
		items = []domain.Item{}
	}
	return Snapshot{Version: ExportVersion, ExportedAt: m.now().UTC(), Items: items}
}

// WriteExport writes Export as indented JSON.
func (m *Manager) WriteExport(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.Export()); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ExportFilename is the suggested file name for an export taken at t.
func ExportFilename(t time.Time) string {
	return "because-export-" + t.Format("2006-01-02") + ".json"
}

// importRecord is one record as found in an export file. Older exports call
// the reason "because".
type importRecord struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Reason    string   `json:"reason"`
	Because   string   `json:"because"`
	CreatedAt string   `json:"createdAt"`
	Topics    []string `json:"topics"`
}

type validRecord struct {
	ID      string `validate:"required"`
	Content string `validate:"required"`
	Reason  string `validate:"required"`
}

// ImportSnapshot merges a previously exported file, either a Snapshot or a
// bare array of items. Records missing id, content or reason are skipped.
// Imported records replace existing ones with the same id. The merged
// collection is saved once; on failure nothing changes.
func (m *Manager) ImportSnapshot(ctx context.Context, data []byte) (ImportReport, error) {
	if len(data) > MaxImportBytes {
		return ImportReport{}, fmt.Errorf("%w: %d bytes (max %d)", domain.ErrImportTooLarge, len(data), MaxImportBytes)
	}
	raw, err := decodeRecords(data)
	if err != nil {
		return ImportReport{}, err
	}
	if len(raw) > MaxImportRecords {
		return ImportReport{}, fmt.Errorf("%w: %d records (max %d)", domain.ErrImportTooLarge, len(raw), MaxImportRecords)
	}

	var (
		valid  []domain.Item
		seen   = make(map[string]bool, len(raw))
		report ImportReport
	)
	for _, r := range raw {
		it, ok := m.recordToItem(r)
		if !ok || seen[it.ID] {
			report.Skipped++
			continue
		}
		seen[it.ID] = true
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		return report, domain.ErrImportEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Rebuild the order with pending deletes in place so their positions can
	// be recomputed against it.
	full := append([]domain.Item(nil), valid...)
	for _, it := range m.withPendingLocked(m.items) {
		if !seen[it.ID] {
			full = append(full, it)
		}
	}

	// An imported copy supersedes a pending delete of the same id.
	kept := append([]*pendingDelete(nil), m.pending...)
	prevIdx := make([]int, len(kept))
	for i, pd := range kept {
		prevIdx[i] = pd.index
	}
	var superseded []*pendingDelete
	for _, pd := range kept {
		if seen[pd.item.ID] {
			superseded = append(superseded, pd)
			m.dropPendingLocked(pd)
		}
	}
	m.reindexPendingLocked(full)

	stillPending := make(map[string]bool, len(m.pending))
	for _, pd := range m.pending {
		stillPending[pd.item.ID] = true
	}
	merged := make([]domain.Item, 0, len(full))
	for _, it := range full {
		if !stillPending[it.ID] {
			merged = append(merged, it)
		}
	}

	if err := m.saveLocked(ctx, merged); err != nil {
		m.pending = kept
		for i, pd := range kept {
			pd.index = prevIdx[i]
		}
		m.log.WithError(err).Warn("Import not saved")
		return ImportReport{}, err
	}
	for _, pd := range superseded {
		pd.timer.Stop()
		pd.state = deleteCancelled
	}
	// Results still in flight were computed for the replaced copies.
	for _, it := range valid {
		if _, ok := m.revs[it.ID]; ok {
			m.bumpLocked(it.ID)
		}
	}
	m.items = merged

	report.Imported = len(valid)
	m.log.WithFields(logrus.Fields{"imported": report.Imported, "skipped": report.Skipped}).Info("Import applied")
	return report, nil
}

func decodeRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, domain.ErrImportMalformed
	}
	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrImportMalformed, err)
		}
		return arr, nil
	case '{':
		var env struct {
			Items json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrImportMalformed, err)
		}
		var arr []json.RawMessage
		if len(env.Items) == 0 || json.Unmarshal(env.Items, &arr) != nil {
			return nil, fmt.Errorf("%w: items is not an array", domain.ErrImportMalformed)
		}
		return arr, nil
	}
	return nil, domain.ErrImportMalformed
}

func (m *Manager) recordToItem(raw json.RawMessage) (domain.Item, bool) {
	var r importRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.Item{}, false
	}
	reason := r.Reason
	if strings.TrimSpace(reason) == "" {
		reason = r.Because
	}
	v := validRecord{
		ID:      strings.TrimSpace(r.ID),
		Content: strings.TrimSpace(r.Content),
		Reason:  strings.TrimSpace(reason),
	}
	if err := validate.Struct(v); err != nil {
		return domain.Item{}, false
	}

	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		created = m.now()
	}
	return domain.Item{
		ID:        v.ID,
		Content:   v.Content,
		Reason:    v.Reason,
		CreatedAt: created,
		Topics:    domain.NormalizeTopics(r.Topics),
	}, true
}

// ImportBookmarks adds browser bookmarks whose URL is not already saved.
// At most MaxBookmarksPerImport new items are added, at the head of the
// collection, without classification.
func (m *Manager) ImportBookmarks(ctx context.Context, marks []bookmarks.Bookmark) (ImportReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]bool, len(m.items)+len(m.pending))
	for _, it := range m.items {
		known[it.Content] = true
	}
	for _, pd := range m.pending {
		known[pd.item.Content] = true
	}

	var (
		added  []domain.Item
		report ImportReport
	)
	for _, b := range marks {
		url := strings.TrimSpace(b.URL)
		if url == "" || known[url] || len(added) == MaxBookmarksPerImport {
			report.Skipped++
			continue
		}
		known[url] = true

		reason := defaultBookmarkReason
		if title := strings.TrimSpace(b.Title); title != "" {
			reason = "Bookmarked: " + title
		}
		created := b.AddedAt
		if created.IsZero() {
			created = m.now()
		}
		added = append(added, domain.NewItem(url, reason, created))
	}
	if len(added) == 0 {
		return report, domain.ErrImportEmpty
	}

	merged := append(added, m.items...)
	m.shiftPendingLocked(len(added))
	if err := m.saveLocked(ctx, merged); err != nil {
		m.shiftPendingLocked(-len(added))
		m.log.WithError(err).Warn("Bookmark import not saved")
		return ImportReport{}, err
	}
	m.items = merged

	report.Imported = len(added)
	m.log.WithField("imported", report.Imported).Info("Bookmarks imported")
	return report, nil
}
