package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunHistory keeps a row per completed crawl run in an embedded Badger store
type RunHistory struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewRunHistory opens the history database, creating the directory when
// needed
func NewRunHistory(path string, logger arbor.ILogger) (*RunHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Run history database opened")
	return &RunHistory{store: store, logger: logger}, nil
}

// SaveRun persists one run record
func (h *RunHistory) SaveRun(record *models.RunRecord) error {
	if err := h.store.Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	h.logger.Debug().
		Str("run_id", record.ID).
		Int("complete", record.Complete).
		Msg("Run record saved")
	return nil
}

// GetRun loads one run record by id
func (h *RunHistory) GetRun(id string) (*models.RunRecord, error) {
	var record models.RunRecord
	if err := h.store.Get(id, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, fmt.Errorf("failed to load run record: %w", err)
	}
	return &record, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns
// everything.
func (h *RunHistory) ListRuns(limit int) ([]models.RunRecord, error) {
	var records []models.RunRecord
	if err := h.store.Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close closes the underlying database
func (h *RunHistory) Close() error {
	if h.store != nil {
		return h.store.Close()
	}
	return nil
}
