package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestHistory(t *testing.T) *RunHistory {
	t.Helper()
	history, err := NewRunHistory(filepath.Join(t.TempDir(), "history"), common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })
	return history
}

func TestRunHistory_SaveAndGet(t *testing.T) {
	history := newTestHistory(t)

	record := &models.RunRecord{
		ID:         "run-1",
		Source:     "swiggy",
		RootDir:    "/tmp/responses",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Categories: 24,
		Filters:    110,
		Complete:   130,
		Exhausted:  3,
		NoData:     1,
	}
	require.NoError(t, history.SaveRun(record))

	loaded, err := history.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, record.Source, loaded.Source)
	assert.Equal(t, record.Complete, loaded.Complete)

	_, err = history.GetRun("missing")
	assert.Error(t, err)
}

func TestRunHistory_SaveIsIdempotent(t *testing.T) {
	history := newTestHistory(t)

	record := &models.RunRecord{ID: "run-1", Source: "swiggy", Complete: 1}
	require.NoError(t, history.SaveRun(record))
	record.Complete = 2
	require.NoError(t, history.SaveRun(record))

	loaded, err := history.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Complete)

	runs, err := history.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunHistory_ListRunsNewestFirst(t *testing.T) {
	history := newTestHistory(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, history.SaveRun(&models.RunRecord{
			ID:        fmt.Sprintf("run-%d", i),
			Source:    "swiggy",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := history.ListRuns(3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)
	assert.Equal(t, "run-2", runs[2].ID)
}
