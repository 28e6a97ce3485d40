package sync

import (
	"context"
	"testing"

	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
	"github.com/stretchr/testify/assert"
)

func TestSyncStatsProgress(t *testing.T) {
	s := &SyncStats{}
	ctx := context.Background()

	assert.True(t, s.StartSync("run", "grp:1"))
	assert.False(t, s.StartSync("again", "grp:1"))

	s.Start(ctx, 4)
	s.Item(ctx, xenocanto.ItemResult{ID: "1", Status: xenocanto.TaskDownloaded, Bytes: 100})
	s.Item(ctx, xenocanto.ItemResult{ID: "2", Status: xenocanto.TaskSkipped})
	s.Item(ctx, xenocanto.ItemResult{ID: "3", Status: xenocanto.TaskFailed, Error: "boom"})

	p := s.Snapshot()
	assert.True(t, p.IsRunning)
	assert.Equal(t, "run", p.ID)
	assert.Equal(t, StageDownloading, p.Stage)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 1, p.Downloaded)
	assert.Equal(t, 1, p.Skipped)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, int64(100), p.Bytes)
	assert.InDelta(t, 75.0, p.Percent, 0.001)

	s.EndSync()
	assert.Equal(t, Progress{}, s.Snapshot())
	assert.True(t, s.StartSync("next", "grp:1"))
}

func TestSyncStatsEmptyRun(t *testing.T) {
	s := &SyncStats{}
	s.StartSync("run", "grp:1")
	s.Start(context.Background(), 0)
	assert.Equal(t, 100.0, s.Snapshot().Percent)
}
