package sync

import (
	"context"
	"sync"
	"time"

	"github.com/iziplay/xeno-corpus/pkg/database"
	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
)

// Stage of a running acquisition
type Stage string

const (
	StageFetching    Stage = "fetching"
	StageFiltering   Stage = "filtering"
	StageCataloging  Stage = "cataloging"
	StageDownloading Stage = "downloading"
)

// Progress is a snapshot of the current run
type Progress struct {
	IsRunning  bool       `json:"isRunning"`
	ID         string     `json:"id,omitempty"`
	Query      string     `json:"query,omitempty"`
	Stage      Stage      `json:"stage,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	Total      int        `json:"total"`
	Downloaded int        `json:"downloaded"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Bytes      int64      `json:"bytes"`
	Percent    float64    `json:"percent"` // items in a terminal state, 0-100
}

// SyncStats holds the current sync progress information. It receives the
// per-item notifications of the downloader.
type SyncStats struct {
	mu       sync.RWMutex
	progress Progress
}

var stats = &SyncStats{}

// GetStats returns a copy of current sync stats
func GetStats() Progress {
	return stats.Snapshot()
}

// GetStatsInstance returns the stats instance for updating
func GetStatsInstance() *SyncStats {
	return stats
}

// Snapshot returns a copy of the progress
func (s *SyncStats) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.progress
}

// StartSync marks a run as started. It returns false when another run is
// still going.
func (s *SyncStats) StartSync(id, query string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progress.IsRunning {
		return false
	}
	now := time.Now()
	s.progress = Progress{
		IsRunning: true,
		ID:        id,
		Query:     query,
		StartedAt: &now,
	}
	return true
}

// SetStage records the pipeline stage of the running acquisition
func (s *SyncStats) SetStage(stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress.Stage = stage
}

// Start implements xenocanto.Processor
func (s *SyncStats) Start(_ context.Context, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress.Stage = StageDownloading
	s.progress.Total = total
	s.progress.Downloaded = 0
	s.progress.Skipped = 0
	s.progress.Failed = 0
	s.progress.Bytes = 0
	s.progress.Percent = 0
	if total == 0 {
		s.progress.Percent = 100
	}
}

// Item implements xenocanto.Processor
func (s *SyncStats) Item(_ context.Context, r xenocanto.ItemResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Status {
	case xenocanto.TaskDownloaded:
		s.progress.Downloaded++
		s.progress.Bytes += r.Bytes
	case xenocanto.TaskSkipped:
		s.progress.Skipped++
	case xenocanto.TaskFailed:
		s.progress.Failed++
	}
	if s.progress.Total > 0 {
		done := s.progress.Downloaded + s.progress.Skipped + s.progress.Failed
		s.progress.Percent = float64(done) * 100 / float64(s.progress.Total)
	}
}

// EndSync marks the sync as completed and refreshes the stats cache
func (s *SyncStats) EndSync() {
	s.mu.Lock()
	s.progress = Progress{}
	s.mu.Unlock()

	database.ComputeAndCacheStats(true)
}
