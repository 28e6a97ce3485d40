package database

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

// TypeCount represents a count by type
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CachedStats holds the cached catalog statistics
type CachedStats struct {
	LastSync  string      `json:"lastSync"`
	Query     string      `json:"query"`
	Count     int         `json:"count"`
	Species   []TypeCount `json:"species"`
	Countries []TypeCount `json:"countries"`
}

// statsCache holds the singleton instance
type statsCache struct {
	mu    sync.RWMutex
	stats *CachedStats
}

var cache = &statsCache{}

// GetCachedStats returns the cached stats if available, nil otherwise
func GetCachedStats() *CachedStats {
	if !cache.mu.TryRLock() {
		return nil
	}
	defer cache.mu.RUnlock()

	return cache.stats
}

// ComputeAndCacheStats computes the stats from the database and stores them in cache
func ComputeAndCacheStats(force bool) *CachedStats {
	if DB == nil {
		return nil
	}

	if force {
		cache.mu.Lock()
	} else {
		if !cache.mu.TryLock() {
			// Another computation is in progress, return nil to indicate stats are not available
			return nil
		}
	}
	defer cache.mu.Unlock()

	stats := &CachedStats{}

	// Get last complete run
	var last Acquisition
	err := DB.Where("complete = ?", true).Order("date DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// never acquired, cannot compute stats
		return nil
	}
	if err == nil {
		stats.LastSync = last.Date.Format(time.RFC3339)
		stats.Query = last.Query
	}

	var count int64
	DB.Model(&Recording{}).Count(&count)
	stats.Count = int(count)

	DB.Model(&Recording{}).
		Select("species as type, COUNT(*) as count").
		Group("species").
		Order("count DESC").
		Scan(&stats.Species)

	DB.Model(&Recording{}).
		Select("country as type, COUNT(*) as count").
		Group("country").
		Order("count DESC").
		Scan(&stats.Countries)

	cache.stats = stats
	return cache.stats
}

// InvalidateStatsCache marks the cache as invalid so it will be recomputed on next access
func InvalidateStatsCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.stats = nil
}

// HasCachedStats returns whether stats are currently cached
func HasCachedStats() bool {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return cache.stats != nil
}

// setCachedStats replaces the cached value
func setCachedStats(s *CachedStats) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.stats = s
}
