package database

import (
	"testing"

	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "xc")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DATABASE", "corpus")
	t.Setenv("POSTGRES_PORT", "")

	assert.True(t, Configured())
	assert.Equal(t, "host=db user=xc password=secret dbname=corpus port=5432 sslmode=disable", DSN())
}

func TestNotConfigured(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")
	assert.False(t, Configured())
	assert.False(t, Enabled())
	assert.Error(t, Ping())
}

func TestNewRecording(t *testing.T) {
	r := xenocanto.Recording{
		ID:         "815",
		Genus:      "Turdus",
		Species:    "merula",
		En:         "common_blackbird",
		Country:    "Germany",
		Locality:   "Ber\x00lin",
		FileName:   "XC815-song.mp3",
		Quality:    "A",
		Length:     "0:05",
		SampleRate: "48000",
		Also:       []string{"Erithacus rubecula", "\x00"},
	}

	rec := NewRecording(r, 2, "run-1")

	assert.Equal(t, "815", rec.ID)
	assert.Equal(t, "common_blackbird", rec.Species)
	assert.Equal(t, 2, rec.ClassID)
	assert.Equal(t, "Turdus", rec.Genus)
	assert.Equal(t, "merula", rec.Epithet)
	assert.Equal(t, "Berlin", rec.Locality)
	assert.Equal(t, "run-1", rec.Acquisition)
	require.Len(t, rec.Also, 2)
	assert.Equal(t, "Erithacus rubecula", rec.Also[0])
	assert.Equal(t, "", rec.Also[1])
}

func TestStatsCacheWithoutDatabase(t *testing.T) {
	InvalidateStatsCache()
	assert.Nil(t, GetCachedStats())
	assert.False(t, HasCachedStats())
	assert.Nil(t, ComputeAndCacheStats(true))

	setCachedStats(&CachedStats{Count: 3})
	t.Cleanup(InvalidateStatsCache)

	assert.True(t, HasCachedStats())
	require.NotNil(t, GetCachedStats())
	assert.Equal(t, 3, GetCachedStats().Count)
}
