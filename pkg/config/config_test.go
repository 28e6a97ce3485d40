package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryYAMLKeepsOrder(t *testing.T) {
	q, err := ParseQueryYAML([]byte(`
area: europe
grp: "1"
cnt: germany
loc: bavaria
len: 10-15
`))
	require.NoError(t, err)
	assert.Equal(t, "area:europe grp:1 cnt:germany loc:bavaria len:10-15", q.String())
}

func TestParseQueryYAMLRejectsNonMapping(t *testing.T) {
	_, err := ParseQueryYAML([]byte("- grp\n- len\n"))
	assert.Error(t, err)

	_, err = ParseQueryYAML([]byte("grp:\n  - 1\n"))
	assert.Error(t, err)

	_, err = ParseQueryYAML([]byte(""))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	queryFile := filepath.Join(dir, "query.yaml")
	require.NoError(t, os.WriteFile(queryFile, []byte("grp: 1\nlen: 4-6\nq: A\n"), 0o644))

	t.Setenv("XC_DATA_DIR", dir)
	t.Setenv("XC_QUERY_FILE", queryFile)
	t.Setenv("XC_NUM_SPECIES", "5")
	t.Setenv("XC_EXCLUDE_UNKNOWN", "false")
	t.Setenv("XC_MAX_CONCURRENCY", "8")
	t.Setenv("XC_DOWNLOAD_TIMEOUT", "10s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "grp:1 len:4-6 q:A", cfg.Query.String())
	assert.Equal(t, 5, cfg.NumSpecies)
	assert.False(t, cfg.ExcludeUnknown)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 30*time.Second, cfg.MetadataTimeout)
	assert.Equal(t, filepath.Join(dir, "audio"), cfg.AudioDir)
	assert.Equal(t, filepath.Join(dir, "annotation.csv"), cfg.AnnotationPath)
	assert.Equal(t, xenocanto.DefaultAPIURL, cfg.APIURL)
}

func TestFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("XC_MAX_CONCURRENCY", "many")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.MaxConcurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Query = xenocanto.Query{}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.AudioDir = ""
	assert.Error(t, cfg.Validate())
	cfg.S3.Bucket = "corpus"
	assert.NoError(t, cfg.Validate())
}
