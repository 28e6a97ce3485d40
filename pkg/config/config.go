// Package config gathers the settings of an acquisition run. Values come from
// the environment and can be overridden by command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/iziplay/xeno-corpus/pkg/storage"
	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
	"gopkg.in/yaml.v3"
)

// Config holds everything one acquisition run needs
type Config struct {
	APIURL          string
	Query           xenocanto.Query
	NumSpecies      int
	ExcludeUnknown  bool
	AudioDir        string
	AnnotationPath  string
	Prefix          string
	MaxConcurrency  int
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	UserAgent       string

	// S3 mirrors the audio files to a bucket instead of AudioDir when
	// S3.Bucket is set.
	S3 storage.S3Config
}

// DefaultQuery is used when neither XC_QUERY_FILE nor --query is given
func DefaultQuery() xenocanto.Query {
	return xenocanto.NewQuery("grp", "1", "len", "4-6")
}

// Default returns the configuration with every default applied
func Default() Config {
	dataDir := "data"
	return Config{
		APIURL:          xenocanto.DefaultAPIURL,
		Query:           DefaultQuery(),
		NumSpecies:      3,
		ExcludeUnknown:  true,
		AudioDir:        filepath.Join(dataDir, "audio"),
		AnnotationPath:  filepath.Join(dataDir, "annotation.csv"),
		Prefix:          xenocanto.DefaultPrefix,
		MaxConcurrency:  xenocanto.DefaultMaxConcurrency,
		MetadataTimeout: 30 * time.Second,
		DownloadTimeout: 30 * time.Second,
		UserAgent:       "xeno-corpus/1.0",
		S3:              storage.S3Config{Region: "us-east-1"},
	}
}

// FromEnv returns Default overridden by the environment
func FromEnv() (Config, error) {
	cfg := Default()

	if dir, ok := os.LookupEnv("XC_DATA_DIR"); ok {
		cfg.AudioDir = filepath.Join(dir, "audio")
		cfg.AnnotationPath = filepath.Join(dir, "annotation.csv")
	}
	lookupString("XC_API_URL", &cfg.APIURL)
	lookupString("XC_AUDIO_DIR", &cfg.AudioDir)
	lookupString("XC_ANNOTATION_PATH", &cfg.AnnotationPath)
	lookupString("XC_PREFIX", &cfg.Prefix)
	lookupString("XC_USER_AGENT", &cfg.UserAgent)
	lookupString("XC_S3_BUCKET", &cfg.S3.Bucket)
	lookupString("XC_S3_PREFIX", &cfg.S3.Prefix)
	lookupString("XC_S3_REGION", &cfg.S3.Region)
	lookupString("XC_S3_ENDPOINT", &cfg.S3.Endpoint)
	lookupString("AWS_ACCESS_KEY_ID", &cfg.S3.AccessKeyID)
	lookupString("AWS_SECRET_ACCESS_KEY", &cfg.S3.SecretAccessKey)

	if err := lookupInt("XC_NUM_SPECIES", &cfg.NumSpecies); err != nil {
		return cfg, err
	}
	if err := lookupInt("XC_MAX_CONCURRENCY", &cfg.MaxConcurrency); err != nil {
		return cfg, err
	}
	if err := lookupBool("XC_EXCLUDE_UNKNOWN", &cfg.ExcludeUnknown); err != nil {
		return cfg, err
	}
	if err := lookupDuration("XC_METADATA_TIMEOUT", &cfg.MetadataTimeout); err != nil {
		return cfg, err
	}
	if err := lookupDuration("XC_DOWNLOAD_TIMEOUT", &cfg.DownloadTimeout); err != nil {
		return cfg, err
	}

	if path, ok := os.LookupEnv("XC_QUERY_FILE"); ok && path != "" {
		q, err := LoadQuery(path)
		if err != nil {
			return cfg, err
		}
		cfg.Query = q
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings no run could succeed with
func (c Config) Validate() error {
	if c.Query.Len() == 0 {
		return fmt.Errorf("config: query is empty")
	}
	if c.NumSpecies < 0 {
		return fmt.Errorf("config: number of species must not be negative, got %d", c.NumSpecies)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("config: max concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.AnnotationPath == "" {
		return fmt.Errorf("config: annotation path is required")
	}
	if c.S3.Bucket == "" && c.AudioDir == "" {
		return fmt.Errorf("config: audio dir or S3 bucket is required")
	}
	return nil
}

// LoadQuery reads a YAML mapping of search terms. The order of the keys in
// the file is kept, e.g.
//
//	grp: "1"
//	cnt: germany
//	len: 10-15
func LoadQuery(path string) (xenocanto.Query, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return xenocanto.Query{}, fmt.Errorf("failed to read query file: %w", err)
	}
	return ParseQueryYAML(b)
}

// ParseQueryYAML parses a YAML mapping of search terms, keeping key order
func ParseQueryYAML(b []byte) (xenocanto.Query, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return xenocanto.Query{}, fmt.Errorf("failed to parse query: %w", err)
	}
	if len(doc.Content) == 0 {
		return xenocanto.Query{}, fmt.Errorf("query file is empty")
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return xenocanto.Query{}, fmt.Errorf("query must be a mapping, line %d", m.Line)
	}

	kv := make([]string, 0, len(m.Content))
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return xenocanto.Query{}, fmt.Errorf("query term %q must be a scalar, line %d", k.Value, v.Line)
		}
		kv = append(kv, k.Value, v.Value)
	}
	return xenocanto.NewQuery(kv...), nil
}

func lookupString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func lookupInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func lookupBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func lookupDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
