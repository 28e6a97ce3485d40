package annotation

import (
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
)

// Reindex shuffles the rows of the annotation file and numbers them 0..n-1 in
// the idx column. The same seed always yields the same order. The file is
// replaced atomically. It must not run while a download is appending.
func Reindex(path string, seed uint64) (int, error) {
	records, err := ReadAll(path)
	if err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	for i := range records {
		records[i].Idx = strconv.Itoa(i)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(Columns); err != nil {
		tmp.Close()
		return 0, err
	}
	for _, r := range records {
		if err := w.Write(r.row()); err != nil {
			tmp.Close()
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write reindexed annotation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to replace annotation file: %w", err)
	}
	return len(records), nil
}
