// Package annotation maintains the CSV index that maps every downloaded media
// file to its class id and source metadata. The index is append-only: rows
// are never rewritten by the download stage. Reindex is a separate offline
// step that fills the idx column once all sources have been appended.
package annotation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
)

// Columns is the header of the annotation file
var Columns = []string{
	"idx",
	"file_name",
	"class_id",
	"class",
	"source_id",
	"slice",
	"quality",
	"length",
	"sampling_rate",
}

var ErrHeaderMismatch = errors.New("annotation: header does not match expected columns")

// Record is one row of the index
type Record struct {
	Idx        string `json:"idx"` // blank until Reindex
	FileName   string `json:"fileName"`
	ClassID    int    `json:"classID"`
	Class      string `json:"class"`
	SourceID   string `json:"sourceID"`
	Slice      int    `json:"slice"`
	Quality    string `json:"quality"`
	Length     string `json:"length"`
	SampleRate string `json:"sampleRate"`
}

func (r Record) row() []string {
	return []string{
		r.Idx,
		r.FileName,
		strconv.Itoa(r.ClassID),
		r.Class,
		r.SourceID,
		strconv.Itoa(r.Slice),
		r.Quality,
		r.Length,
		r.SampleRate,
	}
}

func parseRow(row []string) (Record, error) {
	if len(row) != len(Columns) {
		return Record{}, fmt.Errorf("expected %d fields, got %d", len(Columns), len(row))
	}
	classID, err := strconv.Atoi(row[2])
	if err != nil {
		return Record{}, fmt.Errorf("invalid class_id %q: %w", row[2], err)
	}
	slice := 0
	if row[5] != "" {
		if slice, err = strconv.Atoi(row[5]); err != nil {
			return Record{}, fmt.Errorf("invalid slice %q: %w", row[5], err)
		}
	}
	return Record{
		Idx:        row[0],
		FileName:   row[1],
		ClassID:    classID,
		Class:      row[3],
		SourceID:   row[4],
		Slice:      slice,
		Quality:    row[6],
		Length:     row[7],
		SampleRate: row[8],
	}, nil
}

// EnsureHeader creates the file at path with columns as header if it does not
// exist yet. An existing file is left untouched.
func EnsureHeader(path string, columns []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create annotation dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create annotation file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Index is the shared append target of one acquisition run. All writers must
// go through the same Index value.
type Index struct {
	mu    sync.Mutex
	path  string
	rows  int
	names map[string]struct{}
}

// Open ensures the header exists and loads the file names already indexed
func Open(path string) (*Index, error) {
	if err := EnsureHeader(path, Columns); err != nil {
		return nil, err
	}
	records, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{path: path, rows: len(records), names: make(map[string]struct{}, len(records))}
	for _, r := range records {
		idx.names[r.FileName] = struct{}{}
	}
	return idx, nil
}

// Path returns the location of the index file
func (i *Index) Path() string {
	return i.path
}

// Has reports whether a row for fileName is present
func (i *Index) Has(fileName string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.names[fileName]
	return ok
}

// Len returns the number of rows
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rows
}

// Append writes one row. The file is opened in append mode for every call so
// that a crash never leaves a buffered row behind.
func (i *Index) Append(r Record) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.appendLocked(r)
}

// AppendIfMissing appends r unless a row for r.FileName already exists. It
// reports whether a row was written.
func (i *Index) AppendIfMissing(r Record) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.names[r.FileName]; ok {
		return false, nil
	}
	return true, i.appendLocked(r)
}

func (i *Index) appendLocked(r Record) error {
	f, err := os.OpenFile(i.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open annotation file: %w", err)
	}
	defer f.Close()

	if err := writeRow(f, r.row()); err != nil {
		return fmt.Errorf("failed to write annotation row: %w", err)
	}
	i.names[r.FileName] = struct{}{}
	i.rows++
	return nil
}

// rowFile is the part of *os.File used to append a row
type rowFile interface {
	io.Writer
	Seek(offset int64, whence int) (int64, error)
	Truncate(size int64) error
}

// writeRow appends one encoded row with a single write. A partial write is
// truncated away so the file always ends on a complete row.
func writeRow(f rowFile, row []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		if terr := f.Truncate(end); terr != nil {
			return errors.Join(err, fmt.Errorf("failed to drop partial row: %w", terr))
		}
		return err
	}
	return nil
}

// ReadAll parses every row of the annotation file at path
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f)
}

func read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation header: %w", err)
	}
	if !slices.Equal(header, Columns) {
		return nil, fmt.Errorf("%v: %w", header, ErrHeaderMismatch)
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read annotation line %d: %w", line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("annotation line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ClassCount is the number of rows for one class
type ClassCount struct {
	ClassID int    `json:"classID"`
	Class   string `json:"class"`
	Count   int    `json:"count"`
}

// CountClasses tallies rows per class, ordered by class id
func CountClasses(records []Record) []ClassCount {
	byID := make(map[int]*ClassCount)
	for _, r := range records {
		c, ok := byID[r.ClassID]
		if !ok {
			c = &ClassCount{ClassID: r.ClassID, Class: r.Class}
			byID[r.ClassID] = c
		}
		c.Count++
	}
	out := make([]ClassCount, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b ClassCount) int { return a.ClassID - b.ClassID })
	return out
}
