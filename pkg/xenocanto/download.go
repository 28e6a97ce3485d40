package xenocanto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/iziplay/xeno-corpus/pkg/annotation"
	"github.com/iziplay/xeno-corpus/pkg/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxConcurrency = 5
	DefaultPrefix         = "x"
)

type TaskStatus string

const (
	TaskDownloaded TaskStatus = "downloaded"
	TaskSkipped    TaskStatus = "skipped"
	TaskFailed     TaskStatus = "failed"
)

// Processor receives progress notifications from DownloadAll. Calls may come
// from several goroutines at once.
type Processor interface {
	Start(ctx context.Context, total int)
	Item(ctx context.Context, result ItemResult)
}

// ItemResult is the terminal state of one recording
type ItemResult struct {
	ID       string     `json:"id"`
	FileName string     `json:"fileName,omitempty"`
	Status   TaskStatus `json:"status"`
	Bytes    int64      `json:"bytes,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Report summarises a DownloadAll call
type Report struct {
	Total      int          `json:"total"`
	Downloaded int          `json:"downloaded"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Indexed    int          `json:"indexed"` // rows appended, including repaired ones
	Bytes      int64        `json:"bytes"`
	Failures   []ItemResult `json:"failures,omitempty"`
}

// DownloaderConfig configures a Downloader. Store and Index are required.
type DownloaderConfig struct {
	Store          storage.FileStore
	Index          *annotation.Index
	MaxConcurrency int           // store checks and transfers in flight, default 5
	Timeout        time.Duration // per transfer, default 30s
	Prefix         string        // file name prefix, default "x"
	HTTPClient     *http.Client
	Processor      Processor
}

// Downloader fetches the media files of a page into a FileStore and records
// each new file in the annotation index.
type Downloader struct {
	store     storage.FileStore
	index     *annotation.Index
	sem       *semaphore.Weighted
	limit     int
	timeout   time.Duration
	prefix    string
	http      *http.Client
	processor Processor
	group     singleflight.Group
}

func NewDownloader(cfg DownloaderConfig) (*Downloader, error) {
	if cfg.Store == nil {
		return nil, errors.New("xenocanto: downloader needs a store")
	}
	if cfg.Index == nil {
		return nil, errors.New("xenocanto: downloader needs an annotation index")
	}
	d := &Downloader{
		store:     cfg.Store,
		index:     cfg.Index,
		limit:     cfg.MaxConcurrency,
		timeout:   cfg.Timeout,
		prefix:    cfg.Prefix,
		http:      cfg.HTTPClient,
		processor: cfg.Processor,
	}
	if d.limit <= 0 {
		d.limit = DefaultMaxConcurrency
	}
	if d.timeout <= 0 {
		d.timeout = 30 * time.Second
	}
	if d.prefix == "" {
		d.prefix = DefaultPrefix
	}
	if d.http == nil {
		d.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	d.sem = semaphore.NewWeighted(int64(d.limit))
	return d, nil
}

// DownloadAll downloads every recording of page concurrently and returns once
// all of them reached a terminal state. At most MaxConcurrency recordings
// check the store or transfer at a time. Recordings whose file already
// exists in the store are skipped without downloading. A failing recording is counted in the
// report and never stops the others.
//
// species must be the map the page was indexed with; it is read only.
// Cancelling ctx fails the remaining transfers.
func (d *Downloader) DownloadAll(ctx context.Context, page *Page, species SpeciesMap) (*Report, error) {
	ctx, span := tracer.Start(ctx, "xenocanto.DownloadAll")
	defer span.End()

	total := len(page.Recordings)
	if d.processor != nil {
		d.processor.Start(ctx, total)
	}

	slog.Info("Starting download", "recordings", total, "concurrency", d.limit)

	var (
		failed  atomic.Int64
		done    atomic.Int64
		bytes   atomic.Int64
		mu      sync.Mutex
		report  = &Report{Total: total}
		wg      sync.WaitGroup
		started = time.Now()
	)

	for _, rec := range page.Recordings {
		wg.Add(1)
		go func(rec Recording) {
			defer wg.Done()
			res, indexed := d.download(ctx, rec, species)

			switch res.Status {
			case TaskFailed:
				failed.Add(1)
				slog.Warn("Download failed", "id", rec.ID, "file", res.FileName, "error", res.Error)
			case TaskDownloaded:
				bytes.Add(res.Bytes)
				slog.Debug("Downloaded", "id", rec.ID, "file", res.FileName, "size", humanize.Bytes(uint64(res.Bytes)))
			}
			done.Add(1)

			mu.Lock()
			switch res.Status {
			case TaskDownloaded:
				report.Downloaded++
			case TaskSkipped:
				report.Skipped++
			case TaskFailed:
				report.Failures = append(report.Failures, res)
			}
			if indexed {
				report.Indexed++
			}
			mu.Unlock()

			if d.processor != nil {
				d.processor.Item(ctx, res)
			}
		}(rec)
	}

	// Start progress monitoring in background
	finished := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-finished:
				return
			case <-ticker.C:
				slog.Info("Download progress",
					"done", done.Load(),
					"total", total,
					"failed", failed.Load(),
					"downloaded", humanize.Bytes(uint64(bytes.Load())))
			}
		}
	}()

	wg.Wait()
	close(finished)

	report.Failed = int(failed.Load())
	report.Bytes = bytes.Load()

	span.SetAttributes(
		attribute.Int("xc.total", report.Total),
		attribute.Int("xc.downloaded", report.Downloaded),
		attribute.Int("xc.skipped", report.Skipped),
		attribute.Int("xc.failed", report.Failed),
	)
	slog.Info("Download finished",
		"total", report.Total,
		"downloaded", report.Downloaded,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"size", humanize.Bytes(uint64(report.Bytes)),
		"took", time.Since(started).Round(time.Millisecond))

	return report, nil
}

// download brings one recording to a terminal state. The second return value
// reports whether an annotation row was appended.
func (d *Downloader) download(ctx context.Context, rec Recording, species SpeciesMap) (ItemResult, bool) {
	res := ItemResult{ID: rec.ID}
	fail := func(err error) (ItemResult, bool) {
		res.Status = TaskFailed
		res.Error = err.Error()
		return res, false
	}

	classID, ok := species.ID(rec.En)
	if !ok {
		return fail(fmt.Errorf("species %q is not in the species map", rec.En))
	}
	name, err := MediaFileName(d.prefix, rec, classID)
	if err != nil {
		return fail(err)
	}
	res.FileName = name

	row := annotation.Record{
		FileName:   name,
		ClassID:    classID,
		Class:      rec.En,
		SourceID:   rec.ID,
		Slice:      0,
		Quality:    rec.Quality,
		Length:     rec.Length,
		SampleRate: rec.SampleRate,
	}

	// the slot covers every store and network round trip of the item, the
	// annotation append runs outside of it
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fail(err)
	}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { d.sem.Release(1) }) }
	defer release()

	exists, err := d.store.Exists(ctx, name)
	if err != nil {
		return fail(fmt.Errorf("failed to check %s: %w", name, err))
	}
	if exists {
		release()
		res.Status = TaskSkipped
		// a previous run may have stopped between the file and its row
		indexed, err := d.index.AppendIfMissing(row)
		if err != nil {
			return fail(err)
		}
		if indexed {
			slog.Info("Indexed existing file", "id", rec.ID, "file", name)
		}
		return res, indexed
	}

	// collapse concurrent downloads of the same target
	v, err, _ := d.group.Do(name, func() (interface{}, error) {
		return d.fetch(ctx, rec.File, name)
	})
	release()
	if err != nil {
		return fail(err)
	}
	res.Bytes = v.(int64)

	indexed, err := d.index.AppendIfMissing(row)
	if err != nil {
		return fail(err)
	}
	res.Status = TaskDownloaded
	return res, indexed
}

// fetch streams rawURL into the store under name. The caller holds a
// concurrency slot.
func (d *Downloader) fetch(ctx context.Context, rawURL, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL(rawURL), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	w, err := d.store.Write(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", name, err)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		w.Abort(err)
		return 0, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return n, nil
}
