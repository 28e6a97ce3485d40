package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/iziplay/xeno-corpus/pkg/annotation"
	"github.com/iziplay/xeno-corpus/pkg/config"
	"github.com/iziplay/xeno-corpus/pkg/database"
	"github.com/iziplay/xeno-corpus/pkg/storage"
	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ErrSyncRunning is returned when an acquisition is started while another
// one is still going
var ErrSyncRunning = errors.New("an acquisition is already running")

var tracer = otel.Tracer("github.com/iziplay/xeno-corpus/pkg/sync")

// Result describes a finished acquisition
type Result struct {
	ID            string            `json:"id"`
	Query         string            `json:"query"`
	NumRecordings int               `json:"numRecordings"` // composite, before filtering
	Retained      int               `json:"retained"`
	Species       []string          `json:"species"` // indexed by class id
	Cataloged     int               `json:"cataloged"`
	Report        *xenocanto.Report `json:"report"`
}

// GetLastSync returns the last run from database, nil when there is none or
// the database is not enabled
func GetLastSync(ctx context.Context) (*database.Acquisition, error) {
	if !database.Enabled() {
		return nil, nil
	}
	last, err := database.LastAcquisition(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

// NextSyncDelay returns how long to wait after last before the next
// scheduled run. A run that did not complete is retried after retry instead
// of interval.
func NextSyncDelay(last *database.Acquisition, interval, retry time.Duration, now time.Time) time.Duration {
	if last == nil {
		return 0
	}
	wait := interval
	if !last.Complete {
		wait = min(retry, interval)
	}
	return max(last.Date.Add(wait).Sub(now), 0)
}

// NewStore opens the media store of cfg: the S3 bucket when one is set, the
// audio directory otherwise
func NewStore(cfg config.Config) (storage.FileStore, error) {
	if cfg.S3.Bucket != "" {
		return storage.NewS3(storage.NewS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix), nil
	}
	return storage.NewLocal(cfg.AudioDir)
}

// Run is a claimed acquisition slot. Execute must be called once to run it
// and release the slot.
type Run struct {
	cfg   config.Config
	id    string
	stats *SyncStats
}

// Claim validates cfg and reserves the acquisition slot. It returns
// ErrSyncRunning when another run holds it.
func Claim(cfg config.Config) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Run{cfg: cfg, id: uuid.NewString(), stats: GetStatsInstance()}
	if !r.stats.StartSync(r.id, cfg.Query.String()) {
		return nil, ErrSyncRunning
	}
	return r, nil
}

// ID returns the id of the run
func (r *Run) ID() string {
	return r.id
}

// Sync runs one acquisition: fetch the composite page of cfg.Query, keep the
// cfg.NumSpecies most frequent species, catalog them and download their media
// into the store. Per-item download failures are part of the result, not of
// the error.
func Sync(ctx context.Context, cfg config.Config) (*Result, error) {
	r, err := Claim(cfg)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx)
}

// Execute runs the claimed acquisition and releases the slot. A failed run
// is stored incomplete with its error.
func (r *Run) Execute(ctx context.Context) (_ *Result, err error) {
	cfg, st := r.cfg, r.stats
	defer st.EndSync()

	run := &database.Acquisition{
		ID:         r.id,
		Date:       time.Now(),
		Query:      cfg.Query.String(),
		NumSpecies: cfg.NumSpecies,
	}

	ctx, span := tracer.Start(ctx, "sync.Sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("xc.run", run.ID),
		attribute.String("xc.query", run.Query),
	)

	stored := false
	if database.Enabled() {
		if err := database.StartAcquisition(ctx, run); err != nil {
			return nil, err
		}
		stored = true
	}
	defer func() {
		if err == nil || !stored {
			return
		}
		span.RecordError(err)
		run.Complete = false
		run.Error = err.Error()
		if ferr := database.FinishAcquisition(context.WithoutCancel(ctx), run); ferr != nil {
			slog.Error("Failed to store failed acquisition", "id", run.ID, "error", ferr)
		}
	}()

	slog.Info("Starting acquisition", "id", run.ID, "query", run.Query, "species", cfg.NumSpecies)

	st.SetStage(StageFetching)
	client := xenocanto.NewClient(xenocanto.ClientConfig{
		BaseURL:   cfg.APIURL,
		Timeout:   cfg.MetadataTimeout,
		UserAgent: cfg.UserAgent,
	})
	composite, err := client.FetchComposite(ctx, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("cannot sync: %w", err)
	}
	run.NumRecordings = composite.NumRecordings

	st.SetStage(StageFiltering)
	filtered := xenocanto.FilterTopK(composite, cfg.NumSpecies, cfg.ExcludeUnknown)
	species := xenocanto.BuildSpeciesMap(filtered)
	run.Retained = filtered.NumRecordings

	slog.Info("Filtered composite page",
		"recordings", composite.NumRecordings,
		"retained", filtered.NumRecordings,
		"species", species.Labels())

	result := &Result{
		ID:            run.ID,
		Query:         run.Query,
		NumRecordings: composite.NumRecordings,
		Retained:      filtered.NumRecordings,
		Species:       species.Labels(),
	}

	if database.Enabled() {
		st.SetStage(StageCataloging)
		n, err := database.UpsertRecordings(ctx, run.ID, filtered, species)
		if err != nil {
			return nil, err
		}
		result.Cataloged = n
	}

	store, err := NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot open media store: %w", err)
	}
	index, err := annotation.Open(cfg.AnnotationPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open annotation index: %w", err)
	}

	downloader, err := xenocanto.NewDownloader(xenocanto.DownloaderConfig{
		Store:          store,
		Index:          index,
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.DownloadTimeout,
		Prefix:         cfg.Prefix,
		Processor:      st,
	})
	if err != nil {
		return nil, err
	}

	report, err := downloader.DownloadAll(ctx, filtered, species)
	if err != nil {
		return nil, err
	}
	result.Report = report

	run.Downloaded = report.Downloaded
	run.Skipped = report.Skipped
	run.Failed = report.Failed
	run.Complete = ctx.Err() == nil
	if stored {
		// the run context may be cancelled, the record is written regardless
		stored = false
		if err := database.FinishAcquisition(context.WithoutCancel(ctx), run); err != nil {
			return result, err
		}
	}

	if report.Failed > 0 {
		slog.Warn("Acquisition finished with failures", "id", run.ID, "failed", report.Failed, "total", report.Total)
	} else {
		slog.Info("Acquisition finished", "id", run.ID, "downloaded", report.Downloaded, "skipped", report.Skipped)
	}

	return result, nil
}
