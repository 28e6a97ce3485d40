package routing

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/iziplay/xeno-corpus/pkg/annotation"
	"github.com/iziplay/xeno-corpus/pkg/config"
	"github.com/iziplay/xeno-corpus/pkg/database"
	"github.com/iziplay/xeno-corpus/pkg/sync"
)

type StatsOutput struct {
	Body database.CachedStats
}

type PlainOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type SyncStatsOutput struct {
	Body sync.Progress
}

type AnnotationStatsOutput struct {
	Body struct {
		Path    string                  `json:"path"`
		Total   int                     `json:"total"`
		Classes []annotation.ClassCount `json:"classes"`
	}
}

type TriggerSyncOutput struct {
	Body struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Query   string `json:"query"`
	}
}

type SearchInput struct {
	Species string `query:"species" doc:"Filter by species label (case-insensitive)"`
	Country string `query:"country" doc:"Filter by country (case-insensitive)"`
	Limit   int    `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum number of results"`
	Offset  int    `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
}

type SearchOutput struct {
	Body struct {
		Total   int64                `json:"total"`
		Results []database.Recording `json:"results"`
	}
}

// Setup registers the routes. cfg is the configuration used by runs
// triggered through the API.
func Setup(api huma.API, cfg config.Config) {
	api.UseMiddleware(authMiddleware(api))

	huma.Register(api, huma.Operation{
		OperationID: "HealthCheck",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Check if the API is running",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*PlainOutput, error) {
		return &PlainOutput{
			ContentType: "text/plain",
			Body:        []byte("OK"),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "GetStatistics",
		Method:      "GET",
		Path:        "/v1/statistics",
		Summary:     "Get statistics",
		Description: "Get statistics about the recording catalog",
		Tags:        []string{"Statistics"},
	}, func(ctx context.Context, input *struct{}) (*StatsOutput, error) {
		if !database.Enabled() {
			return nil, huma.Error503ServiceUnavailable("catalog database is not configured")
		}
		stats := database.GetCachedStats()
		if stats == nil {
			go database.ComputeAndCacheStats(false)
			return nil, huma.Error503ServiceUnavailable("sync in progress or stats are being computed, please retry later")
		}
		return &StatsOutput{
			Body: *stats,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "GetSyncStatistics",
		Method:      "GET",
		Path:        "/v1/statistics/sync",
		Summary:     "Get sync statistics",
		Description: "Get current acquisition progress",
		Tags:        []string{"Statistics"},
	}, func(ctx context.Context, input *struct{}) (*SyncStatsOutput, error) {
		resp := &SyncStatsOutput{}
		resp.Body = sync.GetStats()
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "GetAnnotationStatistics",
		Method:      "GET",
		Path:        "/v1/statistics/annotation",
		Summary:     "Get annotation statistics",
		Description: "Get the number of indexed files per class",
		Tags:        []string{"Statistics"},
	}, func(ctx context.Context, input *struct{}) (*AnnotationStatsOutput, error) {
		resp := &AnnotationStatsOutput{}
		resp.Body.Path = cfg.AnnotationPath
		resp.Body.Classes = []annotation.ClassCount{}

		rows, err := annotation.ReadAll(cfg.AnnotationPath)
		if errors.Is(err, os.ErrNotExist) {
			return resp, nil
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to read annotation index", err)
		}
		resp.Body.Total = len(rows)
		resp.Body.Classes = annotation.CountClasses(rows)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "TriggerSync",
		Method:        "POST",
		Path:          "/v1/sync",
		Summary:       "Trigger an acquisition",
		Description:   "Start an acquisition run in the background",
		Tags:          []string{"Sync"},
		DefaultStatus: 202,
		Security: []map[string][]string{
			{"bearerAuth": {}},
		},
	}, func(ctx context.Context, input *struct{}) (*TriggerSyncOutput, error) {
		run, err := sync.Claim(cfg)
		if errors.Is(err, sync.ErrSyncRunning) {
			return nil, huma.Error409Conflict(err.Error())
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("cannot start acquisition", err)
		}

		go func() {
			if _, err := run.Execute(context.Background()); err != nil {
				slog.Error("Sync failed", "id", run.ID(), "error", err)
			}
		}()

		resp := &TriggerSyncOutput{}
		resp.Body.ID = run.ID()
		resp.Body.Message = "acquisition started"
		resp.Body.Query = cfg.Query.String()
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "SearchRecordings",
		Method:      "GET",
		Path:        "/v1/recordings",
		Summary:     "Search recordings",
		Description: "Search the catalog of acquired recordings by species and country",
		Tags:        []string{"Search"},
	}, func(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
		if !database.Enabled() {
			return nil, huma.Error503ServiceUnavailable("catalog database is not configured")
		}
		records, total, err := database.SearchRecordings(ctx, input.Species, input.Country, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to search recordings", err)
		}
		resp := &SearchOutput{}
		resp.Body.Total = total
		resp.Body.Results = records
		return resp, nil
	})
}
