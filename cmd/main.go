package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	xenocorpus "github.com/iziplay/xeno-corpus"
	"github.com/iziplay/xeno-corpus/pkg/annotation"
	routing "github.com/iziplay/xeno-corpus/pkg/api"
	"github.com/iziplay/xeno-corpus/pkg/config"
	"github.com/iziplay/xeno-corpus/pkg/database"
	"github.com/iziplay/xeno-corpus/pkg/sync"
	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gorm.io/plugin/opentelemetry/tracing"
)

func getLogLevelFromEnv() slog.Level {
	levelStr := os.Getenv("LOG_LEVEL")

	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupTracing installs the OTLP exporter when an endpoint is configured.
// The returned function flushes pending spans.
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName("xeno-corpus"),
			),
		),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// connectDatabase connects to Postgres when it is configured. The pipeline
// runs without a catalog otherwise.
func connectDatabase() error {
	if !database.Configured() {
		slog.Info("POSTGRES_HOST not set, catalog disabled")
		return nil
	}
	if err := database.Connect(); err != nil {
		return err
	}
	return database.DB.Use(tracing.NewPlugin())
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: getLogLevelFromEnv()})))

	app := &cli.App{
		Name:  "xeno-corpus",
		Usage: "build a labelled bird song corpus from Xeno-canto",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "query", Aliases: []string{"q"}, Usage: "search term as key:value, repeatable"},
			&cli.StringFlag{Name: "query-file", EnvVars: []string{"XC_QUERY_FILE"}, Usage: "YAML mapping of search terms"},
			&cli.IntFlag{Name: "species", Aliases: []string{"k"}, EnvVars: []string{"XC_NUM_SPECIES"}, Usage: "number of species to keep"},
			&cli.BoolFlag{Name: "keep-unknown", Usage: "keep the unidentified recordings label"},
			&cli.StringFlag{Name: "audio-dir", EnvVars: []string{"XC_AUDIO_DIR"}, Usage: "media directory"},
			&cli.StringFlag{Name: "annotation", EnvVars: []string{"XC_ANNOTATION_PATH"}, Usage: "annotation CSV file"},
			&cli.IntFlag{Name: "concurrency", EnvVars: []string{"XC_MAX_CONCURRENCY"}, Usage: "maximum concurrent downloads"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			acquireCommand(),
			reindexCommand(),
			statsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment then applies the global flags
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}

	if c.IsSet("query-file") {
		q, err := config.LoadQuery(c.String("query-file"))
		if err != nil {
			return cfg, err
		}
		cfg.Query = q
	}
	if c.IsSet("query") {
		q, err := xenocanto.ParseQuery(c.StringSlice("query"))
		if err != nil {
			return cfg, err
		}
		cfg.Query = q
	}
	if c.IsSet("species") {
		cfg.NumSpecies = c.Int("species")
	}
	if c.IsSet("keep-unknown") {
		cfg.ExcludeUnknown = !c.Bool("keep-unknown")
	}
	if c.IsSet("audio-dir") {
		cfg.AudioDir = c.String("audio-dir")
	}
	if c.IsSet("annotation") {
		cfg.AnnotationPath = c.String("annotation")
	}
	if c.IsSet("concurrency") {
		cfg.MaxConcurrency = c.Int("concurrency")
	}

	return cfg, cfg.Validate()
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the API and run acquisitions on a schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", EnvVars: []string{"SYNC_INTERVAL"}, Value: 24 * time.Hour, Usage: "time between acquisitions"},
			&cli.DurationFlag{Name: "retry", EnvVars: []string{"SYNC_RETRY"}, Value: 15 * time.Minute, Usage: "delay before retrying a failed acquisition"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := setupTracing(ctx)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			if err := connectDatabase(); err != nil {
				return err
			}

			server := newServer(cfg)
			go func() {
				slog.Info("Starting server", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("Server failed", "error", err)
					os.Exit(1)
				}
			}()

			go database.ComputeAndCacheStats(false)

			runSchedule(ctx, cfg, c.Duration("interval"), c.Duration("retry"))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func newServer(cfg config.Config) *http.Server {
	router := chi.NewRouter()

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Server"},
		AllowCredentials: false,
	}))

	addr := ":80"
	if port, hasPort := os.LookupEnv("API_PORT"); hasPort {
		addr = ":" + port
	}

	host := "http://localhost"
	if hostEnv, hasHost := os.LookupEnv("API_HOST"); hasHost {
		host = hostEnv
	} else {
		host += addr
	}

	humaConfig := huma.DefaultConfig("Xeno Corpus API", "1.0.0")
	humaConfig.OpenAPI.Info.Description = xenocorpus.Readme
	humaConfig.OpenAPI.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	humaConfig.DocsPath = "/"
	humaConfig.Servers = []*huma.Server{
		{URL: host},
	}
	api := humachi.New(router, humaConfig)

	routing.Setup(api, cfg)

	return &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(router, "api"),
	}
}

// runSchedule runs an acquisition whenever the last complete one is older
// than interval, until ctx is done. A failed run is retried after retry.
func runSchedule(ctx context.Context, cfg config.Config, interval, retry time.Duration) {
	// the last run of this process, also covers runs that failed before being
	// stored
	var local *database.Acquisition

	for {
		last := local
		if database.Enabled() {
			stored, err := sync.GetLastSync(ctx)
			if err != nil {
				slog.Error("Failed to get last sync", "error", err)
			} else if stored != nil && (local == nil || stored.Date.After(local.Date)) {
				last = stored
			}
		}

		sleepDuration := sync.NextSyncDelay(last, interval, retry, time.Now())
		slog.Info("Next sync scheduled", "in", sleepDuration)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
		}

		started := time.Now()
		_, err := sync.Sync(ctx, cfg)
		if err != nil {
			slog.Error("Sync failed", "error", err)
		}
		local = &database.Acquisition{Date: started, Complete: err == nil}
	}
}

func acquireCommand() *cli.Command {
	return &cli.Command{
		Name:  "acquire",
		Usage: "run one acquisition and print its report",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fail-on-error", Usage: "exit with status 2 when a download failed"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := setupTracing(ctx)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			if err := connectDatabase(); err != nil {
				return err
			}

			res, err := sync.Sync(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Print(renderResult(res))

			if c.Bool("fail-on-error") && res.Report.Failed > 0 {
				return cli.Exit(fmt.Sprintf("%d downloads failed", res.Report.Failed), 2)
			}
			return nil
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "shuffle the annotation rows and number them",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "seed", Value: 42, Usage: "shuffle seed"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			n, err := annotation.Reindex(cfg.AnnotationPath, c.Uint64("seed"))
			if err != nil {
				return err
			}
			slog.Info("Reindexed annotation", "path", cfg.AnnotationPath, "rows", n)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show the species distribution of the query or of the annotation file",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "threshold", Value: 2, Usage: "species under this percentage are grouped"},
			&cli.BoolFlag{Name: "from-annotation", Usage: "read the annotation file instead of querying"},
			&cli.BoolFlag{Name: "filtered", Usage: "apply the species filter before computing"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			if c.Bool("from-annotation") {
				rows, err := annotation.ReadAll(cfg.AnnotationPath)
				if err != nil {
					return err
				}
				fmt.Print(renderClasses(cfg.AnnotationPath, annotation.CountClasses(rows)))
				return nil
			}

			client := xenocanto.NewClient(xenocanto.ClientConfig{
				BaseURL:   cfg.APIURL,
				Timeout:   cfg.MetadataTimeout,
				UserAgent: cfg.UserAgent,
			})
			page, err := client.FetchComposite(c.Context, cfg.Query)
			if err != nil {
				return err
			}
			if c.Bool("filtered") {
				page = xenocanto.FilterTopK(page, cfg.NumSpecies, cfg.ExcludeUnknown)
			}

			title := fmt.Sprintf("%s (%d recordings)", cfg.Query, len(page.Recordings))
			fmt.Print(renderDistribution(title, xenocanto.Distribution(page, c.Float64("threshold"))))
			return nil
		},
	}
}
