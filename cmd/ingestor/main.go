package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"padu/internal/adapters/observability"
	"padu/internal/app"
	"padu/internal/domain"
	"padu/internal/events"
	"padu/internal/ingest"
	"padu/internal/kv"
	"padu/internal/shared"
	"padu/internal/store"
)

var CLI struct {
	Files    []string `arg:"" help:"CSV files to import."`
	Platform string   `help:"Platform for rows without a platform column (google, tripadvisor, booking)."`
	Replace  bool     `help:"Clear stored reviews before importing."`
	Workers  int      `help:"Files imported in parallel (defaults to INGEST_WORKERS)."`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("padu-ingestor"),
		kong.Description("Import review CSV exports into the padu state backend. "+
			"Only the first INGEST_PREVIEW_LIMIT data rows of each file are stored."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	workers := cfg.Workers
	if CLI.Workers > 0 {
		workers = CLI.Workers
	}
	workers = max(workers, 1)
	var platform domain.Platform
	if CLI.Platform != "" {
		p, ok := domain.ParsePlatform(CLI.Platform)
		if !ok {
			log.Fatal().Str("platform", CLI.Platform).Msg("unknown platform")
		}
		platform = p
	}

	log.Info().
		Int("files", len(CLI.Files)).
		Int("workers", workers).
		Str("backend", cfg.StateBackend).
		Msg("ingestor starting")

	state, closeState, err := kv.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("state backend unavailable")
	}
	defer closeState()

	var bus events.Bus = events.NewLocal()
	if cfg.NATSURL != "" {
		nb, err := events.NewNATS(cfg.NATSURL, cfg.NATSToken, "padu.", log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect failed")
		}
		bus = nb
	}
	defer bus.Close()

	reviews := store.OpenReviews(ctx, state, log.Logger)
	defer reviews.Close()
	imports := app.NewImportService(ingest.New(cfg.PreviewLimit, cfg.ProgressEvery, log.Logger), reviews, bus, log.Logger)

	if CLI.Replace {
		if err := imports.ClearReviews(ctx); err != nil {
			log.Fatal().Err(err).Msg("clear reviews failed")
		}
	}

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	var failed atomic.Int32

	for _, path := range CLI.Files {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Msg("import interrupted")
			break
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)

			if err := importFile(ctx, imports, path, platform); err != nil {
				failed.Add(1)
				log.Warn().Str("file", path).Err(err).Msg("import failed")
			}
		}(path)
	}

	wg.Wait()
	log.Info().Int("rows", len(reviews.Get())).Int32("failed", failed.Load()).Msg("ingestion completed")
	if failed.Load() > 0 {
		closeState()
		os.Exit(1)
	}
}

func importFile(ctx context.Context, imports *app.ImportService, path string, platform domain.Platform) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := imports.Import(ctx, ingest.Request{File: f, Name: path}, app.ImportOptions{
		Platform: platform,
		Append:   true,
		OnProgress: func(m domain.ParseMessage) {
			log.Info().Str("file", path).Int("parsed", m.Parsed).Msg("progress")
		},
	})
	if err != nil {
		return err
	}
	if res.Truncated > 0 {
		log.Warn().
			Str("file", path).
			Int("total", res.Total).
			Int("stored", res.Imported).
			Int("dropped", res.Truncated).
			Msg("file exceeds INGEST_PREVIEW_LIMIT, extra rows not stored")
	}
	return nil
}
