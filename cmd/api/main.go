package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"padu/internal/adapters/functions"
	server "padu/internal/adapters/http_server"
	"padu/internal/adapters/observability"
	"padu/internal/adapters/supabase"
	"padu/internal/app"
	"padu/internal/auth"
	"padu/internal/domain"
	"padu/internal/events"
	"padu/internal/ingest"
	"padu/internal/kv"
	"padu/internal/pending"
	"padu/internal/routing"
	"padu/internal/shared"
	"padu/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, observability.MetricsHandler(reg))

	// durable state
	state, closeState, err := kv.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StateBackend).Msg("state backend unavailable")
	}
	defer closeState()

	// event bus
	var bus events.Bus = events.NewLocal()
	if cfg.NATSURL != "" {
		nb, err := events.NewNATS(cfg.NATSURL, cfg.NATSToken, "padu.", log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect failed")
		}
		bus = nb
	}
	defer bus.Close()

	// stores
	now := time.Now
	dates := store.OpenDateFilter(ctx, state, now, log.Logger)
	defer dates.Close()
	filters := store.OpenFilters(ctx, state, now, log.Logger)
	defer filters.Close()
	reviews := store.OpenReviews(ctx, state, log.Logger)
	defer reviews.Close()
	defer app.AnnounceFilterChanges(bus, dates, filters, log.Logger)()

	routes := routing.Config{Env: cfg.AppEnv, AppDomain: cfg.AppDomain, DashboardSubdomain: cfg.DashboardSubdomain}
	worker := ingest.New(cfg.PreviewLimit, cfg.ProgressEvery, log.Logger)
	slot := pending.NewSlot(state)

	h := &server.Handlers{
		Imports: app.NewImportService(worker, reviews, bus, log.Logger),
		Queries: app.NewQueryService(reviews, filters),
		Filters: filters,
		Dates:   dates,
		Slot:    slot,
		Bus:     bus,
		Routes:  routes,
	}

	// hosted auth and functions are optional
	var (
		authProvider domain.AuthProvider
		fnClient     domain.FunctionsClient
	)
	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey != "" {
		sb, err := supabase.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, state, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("supabase client init failed")
		}
		fc, err := functions.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.FunctionsRPS)
		if err != nil {
			log.Fatal().Err(err).Msg("functions client init failed")
		}
		authProvider, fnClient = sb, fc

		watcher := auth.NewWatcher(sb, routes, log.Logger)
		watcher.Start(ctx)
		defer watcher.Close()

		h.Watcher, h.Auth, h.Sessions, h.Functions = watcher, sb, sb, fc
	}
	h.Resumer = pending.NewResumer(slot, authProvider, fnClient, nil, routes, log.Logger)

	// http
	srv := server.New(routes)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(h)

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.HTTPAddr).Msg("listen failed")
	}
	log.Info().Str("addr", cfg.HTTPAddr).Str("backend", cfg.StateBackend).Msg("API listening")
	if err := srv.Run(ctx, ln); err != nil {
		log.Error().Err(err).Msg("http server failed")
	}
}
