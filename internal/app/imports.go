package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"padu/internal/domain"
	"padu/internal/events"
	"padu/internal/ingest"
	"padu/internal/store"
)

// ErrParse wraps the worker's terminal error message.
var ErrParse = errors.New("csv parse failed")

type ImportOptions struct {
	// Platform applies to rows without a platform column.
	Platform domain.Platform
	// Append keeps existing rows; the default replaces them.
	Append bool
	// OnProgress sees every progress message before it is published.
	OnProgress func(domain.ParseMessage)
}

type ImportResult struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	// Truncated counts data rows past the preview that were not stored.
	Truncated int                `json:"truncated"`
	Headers   []string           `json:"headers"`
	Preview   []domain.Row       `json:"preview"`
	Rows      []domain.ReviewRow `json:"rows"`
}

type ImportService struct {
	worker  *ingest.Worker
	reviews *store.ReviewsStore
	bus     events.Publisher
	log     zerolog.Logger
}

func NewImportService(w *ingest.Worker, reviews *store.ReviewsStore, bus events.Publisher, log zerolog.Logger) *ImportService {
	return &ImportService{worker: w, reviews: reviews, bus: bus, log: log}
}

// Import runs one CSV through the worker and stores the rows mapped from its
// preview. Only the preview (bounded by the worker) becomes review rows;
// Total still reports every data row parsed.
func (s *ImportService) Import(ctx context.Context, req ingest.Request, opt ImportOptions) (ImportResult, error) {
	var final domain.ParseMessage
	for m := range s.worker.Start(req) {
		switch m.Type {
		case domain.MessageProgress:
			if opt.OnProgress != nil {
				opt.OnProgress(m)
			}
			if err := events.Emit(ctx, s.bus, events.IngestProgress, events.IngestProgressPayload{Parsed: m.Parsed, Total: m.Total}); err != nil {
				s.log.Warn().Err(err).Msg("publish progress failed")
			}
		default:
			final = m
		}
	}

	if final.Type == domain.MessageError {
		return ImportResult{}, fmt.Errorf("%w: %s", ErrParse, final.Error)
	}
	if final.Type != domain.MessageComplete {
		return ImportResult{}, fmt.Errorf("%w: worker ended without a result", ErrParse)
	}

	rows, skipped := mapRows(final.Headers, final.Preview, opt.Platform)
	res := ImportResult{
		Total:     final.Total,
		Imported:  len(rows),
		Skipped:   skipped,
		Truncated: max(final.Total-len(final.Preview), 0),
		Headers:   final.Headers,
		Preview:   final.Preview,
		Rows:      rows,
	}

	var err error
	if opt.Append {
		err = s.reviews.Append(ctx, rows)
	} else {
		err = s.reviews.Set(ctx, rows)
	}
	if err != nil {
		return res, fmt.Errorf("store reviews: %w", err)
	}

	if err := events.Emit(ctx, s.bus, events.ReviewsUpdated, events.ReviewsUpdatedPayload{Count: len(s.reviews.Get()), Source: "csv"}); err != nil {
		s.log.Warn().Err(err).Msg("publish reviews.updated failed")
	}
	s.log.Info().
		Str("file", req.Name).
		Int("total", res.Total).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int("truncated", res.Truncated).
		Msg("csv import done")
	return res, nil
}

// ClearReviews drops every stored row and announces it.
func (s *ImportService) ClearReviews(ctx context.Context) error {
	if err := s.reviews.Clear(ctx); err != nil {
		return err
	}
	if err := events.Emit(ctx, s.bus, events.ReviewsUpdated, events.ReviewsUpdatedPayload{Count: 0, Source: "clear"}); err != nil {
		s.log.Warn().Err(err).Msg("publish reviews.updated failed")
	}
	return nil
}
