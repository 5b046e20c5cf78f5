// Package ingest streams CSV uploads off the caller's goroutine and reports
// progress, a bounded preview and the header row as messages.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"padu/internal/adapters/observability"
	"padu/internal/domain"
)

const (
	DefaultPreviewLimit  = 100
	DefaultProgressEvery = 1000

	// ExtraFieldsKey collects values beyond the header width, comma-joined.
	ExtraFieldsKey = "__parsed_extra"
)

type Request struct {
	File io.Reader
	Name string // for logs only
}

type Worker struct {
	previewLimit  int
	progressEvery int
	log           zerolog.Logger
}

func New(previewLimit, progressEvery int, log zerolog.Logger) *Worker {
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}
	return &Worker{previewLimit: previewLimit, progressEvery: progressEvery, log: log}
}

// Start parses req.File in a new goroutine. The returned channel yields zero
// or more progress messages followed by exactly one complete or error
// message, then closes. The parse cannot be cancelled and the caller must
// drain the channel.
func (w *Worker) Start(req Request) <-chan domain.ParseMessage {
	out := make(chan domain.ParseMessage, 8)
	go func() {
		defer close(out)
		w.run(req, func(m domain.ParseMessage) {
			observability.ObserveIngestMessage(string(m.Type))
			out <- m
		})
	}()
	return out
}

// Run is Start without the goroutine: messages go to emit on the calling goroutine.
func (w *Worker) Run(req Request, emit func(domain.ParseMessage)) {
	w.run(req, emit)
}

func (w *Worker) run(req Request, emit func(domain.ParseMessage)) {
	if req.File == nil {
		emit(domain.ErrorMessage(domain.ErrNoFile.Error()))
		return
	}
	start := time.Now()
	log := w.log.With().Str("file", req.Name).Logger()
	log.Debug().Msg("parse started")

	p := parser{previewLimit: w.previewLimit, progressEvery: w.progressEvery, emit: emit}
	if err := p.parse(req.File); err != nil {
		log.Warn().Err(err).Int("parsed", p.count).Msg("parse failed")
		emit(domain.ErrorMessage(err.Error()))
		return
	}
	observability.IngestRows.Add(float64(p.count))
	log.Info().Int("rows", p.count).Int("columns", len(p.headers)).Dur("took", time.Since(start)).Msg("parse complete")
	emit(domain.CompleteMessage(p.preview, p.count, p.headers))
}

type parser struct {
	previewLimit  int
	progressEvery int
	emit          func(domain.ParseMessage)

	headers []string
	preview []domain.Row
	count   int
}

func (p *parser) parse(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return describe(err)
		}
		if blank(rec) {
			continue
		}
		if p.headers == nil {
			p.headers = headerNames(rec)
			continue
		}
		p.count++
		if len(p.preview) < p.previewLimit {
			p.preview = append(p.preview, p.row(rec))
		}
		if p.count%p.progressEvery == 0 {
			p.emit(domain.ProgressMessage(p.count))
		}
	}
}

func (p *parser) row(rec []string) domain.Row {
	row := make(domain.Row, len(p.headers))
	for i, v := range rec {
		if i < len(p.headers) {
			row[p.headers[i]] = v
		}
	}
	if len(rec) > len(p.headers) {
		row[ExtraFieldsKey] = strings.Join(rec[len(p.headers):], ",")
	}
	return row
}

// blank matches empty and whitespace-only lines, however many fields they split into.
func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// headerNames strips a UTF-8 BOM and suffixes duplicate names (name, name_1, ...).
func headerNames(rec []string) []string {
	out := make([]string, len(rec))
	seen := make(map[string]bool, len(rec))
	for i, h := range rec {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := h
		for n := 1; seen[name]; n++ {
			name = h + "_" + strconv.Itoa(n)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

func describe(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Errorf("row %d, column %d: %s", pe.Line, pe.Column, pe.Err)
	}
	return fmt.Errorf("read failed: %w", err)
}
