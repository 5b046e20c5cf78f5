package store

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"padu/internal/domain"
)

// DateFilterStore holds the dashboard-wide date range.
type DateFilterStore struct {
	*Store[domain.DateFilterState]
	now func() time.Time
}

func OpenDateFilter(ctx context.Context, kv domain.KV, now func() time.Time, log zerolog.Logger) *DateFilterStore {
	st := Open(ctx, kv, Slice[domain.DateFilterState]{
		Name:    "date_filter",
		Key:     KeyDateFilter,
		Default: func() domain.DateFilterState { return domain.DefaultDateFilter(now()) },
		Valid:   func(s domain.DateFilterState) bool { return s.Preset != "" },
	}, log)
	return &DateFilterStore{Store: st, now: now}
}

func (s *DateFilterStore) Set(ctx context.Context, p domain.DateFilterPatch) error {
	return s.Update(ctx, func(cur domain.DateFilterState) domain.DateFilterState { return cur.Merge(p) })
}

// SelectPreset switches to a rolling preset and recomputes its range.
// Custom and all keep the current bounds.
func (s *DateFilterStore) SelectPreset(ctx context.Context, p domain.DatePreset) error {
	patch := domain.DateFilterPatch{Preset: &p}
	if start, end, ok := p.Range(s.now()); ok {
		patch.Start, patch.End = &start, &end
	}
	return s.Set(ctx, patch)
}

// FiltersStore holds the review list filters.
type FiltersStore struct {
	*Store[domain.ReviewFiltersState]
	now func() time.Time
}

func OpenFilters(ctx context.Context, kv domain.KV, now func() time.Time, log zerolog.Logger) *FiltersStore {
	st := Open(ctx, kv, Slice[domain.ReviewFiltersState]{
		Name:    "review_filters",
		Key:     KeyReviewFilters,
		Default: func() domain.ReviewFiltersState { return domain.DefaultReviewFilters(now()) },
		Valid: func(s domain.ReviewFiltersState) bool {
			return s.DatePreset != "" && s.Sentiment != ""
		},
		Clone: domain.ReviewFiltersState.Clone,
	}, log)
	return &FiltersStore{Store: st, now: now}
}

// Set shallow-merges p into the current filters.
func (s *FiltersStore) Set(ctx context.Context, p domain.ReviewFiltersPatch) error {
	return s.Update(ctx, func(cur domain.ReviewFiltersState) domain.ReviewFiltersState { return cur.Merge(p) })
}

// Clear restores the default filters (and persists them).
func (s *FiltersStore) Clear(ctx context.Context) error {
	def := domain.DefaultReviewFilters(s.now())
	return s.Update(ctx, func(domain.ReviewFiltersState) domain.ReviewFiltersState { return def })
}

// ReviewsStore holds the ingested review rows as one array.
type ReviewsStore struct {
	*Store[[]domain.ReviewRow]
}

func OpenReviews(ctx context.Context, kv domain.KV, log zerolog.Logger) *ReviewsStore {
	st := Open(ctx, kv, Slice[[]domain.ReviewRow]{
		Name:    "reviews",
		Key:     KeyReviews,
		Default: func() []domain.ReviewRow { return []domain.ReviewRow{} },
		Valid:   func(rs []domain.ReviewRow) bool { return rs != nil },
		Clone:   cloneRows,
	}, log)
	return &ReviewsStore{Store: st}
}

func cloneRows(rs []domain.ReviewRow) []domain.ReviewRow {
	out := slices.Clone(rs)
	for i := range out {
		out[i].Topics = slices.Clone(out[i].Topics)
	}
	return out
}

// Set replaces every row.
func (s *ReviewsStore) Set(ctx context.Context, rows []domain.ReviewRow) error {
	cp := cloneRows(rows)
	if cp == nil {
		cp = []domain.ReviewRow{}
	}
	return s.Update(ctx, func([]domain.ReviewRow) []domain.ReviewRow { return cp })
}

// Append adds rows after the existing ones.
func (s *ReviewsStore) Append(ctx context.Context, rows []domain.ReviewRow) error {
	return s.Update(ctx, func(cur []domain.ReviewRow) []domain.ReviewRow {
		out := make([]domain.ReviewRow, 0, len(cur)+len(rows))
		return append(append(out, cur...), cloneRows(rows)...)
	})
}

// Clear removes every row and the persisted key.
func (s *ReviewsStore) Clear(ctx context.Context) error {
	return s.Reset(ctx, []domain.ReviewRow{})
}
