package app

import (
	"sort"

	"padu/internal/domain"
	"padu/internal/store"
)

type QueryService struct {
	reviews *store.ReviewsStore
	filters *store.FiltersStore
}

func NewQueryService(r *store.ReviewsStore, f *store.FiltersStore) *QueryService {
	return &QueryService{reviews: r, filters: f}
}

// ListReviews returns the stored rows passing the current filters, newest first.
func (s *QueryService) ListReviews(limit int) []domain.ReviewRow {
	return s.ListReviewsWith(s.filters.Get(), limit)
}

// ListReviewsWith applies f instead of the stored filters. limit <= 0 means all.
func (s *QueryService) ListReviewsWith(f domain.ReviewFiltersState, limit int) []domain.ReviewRow {
	all := s.reviews.Get()
	out := make([]domain.ReviewRow, 0, len(all))
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary aggregates the rows passing the current filters.
func (s *QueryService) Summary() domain.ReviewSummary {
	return summarize(s.ListReviewsWith(s.filters.Get(), 0))
}

func summarize(rows []domain.ReviewRow) domain.ReviewSummary {
	sum := domain.ReviewSummary{
		Total:       len(rows),
		BySentiment: map[domain.Sentiment]int{},
		ByPlatform:  map[domain.Platform]int{},
	}
	var rated int
	var total float64
	for _, r := range rows {
		sum.BySentiment[r.Sentiment]++
		sum.ByPlatform[r.Platform]++
		if r.Rating > 0 {
			rated++
			total += r.Rating
		}
	}
	if rated > 0 {
		sum.AverageRating = total / float64(rated)
	}
	return sum
}
