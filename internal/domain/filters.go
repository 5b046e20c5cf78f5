package domain

import (
	"slices"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type DatePreset string

const (
	Preset7d     DatePreset = "7d"
	Preset30d    DatePreset = "30d"
	Preset90d    DatePreset = "90d"
	Preset365d   DatePreset = "365d"
	PresetCustom DatePreset = "custom"
	PresetAll    DatePreset = "all"
)

func (p DatePreset) days() int {
	switch p {
	case Preset7d:
		return 7
	case Preset30d:
		return 30
	case Preset90d:
		return 90
	case Preset365d:
		return 365
	}
	return 0
}

// Range resolves a rolling preset against now. Custom and all return ok=false.
func (p DatePreset) Range(now time.Time) (start, end string, ok bool) {
	d := p.days()
	if d == 0 {
		return "", "", false
	}
	today := now.UTC()
	return today.AddDate(0, 0, -(d - 1)).Format(DateLayout), today.Format(DateLayout), true
}

// DateFilterState is the dashboard-wide date range.
type DateFilterState struct {
	Preset DatePreset `json:"preset"`
	Start  string     `json:"start"`
	End    string     `json:"end"`
}

func DefaultDateFilter(now time.Time) DateFilterState {
	s, e, _ := Preset30d.Range(now)
	return DateFilterState{Preset: Preset30d, Start: s, End: e}
}

type DateFilterPatch struct {
	Preset *DatePreset `json:"preset,omitempty"`
	Start  *string     `json:"start,omitempty"`
	End    *string     `json:"end,omitempty"`
}

func (s DateFilterState) Merge(p DateFilterPatch) DateFilterState {
	if p.Preset != nil {
		s.Preset = *p.Preset
	}
	if p.Start != nil {
		s.Start = *p.Start
	}
	if p.End != nil {
		s.End = *p.End
	}
	return s
}

// SentimentAll is the wildcard value of ReviewFiltersState.Sentiment.
const SentimentAll = "all"

type ReviewFiltersState struct {
	DatePreset DatePreset `json:"datePreset"`
	Start      string     `json:"start"`
	End        string     `json:"end"`
	Platforms  []Platform `json:"platforms"`
	Sentiment  string     `json:"sentiment"`
	Topics     []string   `json:"topics"`
	Query      string     `json:"query"`
}

func DefaultReviewFilters(now time.Time) ReviewFiltersState {
	d := DefaultDateFilter(now)
	return ReviewFiltersState{
		DatePreset: d.Preset,
		Start:      d.Start,
		End:        d.End,
		Platforms:  []Platform{},
		Sentiment:  SentimentAll,
		Topics:     []string{},
	}
}

// Clone returns s with its own Platforms and Topics.
func (s ReviewFiltersState) Clone() ReviewFiltersState {
	s.Platforms = slices.Clone(s.Platforms)
	s.Topics = slices.Clone(s.Topics)
	return s
}

// ReviewFiltersPatch carries the fields to overwrite; nil fields keep their value.
type ReviewFiltersPatch struct {
	DatePreset *DatePreset `json:"datePreset,omitempty"`
	Start      *string     `json:"start,omitempty"`
	End        *string     `json:"end,omitempty"`
	Platforms  *[]Platform `json:"platforms,omitempty"`
	Sentiment  *string     `json:"sentiment,omitempty"`
	Topics     *[]string   `json:"topics,omitempty"`
	Query      *string     `json:"query,omitempty"`
}

func (s ReviewFiltersState) Merge(p ReviewFiltersPatch) ReviewFiltersState {
	if p.DatePreset != nil {
		s.DatePreset = *p.DatePreset
	}
	if p.Start != nil {
		s.Start = *p.Start
	}
	if p.End != nil {
		s.End = *p.End
	}
	if p.Platforms != nil {
		s.Platforms = slices.Clone(*p.Platforms)
	}
	if p.Sentiment != nil {
		s.Sentiment = *p.Sentiment
	}
	if p.Topics != nil {
		s.Topics = slices.Clone(*p.Topics)
	}
	if p.Query != nil {
		s.Query = *p.Query
	}
	return s
}

// Match reports whether r passes every active filter. Empty lists, "all" and
// empty bounds act as wildcards. Dates compare on their YYYY-MM-DD prefix.
func (s ReviewFiltersState) Match(r ReviewRow) bool {
	day := r.Date
	if len(day) > len(DateLayout) {
		day = day[:len(DateLayout)]
	}
	if s.DatePreset != PresetAll {
		if s.Start != "" && day < s.Start {
			return false
		}
		if s.End != "" && day > s.End {
			return false
		}
	}
	if len(s.Platforms) > 0 && !slices.Contains(s.Platforms, r.Platform) {
		return false
	}
	if s.Sentiment != "" && s.Sentiment != SentimentAll && Sentiment(s.Sentiment) != r.Sentiment {
		return false
	}
	if len(s.Topics) > 0 {
		hit := false
		for _, t := range r.Topics {
			if slices.Contains(s.Topics, t) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if q := strings.ToLower(strings.TrimSpace(s.Query)); q != "" {
		hay := strings.ToLower(r.Text)
		if r.Title != nil {
			hay += " " + strings.ToLower(*r.Title)
		}
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}
