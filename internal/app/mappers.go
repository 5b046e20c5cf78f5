package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"padu/internal/domain"
)

/********** alias registry (single source of truth) **********/

// Header aliases, compared after normalizeHeader.
var reviewAliases = map[string][]string{
	"id":        {"id", "reviewid", "externalid", "sourceid"},
	"date":      {"date", "reviewdate", "createdat", "created", "publishedat", "published", "time", "timestamp"},
	"platform":  {"platform", "source", "site", "provider", "origin", "channel"},
	"rating":    {"rating", "score", "stars", "rate", "overall", "overallrating"},
	"text":      {"text", "review", "reviewtext", "comment", "content", "body", "message"},
	"title":     {"title", "reviewtitle", "headline", "summary", "subject"},
	"sentiment": {"sentiment", "polarity", "tone"},
	"topics":    {"topics", "topic", "tags", "aspects", "categories", "themes"},
	"pros":      {"pros", "positive", "liked", "positivereview"},
	"cons":      {"cons", "negative", "disliked", "negativereview"},
}

// rowIDSpace seeds the name-based UUIDs for rows without an explicit id.
var rowIDSpace = uuid.MustParse("3c0f5d0e-6f7a-4a55-9d1b-7b2f3f0e4a11")

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

/********** tiny helpers **********/

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
}

// headerIndex maps each alias key to the first header that matches it.
func headerIndex(headers []string) map[string]string {
	norm := make(map[string]string, len(headers))
	for _, h := range headers {
		if _, ok := norm[normalizeHeader(h)]; !ok {
			norm[normalizeHeader(h)] = h
		}
	}
	idx := make(map[string]string, len(reviewAliases))
	for key, aliases := range reviewAliases {
		for _, a := range aliases {
			if h, ok := norm[a]; ok {
				idx[key] = h
				break
			}
		}
	}
	return idx
}

// parseFloatFlexible accepts "4", "4.5" and "4,5".
func parseFloatFlexible(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// normalizeDate returns YYYY-MM-DD for date-only inputs, RFC 3339 otherwise.
// Unrecognized values pass through trimmed.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		t, err := time.Parse(l, s)
		if err != nil {
			continue
		}
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(domain.DateLayout)
		}
		return t.UTC().Format(time.RFC3339)
	}
	return s
}

// splitTopics splits on ; | or , and keeps first occurrences in order.
func splitTopics(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' || r == ',' })
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		t := strings.ToLower(strings.TrimSpace(p))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

/********** row mapper **********/

// mapRows turns preview rows into review rows. fallback is used when a row
// names no platform; rows whose platform stays unknown are skipped.
func mapRows(headers []string, rows []domain.Row, fallback domain.Platform) (out []domain.ReviewRow, skipped int) {
	idx := headerIndex(headers)
	get := func(r domain.Row, key string) string {
		h, ok := idx[key]
		if !ok {
			return ""
		}
		return strings.TrimSpace(r[h])
	}

	out = make([]domain.ReviewRow, 0, len(rows))
	for _, r := range rows {
		var rv domain.ReviewRow

		// Platform → explicit column, else the caller's fallback.
		if p, ok := domain.ParsePlatform(get(r, "platform")); ok {
			rv.Platform = p
		} else if fallback != "" {
			rv.Platform = fallback
		} else {
			skipped++
			continue
		}

		rv.Date = normalizeDate(get(r, "date"))
		if f, ok := parseFloatFlexible(get(r, "rating")); ok {
			rv.Rating = f
		}
		rv.Text = get(r, "text")
		if rv.Text == "" {
			pros, cons := get(r, "pros"), get(r, "cons")
			if pros != "" || cons != "" {
				rv.Text = strings.TrimSpace("Pros: " + pros + "\nCons: " + cons)
			}
		}
		if t := get(r, "title"); t != "" {
			rv.Title = &t
		}

		// Sentiment → explicit column, else bucketed rating.
		if s, ok := domain.ParseSentiment(get(r, "sentiment")); ok {
			rv.Sentiment = s
		} else {
			rv.Sentiment = domain.SentimentFromRating(rv.Rating)
		}

		rv.Topics = splitTopics(get(r, "topics"))

		// ID → explicit; else a stable name-based UUID so re-imports match.
		if id := get(r, "id"); id != "" {
			rv.ID = id
		} else {
			sig := strings.Join([]string{
				rv.Date, string(rv.Platform), strconv.FormatFloat(rv.Rating, 'f', 3, 64),
				deref(rv.Title), rv.Text,
			}, "|")
			rv.ID = uuid.NewSHA1(rowIDSpace, []byte(sig)).String()
		}

		out = append(out, rv)
	}
	return out, skipped
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
