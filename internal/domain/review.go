package domain

import "strings"

type Platform string

const (
	PlatformGoogle      Platform = "google"
	PlatformTripAdvisor Platform = "tripadvisor"
	PlatformBooking     Platform = "booking"
)

var Platforms = []Platform{PlatformGoogle, PlatformTripAdvisor, PlatformBooking}

// ParsePlatform normalizes free-form source names ("Trip Advisor", "booking.com").
func ParsePlatform(s string) (Platform, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer(" ", "", "-", "", "_", "", ".com", "").Replace(k)
	switch k {
	case "google", "googlemaps", "gmb", "googlebusiness":
		return PlatformGoogle, true
	case "tripadvisor", "ta":
		return PlatformTripAdvisor, true
	case "booking", "bookingcom":
		return PlatformBooking, true
	}
	return "", false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func ParseSentiment(s string) (Sentiment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pos", "+":
		return SentimentPositive, true
	case "neutral", "neu", "mixed", "0":
		return SentimentNeutral, true
	case "negative", "neg", "-":
		return SentimentNegative, true
	}
	return "", false
}

// SentimentFromRating buckets a 1..5 rating; the range itself is not enforced.
func SentimentFromRating(r float64) Sentiment {
	switch {
	case r >= 4:
		return SentimentPositive
	case r >= 3:
		return SentimentNeutral
	case r > 0:
		return SentimentNegative
	}
	return SentimentNeutral
}

type ReviewRow struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"` // ISO 8601
	Platform  Platform  `json:"platform"`
	Rating    float64   `json:"rating"`
	Text      string    `json:"text"`
	Title     *string   `json:"title,omitempty"`
	Sentiment Sentiment `json:"sentiment"`
	Topics    []string  `json:"topics"`
}

type ReviewSummary struct {
	Total         int               `json:"total"`
	AverageRating float64           `json:"averageRating"`
	BySentiment   map[Sentiment]int `json:"bySentiment"`
	ByPlatform    map[Platform]int  `json:"byPlatform"`
}
