package domain

import "time"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type AuthEvent string

const (
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

type PlacePreview struct {
	PlaceID  string  `json:"placeId"`
	Name     string  `json:"name"`
	Address  string  `json:"address,omitempty"`
	Platform string  `json:"platform,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	URL      string  `json:"url,omitempty"`
}

type SavedPreview struct {
	ID       string `json:"id"`
	Redirect string `json:"redirect,omitempty"`
}
