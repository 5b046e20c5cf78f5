package domain

import "context"

// KV is the durable key/value namespace behind the client stores.
// Get returns ErrNotFound for absent keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type AuthProvider interface {
	// GetSession returns ErrNoSession when nobody is signed in.
	GetSession(ctx context.Context) (Session, error)
	OnAuthStateChange(fn func(ev AuthEvent, s *Session)) (unsubscribe func())
}

type FunctionsClient interface {
	SavePlacePreview(ctx context.Context, accessToken string, p PlacePreview) (SavedPreview, error)
	PlacesAutocomplete(ctx context.Context, query string) ([]PlacePreview, error)
	PlaceByURL(ctx context.Context, url string) (PlacePreview, error)
}

// Navigator performs client-side navigation.
type Navigator interface {
	Navigate(ctx context.Context, to string) error
}
