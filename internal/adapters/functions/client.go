// Package functions calls the hosted edge functions (POST {base}/functions/v1/{name}).
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"padu/internal/adapters/observability"
	"padu/internal/domain"
)

const (
	SavePlacePreviewFn   = "save-place-preview"
	PlacesAutocompleteFn = "places-autocomplete"
	PlaceByURLFn         = "place-by-url"
)

// Error is returned for any non-2xx response. Message comes from the body's
// error, message or msg field when present.
type Error struct {
	Function string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Function, e.Status, e.Message)
}

// Is lets callers match a 404 against domain.ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == domain.ErrNotFound && e.Status == http.StatusNotFound
}

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, anonKey string, rps int) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("functions base URL is required")
	}
	if anonKey == "" {
		return nil, fmt.Errorf("anon key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 20 * time.Second},
		key:  anonKey,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

var _ domain.FunctionsClient = (*Client)(nil)

// SavePlacePreview stores a place preview for the signed-in user. accessToken
// must be the user's session token.
func (c *Client) SavePlacePreview(ctx context.Context, accessToken string, p domain.PlacePreview) (domain.SavedPreview, error) {
	if accessToken == "" {
		return domain.SavedPreview{}, domain.ErrNoSession
	}
	var out domain.SavedPreview
	return out, c.invoke(ctx, SavePlacePreviewFn, accessToken, p, &out)
}

func (c *Client) PlacesAutocomplete(ctx context.Context, query string) ([]domain.PlacePreview, error) {
	var out struct {
		Predictions []domain.PlacePreview `json:"predictions"`
	}
	if err := c.invoke(ctx, PlacesAutocompleteFn, "", map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	if out.Predictions == nil {
		out.Predictions = []domain.PlacePreview{}
	}
	return out.Predictions, nil
}

func (c *Client) PlaceByURL(ctx context.Context, url string) (domain.PlacePreview, error) {
	var out domain.PlacePreview
	return out, c.invoke(ctx, PlaceByURLFn, "", map[string]string{"url": url}, &out)
}

// invoke posts in as JSON and decodes the response into out. There are no
// retries; the caller decides what to do with a failure.
func (c *Client) invoke(ctx context.Context, name, token string, in, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/functions/v1/"+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if token == "" {
		token = c.key
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "padu/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("functions", name, 0, time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("functions", name, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: decode response: %w", name, err)
		}
		return nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Function: name, Status: resp.StatusCode, Message: errorMessage(b)}
	}
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(b []byte) string {
	var body map[string]any
	if json.Unmarshal(b, &body) == nil {
		for _, k := range []string{"error", "message", "msg"} {
			if s, ok := body[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return "request failed"
}
