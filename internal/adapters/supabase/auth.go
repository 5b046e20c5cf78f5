// Package supabase is the hosted auth (GoTrue) adapter. It keeps the current
// session in the durable KV namespace and implements domain.AuthProvider.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"padu/internal/adapters/observability"
	"padu/internal/domain"
)

// SessionKey is the KV key holding the persisted session.
const SessionKey = "auth:session"

// refreshLeeway refreshes tokens slightly before they expire.
const refreshLeeway = 30 * time.Second

// AuthError is a non-2xx GoTrue response.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %d %s", e.Status, e.Message) }

type listener struct {
	id int
	fn func(domain.AuthEvent, *domain.Session)
}

type Client struct {
	base string
	key  string
	hc   *http.Client
	kv   domain.KV
	log  zerolog.Logger
	now  func() time.Time

	// serializes session writes (sign in, refresh, sign out)
	wmu sync.Mutex

	lmu       sync.Mutex
	listeners []listener
	nextID    int
}

func New(base, anonKey string, kv domain.KV, log zerolog.Logger) (*Client, error) {
	if base == "" || anonKey == "" {
		return nil, fmt.Errorf("supabase url and anon key are required")
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		key:  anonKey,
		hc:   &http.Client{Timeout: 15 * time.Second},
		kv:   kv,
		log:  log,
		now:  time.Now,
	}, nil
}

var _ domain.AuthProvider = (*Client)(nil)

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         domain.User `json:"user"`
}

func (t tokenResponse) session(now time.Time) domain.Session {
	s := domain.Session{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, User: t.User}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return s
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (domain.Session, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	var tr tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/auth/v1/token?grant_type=password", "token", "", body, &tr); err != nil {
		return domain.Session{}, err
	}
	s := tr.session(c.now())
	if err := c.save(ctx, s); err != nil {
		return domain.Session{}, err
	}
	c.log.Info().Str("user", s.User.ID).Msg("signed in")
	c.emit(domain.AuthSignedIn, &s)
	return s, nil
}

// Refresh exchanges the stored refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (domain.Session, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	cur, err := c.load(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	return c.refresh(ctx, cur)
}

func (c *Client) refresh(ctx context.Context, cur domain.Session) (domain.Session, error) {
	if cur.RefreshToken == "" {
		return domain.Session{}, domain.ErrNoSession
	}
	var tr tokenResponse
	body := map[string]string{"refresh_token": cur.RefreshToken}
	if err := c.post(ctx, "/auth/v1/token?grant_type=refresh_token", "refresh", "", body, &tr); err != nil {
		var ae *AuthError
		if errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 && ae.Status != http.StatusTooManyRequests {
			// refresh token revoked or expired: the session is gone
			c.clear(ctx)
			c.emit(domain.AuthSignedOut, nil)
			return domain.Session{}, domain.ErrNoSession
		}
		return domain.Session{}, fmt.Errorf("refresh session: %w", err)
	}
	s := tr.session(c.now())
	if s.User.ID == "" {
		s.User = cur.User
	}
	if err := c.save(ctx, s); err != nil {
		return domain.Session{}, err
	}
	c.log.Debug().Str("user", s.User.ID).Msg("session refreshed")
	c.emit(domain.AuthTokenRefreshed, &s)
	return s, nil
}

// SignOut revokes the session remotely (best effort) and always drops it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	cur, err := c.load(ctx)
	if errors.Is(err, domain.ErrNoSession) {
		return nil
	}
	if err == nil {
		if err := c.post(ctx, "/auth/v1/logout", "logout", cur.AccessToken, nil, nil); err != nil {
			c.log.Warn().Err(err).Msg("remote sign-out failed")
		}
	}
	c.clear(ctx)
	c.emit(domain.AuthSignedOut, nil)
	return nil
}

// GetSession returns the stored session, refreshing it when it is about to
// expire. ErrNoSession means nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (domain.Session, error) {
	s, err := c.load(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if !s.Expired(c.now().Add(refreshLeeway)) {
		return s, nil
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	// another caller may have refreshed while we waited
	if s, err = c.load(ctx); err != nil {
		return domain.Session{}, err
	}
	if !s.Expired(c.now().Add(refreshLeeway)) {
		return s, nil
	}
	return c.refresh(ctx, s)
}

// OnAuthStateChange registers fn for sign-in, refresh and sign-out events.
// fn runs synchronously on the goroutine that changed the session.
func (c *Client) OnAuthStateChange(fn func(domain.AuthEvent, *domain.Session)) func() {
	c.lmu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			defer c.lmu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Client) emit(ev domain.AuthEvent, s *domain.Session) {
	c.lmu.Lock()
	ls := append([]listener(nil), c.listeners...)
	c.lmu.Unlock()
	for _, l := range ls {
		var cp *domain.Session
		if s != nil {
			v := *s
			cp = &v
		}
		l.fn(ev, cp)
	}
}

func (c *Client) load(ctx context.Context) (domain.Session, error) {
	b, err := c.kv.Get(ctx, SessionKey)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, domain.ErrNoSession
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil || s.AccessToken == "" {
		c.log.Debug().Err(err).Msg("discarding malformed session")
		return domain.Session{}, domain.ErrNoSession
	}
	return s, nil
}

func (c *Client) save(ctx context.Context, s domain.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.kv.Put(ctx, SessionKey, b); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (c *Client) clear(ctx context.Context) {
	if err := c.kv.Delete(ctx, SessionKey); err != nil {
		c.log.Warn().Err(err).Msg("drop session failed")
	}
}

func (c *Client) post(ctx context.Context, path, endpoint, token string, in, out any) error {
	var rd io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("gotrue", endpoint, 0, time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("gotrue", endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &AuthError{Status: resp.StatusCode, Message: authMessage(b)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func authMessage(b []byte) string {
	var body map[string]any
	if json.Unmarshal(b, &body) == nil {
		for _, k := range []string{"error_description", "msg", "message", "error"} {
			if s, ok := body[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return "request failed"
}
