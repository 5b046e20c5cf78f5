// Package pending keeps one user intent across an auth redirect and replays
// it once the user is back with a session.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"padu/internal/domain"
	"padu/internal/routing"
)

// ErrNotConfigured is returned for savePreview when no hosted auth or
// functions client is wired.
var ErrNotConfigured = errors.New("hosted functions are not configured")

// ErrMalformed marks a stored action that is not valid JSON.
var ErrMalformed = errors.New("malformed pending action")

// Key is the KV key of the single pending-action slot.
const Key = "pendingAction"

// Slot is a single overwrite-on-save cell in the KV namespace.
type Slot struct {
	kv domain.KV
}

func NewSlot(kv domain.KV) *Slot { return &Slot{kv: kv} }

func (s *Slot) Save(ctx context.Context, a domain.PendingAction) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, Key, b); err != nil {
		return fmt.Errorf("save pending action: %w", err)
	}
	return nil
}

// Load returns domain.ErrNotFound when the slot is empty.
func (s *Slot) Load(ctx context.Context) (domain.PendingAction, error) {
	b, err := s.kv.Get(ctx, Key)
	if err != nil {
		return domain.PendingAction{}, err
	}
	var a domain.PendingAction
	if err := json.Unmarshal(b, &a); err != nil {
		return domain.PendingAction{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return a, nil
}

func (s *Slot) Clear(ctx context.Context) error { return s.kv.Delete(ctx, Key) }

type Outcome string

const (
	Resumed      Outcome = "resumed"
	NoPending    Outcome = "no_pending"
	Failed       Outcome = "failed"
	Unrecognized Outcome = "unrecognized"
)

// Result says what Resume did. To is the navigation target when one was chosen.
type Result struct {
	Outcome Outcome                  `json:"outcome"`
	Type    domain.PendingActionType `json:"type,omitempty"`
	To      string                   `json:"to,omitempty"`
	Err     error                    `json:"-"`
}

type Resumer struct {
	slot   *Slot
	auth   domain.AuthProvider
	fn     domain.FunctionsClient
	nav    domain.Navigator
	routes routing.Config
	log    zerolog.Logger
}

// NewResumer wires the replay dependencies. nav may be nil, in which case the
// target is only reported in Result.To.
func NewResumer(slot *Slot, auth domain.AuthProvider, fn domain.FunctionsClient, nav domain.Navigator, routes routing.Config, log zerolog.Logger) *Resumer {
	return &Resumer{slot: slot, auth: auth, fn: fn, nav: nav, routes: routes, log: log}
}

// Resume reads the slot, performs the stored action and clears the slot
// whatever the outcome.
func (r *Resumer) Resume(ctx context.Context) Result {
	a, err := r.slot.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{Outcome: NoPending}
	}
	defer func() {
		if err := r.slot.Clear(ctx); err != nil {
			r.log.Warn().Err(err).Msg("clear pending action failed")
		}
	}()
	if errors.Is(err, ErrMalformed) {
		r.log.Warn().Err(err).Msg("unreadable pending action")
		return Result{Outcome: Unrecognized, Err: err}
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("load pending action failed")
		return Result{Outcome: Failed, Err: err}
	}

	res := r.run(ctx, a)
	res.Type = a.Type
	ev := r.log.Info()
	if res.Err != nil {
		ev = r.log.Warn().Err(res.Err)
	}
	ev.Str("type", string(a.Type)).Str("outcome", string(res.Outcome)).Msg("pending action")
	return res
}

func (r *Resumer) run(ctx context.Context, a domain.PendingAction) Result {
	switch a.Type {
	case domain.ActionSavePreview:
		var p domain.SavePreviewPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return Result{Outcome: Failed, Err: fmt.Errorf("decode savePreview payload: %w", err)}
		}
		if r.auth == nil || r.fn == nil {
			return Result{Outcome: Failed, Err: ErrNotConfigured}
		}
		s, err := r.auth.GetSession(ctx)
		if err != nil {
			return Result{Outcome: Failed, Err: err}
		}
		saved, err := r.fn.SavePlacePreview(ctx, s.AccessToken, domain.PlacePreview{
			PlaceID:  p.PlaceID,
			Name:     p.Name,
			Platform: p.Platform,
			URL:      p.URL,
		})
		if err != nil {
			return Result{Outcome: Failed, Err: err}
		}
		to := saved.Redirect
		if to == "" {
			to = routing.DashboardPath
		}
		return r.navigate(ctx, r.routes.DashboardURL(to))

	case domain.ActionRedirect:
		var p domain.RedirectPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return Result{Outcome: Failed, Err: fmt.Errorf("decode redirect payload: %w", err)}
		}
		return r.navigate(ctx, routing.SafeNext(p.To))
	}
	return Result{Outcome: Unrecognized}
}

func (r *Resumer) navigate(ctx context.Context, to string) Result {
	if r.nav != nil {
		if err := r.nav.Navigate(ctx, to); err != nil {
			return Result{Outcome: Failed, To: to, Err: err}
		}
	}
	return Result{Outcome: Resumed, To: to}
}
