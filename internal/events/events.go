// Package events is the typed publish/subscribe channel used for
// cross-component signals. The set of event types is closed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	OpenAuthModal  Type = "ui.auth.open_modal"
	ReviewsUpdated Type = "reviews.updated"
	FiltersChanged Type = "filters.changed"
	IngestProgress Type = "ingest.progress"
)

var Types = []Type{OpenAuthModal, ReviewsUpdated, FiltersChanged, IngestProgress}

func (t Type) Valid() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

type Event struct {
	Type    Type            `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type OpenAuthModalPayload struct {
	Mode   string `json:"mode"` // signin | signup
	Reason string `json:"reason,omitempty"`
}

type ReviewsUpdatedPayload struct {
	Count  int    `json:"count"`
	Source string `json:"source"` // csv | sync | clear
}

type FiltersChangedPayload struct {
	Slice string `json:"slice"`
}

type IngestProgressPayload struct {
	Parsed int `json:"parsed"`
	Total  int `json:"total"`
}

// New builds an event, rejecting types outside the closed set.
func New(t Type, payload any) (Event, error) {
	if !t.Valid() {
		return Event{}, fmt.Errorf("events: unknown type %q", t)
	}
	ev := Event{Type: t, At: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("events: marshal %s payload: %w", t, err)
		}
		ev.Payload = b
	}
	return ev, nil
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("events: %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, dst)
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Bus interface {
	Publisher
	Subscribe(t Type, fn func(Event)) (unsubscribe func(), err error)
	Close() error
}

// Emit builds and publishes in one step. A nil publisher is a no-op.
func Emit(ctx context.Context, p Publisher, t Type, payload any) error {
	if p == nil {
		return nil
	}
	ev, err := New(t, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ev)
}
