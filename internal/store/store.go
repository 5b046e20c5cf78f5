// Package store implements the client state slices: a value, a listener list
// and get/subscribe/set, persisted as JSON under one key per slice.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"padu/internal/adapters/observability"
	"padu/internal/domain"
)

// Keys owned by the slices. Each key is written by exactly one store.
const (
	KeyDateFilter    = "globalDateFilter"
	KeyReviewFilters = "reviewFilters"
	KeyReviews       = "reviews"
)

type listener struct {
	id int
	fn func()
}

// Store is one persisted state slice.
//
// Update calls are serialized: merge, persist and notify of one call finish
// before the next call starts. Listeners run synchronously on the updating
// goroutine, in registration order, and must not call Update themselves.
type Store[S any] struct {
	name  string
	key   string
	kv    domain.KV
	log   zerolog.Logger
	clone func(S) S

	mu    sync.RWMutex
	state S

	setMu sync.Mutex

	lmu       sync.Mutex
	listeners []listener
	nextID    int
	closed    bool
}

// Slice describes how a Store loads its initial value.
type Slice[S any] struct {
	Name string
	Key  string
	// Default is used when nothing is persisted or the payload is malformed.
	Default func() S
	// Valid rejects decoded values that are well-formed JSON but unusable.
	Valid func(S) bool
	// Clone deep-copies values handed out by Get. Nil means S holds no
	// shared references.
	Clone func(S) S
}

// Open loads the slice once from kv. Missing, unreadable or malformed state
// falls back to the default without surfacing an error.
func Open[S any](ctx context.Context, kv domain.KV, sl Slice[S], log zerolog.Logger) *Store[S] {
	s := &Store[S]{name: sl.Name, key: sl.Key, kv: kv, clone: sl.Clone, log: log.With().Str("slice", sl.Name).Logger()}
	s.state = s.load(ctx, sl)
	return s
}

func (s *Store[S]) load(ctx context.Context, sl Slice[S]) S {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Msg("state read failed, using default")
		}
		return sl.Default()
	}
	var v S
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Debug().Err(err).Msg("malformed persisted state, using default")
		return sl.Default()
	}
	if sl.Valid != nil && !sl.Valid(v) {
		s.log.Debug().Msg("invalid persisted state, using default")
		return sl.Default()
	}
	return v
}

// Get returns a copy of the current value; callers may modify it freely.
// It never blocks on I/O.
func (s *Store[S]) Get() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.clone != nil {
		return s.clone(s.state)
	}
	return s.state
}

// Subscribe registers fn; the returned func removes it and is safe to call twice.
func (s *Store[S]) Subscribe(fn func()) (unsubscribe func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Update replaces the state with fn(current), persists it and notifies
// listeners. The in-memory value and the notification happen even when the
// write fails; the write error is returned.
func (s *Store[S]) Update(ctx context.Context, fn func(S) S) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	next := fn(s.state)
	s.state = next
	s.mu.Unlock()

	observability.ObserveStoreSet(s.name)
	err := s.persist(ctx, next)
	s.notify()
	return err
}

// Reset drops the persisted key and sets the state to v.
func (s *Store[S]) Reset(ctx context.Context, v S) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	s.state = v
	s.mu.Unlock()

	observability.ObserveStoreSet(s.name)
	err := s.kv.Delete(ctx, s.key)
	if err != nil {
		err = fmt.Errorf("%s: delete state: %w", s.name, err)
		s.log.Warn().Err(err).Msg("state delete failed")
	}
	s.notify()
	return err
}

// Close detaches every listener. Later Subscribe calls are no-ops.
func (s *Store[S]) Close() {
	s.lmu.Lock()
	s.listeners = nil
	s.closed = true
	s.lmu.Unlock()
}

func (s *Store[S]) persist(ctx context.Context, v S) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal state: %w", s.name, err)
	}
	if err := s.kv.Put(ctx, s.key, b); err != nil {
		s.log.Warn().Err(err).Msg("state write failed")
		return fmt.Errorf("%s: write state: %w", s.name, err)
	}
	return nil
}

func (s *Store[S]) notify() {
	s.lmu.Lock()
	ls := make([]listener, len(s.listeners))
	copy(ls, s.listeners)
	s.lmu.Unlock()
	for _, l := range ls {
		l.fn()
	}
}
