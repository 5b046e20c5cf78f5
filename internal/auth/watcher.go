// Package auth tracks who is signed in, fed by an AuthProvider.
package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"padu/internal/domain"
	"padu/internal/routing"
)

type State string

const (
	StateUnknown         State = "unknown"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

type listener struct {
	id int
	fn func(State, *domain.User)
}

// Watcher mirrors the provider's session. The initial session query and the
// change subscription race; whichever applies last wins.
type Watcher struct {
	provider domain.AuthProvider
	routes   routing.Config
	log      zerolog.Logger

	mu      sync.Mutex
	state   State
	user    *domain.User
	active  bool
	started bool
	unsub   func()
	ready   chan struct{}

	lmu       sync.Mutex
	listeners []listener
	nextID    int
}

func NewWatcher(p domain.AuthProvider, routes routing.Config, log zerolog.Logger) *Watcher {
	return &Watcher{
		provider: p,
		routes:   routes,
		log:      log,
		state:    StateUnknown,
		ready:    make(chan struct{}),
	}
}

// Start subscribes to session changes and queries the current session in the
// background. Calling it more than once is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started, w.active = true, true
	w.mu.Unlock()

	unsub := w.provider.OnAuthStateChange(func(ev domain.AuthEvent, s *domain.Session) {
		w.log.Debug().Str("event", string(ev)).Msg("auth state change")
		w.apply(s)
	})
	w.mu.Lock()
	if !w.active {
		// Close ran while we were subscribing.
		w.mu.Unlock()
		unsub()
		close(w.ready)
		return
	}
	w.unsub = unsub
	w.mu.Unlock()

	go func() {
		defer close(w.ready)
		s, err := w.provider.GetSession(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNoSession) {
				w.log.Warn().Err(err).Msg("initial session query failed")
			}
			w.apply(nil)
			return
		}
		w.apply(&s)
	}()
}

// Ready is closed once the initial session query has been applied.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Close stops listening. State stays as it was; later provider events are ignored.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.active = false
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (w *Watcher) apply(s *domain.Session) {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	prev := w.state
	if s == nil {
		w.state, w.user = StateUnauthenticated, nil
	} else {
		u := s.User
		w.state, w.user = StateAuthenticated, &u
	}
	st, user := w.state, w.user
	w.mu.Unlock()

	if prev != st {
		w.log.Info().Str("from", string(prev)).Str("to", string(st)).Msg("auth state")
	}

	w.lmu.Lock()
	ls := append([]listener(nil), w.listeners...)
	w.lmu.Unlock()
	for _, l := range ls {
		if !w.isActive() {
			return
		}
		l.fn(st, copyUser(user))
	}
}

func (w *Watcher) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// User returns the signed-in user or nil.
func (w *Watcher) User() *domain.User {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyUser(w.user)
}

// Loading is true until the first session answer arrives.
func (w *Watcher) Loading() bool { return w.State() == StateUnknown }

// Subscribe calls fn after every applied session change.
func (w *Watcher) Subscribe(fn func(State, *domain.User)) func() {
	w.lmu.Lock()
	w.nextID++
	id := w.nextID
	w.listeners = append(w.listeners, listener{id: id, fn: fn})
	w.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.lmu.Lock()
			defer w.lmu.Unlock()
			for i, l := range w.listeners {
				if l.id == id {
					w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// RedirectFor returns where a visitor of path should be sent, if anywhere.
// Nothing redirects while the session is still loading.
func (w *Watcher) RedirectFor(path string) (string, bool) {
	switch w.State() {
	case StateUnauthenticated:
		if routing.IsProtected(path) {
			return w.routes.SignInURL(path), true
		}
	case StateAuthenticated:
		if routing.IsAuthPage(path) {
			return w.routes.DashboardURL(routing.DashboardPath), true
		}
	}
	return "", false
}

func copyUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}
