package events

import (
	"context"
	"fmt"
	"sync"
)

type handler struct {
	id int
	fn func(Event)
}

// Local dispatches synchronously on the publishing goroutine, in
// subscription order.
type Local struct {
	mu     sync.Mutex
	subs   map[Type][]handler
	nextID int
	closed bool
}

func NewLocal() *Local { return &Local{subs: map[Type][]handler{}} }

func (b *Local) Publish(_ context.Context, ev Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("events: unknown type %q", ev.Type)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("events: bus closed")
	}
	hs := append([]handler(nil), b.subs[ev.Type]...)
	b.mu.Unlock()
	for _, h := range hs {
		h.fn(ev)
	}
	return nil
}

func (b *Local) Subscribe(t Type, fn func(Event)) (func(), error) {
	if !t.Valid() {
		return nil, fmt.Errorf("events: unknown type %q", t)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("events: bus closed")
	}
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], handler{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.subs[t]
		for i, h := range hs {
			if h.id == id {
				b.subs[t] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}, nil
}

func (b *Local) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = map[Type][]handler{}
	b.mu.Unlock()
	return nil
}
