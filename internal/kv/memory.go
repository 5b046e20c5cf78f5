// Package kv holds the in-process durable-state backend and key namespacing
// shared by every backend.
package kv

import (
	"context"
	"sync"

	"padu/internal/adapters/observability"
	"padu/internal/domain"
)

// Memory is a process-local KV. State does not survive a restart.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemory() *Memory { return &Memory{m: map[string][]byte{}} }

func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		observability.ObserveKV("memory", "miss")
		return nil, domain.ErrNotFound
	}
	observability.ObserveKV("memory", "hit")
	return append([]byte(nil), v...), nil
}

func (s *Memory) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.m[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	observability.ObserveKV("memory", "put")
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	observability.ObserveKV("memory", "del")
	return nil
}

// Namespaced prefixes every key before delegating to the wrapped backend.
type Namespaced struct {
	prefix string
	next   domain.KV
}

func WithNamespace(next domain.KV, prefix string) *Namespaced {
	return &Namespaced{prefix: prefix, next: next}
}

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.next.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Put(ctx context.Context, key string, value []byte) error {
	return n.next.Put(ctx, n.prefix+key, value)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.next.Delete(ctx, n.prefix+key)
}
