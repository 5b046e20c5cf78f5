package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS carries events between processes. Subjects are prefix + event type.
type NATS struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATS(url, token, prefix string, log zerolog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("padu"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{conn: nc, prefix: prefix, log: log}, nil
}

func (b *NATS) subject(t Type) string { return b.prefix + string(t) }

func (b *NATS) Publish(_ context.Context, ev Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("events: unknown type %q", ev.Type)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.conn.Publish(b.subject(ev.Type), payload)
}

func (b *NATS) Subscribe(t Type, fn func(Event)) (func(), error) {
	if !t.Valid() {
		return nil, fmt.Errorf("events: unknown type %q", t)
	}
	sub, err := b.conn.Subscribe(b.subject(t), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("drop malformed event")
			return
		}
		if ev.Type != t {
			b.log.Warn().Str("subject", msg.Subject).Str("type", string(ev.Type)).Msg("drop mismatched event")
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject(t), err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.log.Info().Str("subject", b.subject(t)).Msg("subscribed")
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NATS) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()
	b.conn.Close()
	return nil
}
