package app

import (
	"context"

	"github.com/rs/zerolog"

	"padu/internal/events"
	"padu/internal/store"
)

// AnnounceFilterChanges publishes filters.changed whenever either filter store
// is set. The returned func stops it.
func AnnounceFilterChanges(bus events.Publisher, dates *store.DateFilterStore, filters *store.FiltersStore, log zerolog.Logger) func() {
	announce := func(slice string) func() {
		return func() {
			if err := events.Emit(context.Background(), bus, events.FiltersChanged, events.FiltersChangedPayload{Slice: slice}); err != nil {
				log.Warn().Err(err).Str("slice", slice).Msg("publish filters.changed failed")
			}
		}
	}
	u1 := dates.Subscribe(announce(store.KeyDateFilter))
	u2 := filters.Subscribe(announce(store.KeyReviewFilters))
	return func() { u1(); u2() }
}
