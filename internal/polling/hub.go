// /internal/polling/hub.go

// Package polling is the per-guild wake primitive behind the long-poll
// surface. Clients park on their guild until something about it changes or
// the poll window closes. Notifications are not queued: whoever is parked
// when Publish fires gets woken, a later subscriber starts fresh.
package polling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/trackdeck/pkg/waitmap"
)

// Hub fans guild change notifications out to long-poll waiters.
type Hub struct {
	waiters *waitmap.Map[int64]
	timeout time.Duration
	log     zerolog.Logger
}

func New(timeout time.Duration, log zerolog.Logger) *Hub {
	return &Hub{
		waiters: waitmap.New[int64](),
		timeout: timeout,
		log:     log.With().Str("component", "polling").Logger(),
	}
}

// Subscribe blocks until the guild is published, the poll window elapses, or
// ctx ends. Reports whether a publish woke the caller. The guild's map entry
// lives only while it has waiters.
func (h *Hub) Subscribe(ctx context.Context, guild int64) bool {
	_, woken := h.waiters.Wait(ctx, guild, h.timeout)
	return woken
}

// Publish wakes every subscriber currently parked on the guild.
func (h *Hub) Publish(guild int64) {
	if h.waiters.Notify(guild, nil) {
		h.log.Debug().Int64("guild", guild).Msg("notified long-poll waiters")
	}
}

// Waiting reports how many subscribers are parked on the guild.
func (h *Hub) Waiting(guild int64) int {
	return h.waiters.Waiting(guild)
}
