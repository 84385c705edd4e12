// /internal/player/sessions.go
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/trackdeck/internal/cache"
	"github.com/keshon/trackdeck/internal/gateway"
	"github.com/keshon/trackdeck/pkg/waitmap"
)

// GatewayClient is the slice of the bus this package needs: voice-connection
// queries and join/leave instructions.
type GatewayClient interface {
	GetConnected(ctx context.Context, guild int64, member *int64) (*gateway.Connected, error)
	SetConnected(ctx context.Context, guild int64, channel *int64) error
}

// StateFetcher fetches a live player snapshot from the audio engine.
type StateFetcher interface {
	PlayerState(ctx context.Context, guild int64) (*State, error)
}

// Sessions serves derived player sessions out of the KV cache and owns the
// reconnect coordination for guilds whose engine session has gone stale.
type Sessions struct {
	cache      *cache.Cache
	gw         GatewayClient
	engine     StateFetcher
	reconnects *waitmap.Map[int64]
	settle     time.Duration
	ttl        time.Duration
	log        zerolog.Logger
}

func NewSessions(c *cache.Cache, gw GatewayClient, engine StateFetcher, settle, ttl time.Duration, log zerolog.Logger) *Sessions {
	return &Sessions{
		cache:      c,
		gw:         gw,
		engine:     engine,
		reconnects: waitmap.New[int64](),
		settle:     settle,
		ttl:        ttl,
		log:        log.With().Str("component", "player").Logger(),
	}
}

// Get returns the guild's live session. Cache hits are served directly with
// the position derived to now. On a miss the guild must actually be
// connected; then a direct engine fetch refills the cache, and if even that
// fails a single coalesced reconnect round trip is attempted before giving
// up with ErrUnavailable.
func (s *Sessions) Get(ctx context.Context, guild int64) (*Session, error) {
	if st, ok := s.cached(guild); ok {
		session := sessionFrom(guild, *st, time.Now())
		return &session, nil
	}

	connected, err := s.gw.GetConnected(ctx, guild, nil)
	if err != nil {
		return nil, busErr(err)
	}
	if connected == nil {
		return nil, ErrNotConnected
	}

	if st, err := s.engine.PlayerState(ctx, guild); err == nil {
		if err := s.StoreState(guild, *st); err != nil {
			return nil, err
		}
		session := sessionFrom(guild, *st, time.Now())
		return &session, nil
	}

	s.log.Debug().Int64("guild", guild).Msg("engine fetch failed, reconnecting")
	if err := s.Reconnect(ctx, guild); err != nil && !errors.Is(err, ErrUnavailable) {
		return nil, err
	}

	if st, ok := s.cached(guild); ok {
		session := sessionFrom(guild, *st, time.Now())
		return &session, nil
	}
	return nil, fmt.Errorf("%w: no state after reconnect", ErrUnavailable)
}

// Reconnect forces the gateway to drop and rebuild the guild's voice session
// on its last known channel. Overlapping calls for the same guild coalesce
// into one round trip: the first caller does the work, everyone else parks
// on the in-flight marker and is woken when it completes, success or not.
func (s *Sessions) Reconnect(ctx context.Context, guild int64) error {
	if !s.reconnects.Hold(guild) {
		s.log.Debug().Int64("guild", guild).Msg("joining in-flight reconnect")
		s.reconnects.Wait(ctx, guild, s.settle+10*time.Second)
		return ctx.Err()
	}
	// wake everyone regardless of outcome, then drop the in-flight marker
	// in case nobody was parked on it
	defer func() {
		s.reconnects.Notify(guild, nil)
		s.reconnects.Forget(guild)
	}()

	connected, err := s.gw.GetConnected(ctx, guild, nil)
	if err != nil {
		return busErr(err)
	}
	if connected == nil {
		return ErrNotConnected
	}

	s.log.Info().Int64("guild", guild).Int64("channel", connected.Channel).Msg("reconnecting voice session")
	if err := s.gw.SetConnected(ctx, guild, nil); err != nil {
		return busErr(err)
	}
	channel := connected.Channel
	if err := s.gw.SetConnected(ctx, guild, &channel); err != nil {
		return busErr(err)
	}

	// give the gateway and engine a moment to settle before anyone re-reads
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settle):
	}
	return nil
}

// StoreState caches an engine snapshot for the guild with the session TTL.
// Used both by Get's direct fetch and by the event loop's push updates.
func (s *Sessions) StoreState(guild int64, st State) error {
	return cache.SetTTL(s.cache, cache.PlayerKey(guild), st, s.ttl)
}

// Invalidate drops the cached session so the next read re-derives it.
func (s *Sessions) Invalidate(guild int64) {
	cache.Del(s.cache, cache.PlayerKey(guild))
}

func (s *Sessions) cached(guild int64) (*State, bool) {
	st, ok, err := cache.Get[State](s.cache, cache.PlayerKey(guild))
	if err != nil || !ok {
		return nil, false
	}
	return &st, true
}

// busErr maps a missing gateway response onto the package's transient error
// so callers only ever see the player taxonomy.
func busErr(err error) error {
	if errors.Is(err, gateway.ErrNoResponse) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
