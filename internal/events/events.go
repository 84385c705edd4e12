// /internal/events/events.go

// Package events consumes the audio engine's asynchronous event stream and
// drives the rest of the core off it: queue advancement when tracks finish,
// session cache updates and invalidation, reconnects on dropped engine
// sessions, and long-poll notifications after every observable change.
package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/keshon/trackdeck/internal/player"
	"github.com/keshon/trackdeck/internal/polling"
	"github.com/keshon/trackdeck/internal/queue"
)

// Event is one message from the engine's event stream.
type Event struct {
	Type    string        `json:"type"`
	Guild   int64         `json:"guildId,string"`
	Reason  string        `json:"reason,omitempty"`
	Cleanup bool          `json:"cleanup,omitempty"`
	Code    int           `json:"code,omitempty"`
	State   *player.State `json:"state,omitempty"`
}

// Event types on the engine stream.
const (
	TypeTrackStart     = "TrackStart"
	TypeTrackEnd       = "TrackEnd"
	TypeTrackStuck     = "TrackStuck"
	TypeTrackException = "TrackException"
	TypeWebsocketClose = "WebsocketClose"
	TypePlayerDestroy  = "PlayerDestroy"
	TypePlayerUpdate   = "PlayerUpdate"
)

// reasonFinished is the only track-end reason that advances the queue;
// replaced and stopped tracks were already handled by whoever caused them.
const reasonFinished = "FINISHED"

// Loop dispatches engine events. Wire it to a transport with HandleRaw.
type Loop struct {
	queues   *queue.Store
	sessions *player.Sessions
	hub      *polling.Hub
	sender   player.Sender
	log      zerolog.Logger
}

func NewLoop(q *queue.Store, s *player.Sessions, h *polling.Hub, sender player.Sender, log zerolog.Logger) *Loop {
	return &Loop{
		queues:   q,
		sessions: s,
		hub:      h,
		sender:   sender,
		log:      log.With().Str("component", "events").Logger(),
	}
}

// HandleRaw decodes one raw stream message and dispatches it. Undecodable
// messages are dropped with a warning; a bad message must never take the
// loop down.
func (l *Loop) HandleRaw(raw []byte) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		l.log.Warn().Err(err).Msg("drop undecodable engine event")
		return
	}
	l.Handle(context.Background(), ev)
}

// Handle applies one engine event. Failures are logged per guild and never
// propagate: one guild's broken state must not affect the stream.
func (l *Loop) Handle(ctx context.Context, ev Event) {
	var err error
	switch ev.Type {
	case TypeTrackStart:
		err = l.trackStart(ctx, ev)
	case TypeTrackEnd:
		if ev.Reason == reasonFinished {
			err = l.playNext(ctx, ev.Guild)
		}
	case TypeTrackStuck, TypeTrackException:
		err = l.playNext(ctx, ev.Guild)
	case TypeWebsocketClose:
		err = l.websocketClose(ctx, ev.Guild)
	case TypePlayerDestroy:
		err = l.playerDestroy(ctx, ev)
	case TypePlayerUpdate:
		err = l.playerUpdate(ev)
	default:
		l.log.Debug().Str("type", ev.Type).Msg("ignoring engine event")
	}

	if err != nil {
		l.log.Warn().Err(err).Str("type", ev.Type).Int64("guild", ev.Guild).Msg("engine event failed")
	}
}

func (l *Loop) trackStart(ctx context.Context, ev Event) error {
	// ask the engine for a fresh snapshot; it answers with a PlayerUpdate
	if err := l.sender.Send(ctx, player.GetPlayer(ev.Guild)); err != nil {
		return err
	}
	l.hub.Publish(ev.Guild)
	return nil
}

// playNext advances the queue under its loop mode and starts whatever is now
// selected. With nothing selected playback simply stops.
func (l *Loop) playNext(ctx context.Context, guild int64) error {
	l.sessions.Invalidate(guild)

	next, err := l.queues.Advance(guild)
	if err != nil {
		return err
	}
	if next >= 0 {
		track, err := l.queues.Track(guild, next)
		if err != nil {
			return err
		}
		if track != nil {
			if err := l.sender.Send(ctx, player.Play(guild, track.Track)); err != nil {
				return err
			}
		}
	}
	l.hub.Publish(guild)
	return nil
}

// websocketClose means the engine lost its voice websocket for the guild.
// One reconnect attempt; a guild that is no longer connected at all gets its
// player destroyed and its queue wiped.
func (l *Loop) websocketClose(ctx context.Context, guild int64) error {
	err := l.sessions.Reconnect(ctx, guild)
	if errors.Is(err, player.ErrNotConnected) {
		if sendErr := l.sender.Send(ctx, player.Destroy(guild)); sendErr != nil {
			return sendErr
		}
		_, clearErr := l.queues.Clear(guild)
		l.hub.Publish(guild)
		return clearErr
	}
	return err
}

func (l *Loop) playerDestroy(ctx context.Context, ev Event) error {
	if ev.Cleanup {
		return l.sessions.Reconnect(ctx, ev.Guild)
	}
	l.sessions.Invalidate(ev.Guild)
	_, err := l.queues.Clear(ev.Guild)
	l.hub.Publish(ev.Guild)
	return err
}

func (l *Loop) playerUpdate(ev Event) error {
	if ev.State == nil {
		return nil
	}
	if err := l.sessions.StoreState(ev.Guild, *ev.State); err != nil {
		return err
	}
	l.hub.Publish(ev.Guild)
	return nil
}
