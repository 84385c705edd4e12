// /internal/player/session.go

// Package player tracks live playback state per guild. The authoritative
// state lives in the external audio engine; this package caches the engine's
// last known state with a short TTL, derives the live playback position on
// read, and coalesces the reconnect round trips needed when the engine has
// lost a guild's session.
package player

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the engine or gateway did not produce usable
	// state within its window. Transient; callers may retry.
	ErrUnavailable = errors.New("player: temporarily unavailable")
	// ErrNotConnected means the guild has no live voice connection at all,
	// as opposed to one we cannot reach right now.
	ErrNotConnected = errors.New("player: not connected")
)

// Timescale is the playback speed filter. Speed scales how fast the position
// advances in wall-clock terms.
type Timescale struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

// Filters carries the audio-effect settings the engine reports. Only the
// timescale influences this package; the rest passes through untouched.
type Filters struct {
	Timescale *Timescale      `json:"timescale,omitempty"`
	Equalizer json.RawMessage `json:"equalizer,omitempty"`
	Karaoke   json.RawMessage `json:"karaoke,omitempty"`
	Tremolo   json.RawMessage `json:"tremolo,omitempty"`
	Vibrato   json.RawMessage `json:"vibrato,omitempty"`
	Volume    json.RawMessage `json:"volume,omitempty"`
}

// State is the engine's player snapshot as cached. Time is the wall clock at
// which the snapshot was observed (unix ms); Position is nil when nothing is
// playing.
type State struct {
	Time     int64   `json:"time"`
	Position *int64  `json:"position"`
	Paused   bool    `json:"paused"`
	Volume   int64   `json:"volume"`
	Filters  Filters `json:"filters"`
}

// Session is the derived per-guild view handed to callers: the cached state
// with the position advanced to now.
type Session struct {
	Guild    int64   `json:"guild"`
	Position *int64  `json:"position"`
	Paused   bool    `json:"paused"`
	Volume   int64   `json:"volume"`
	Filters  Filters `json:"filters"`
}

// sessionFrom derives the live view from a cached snapshot. Paused state (or
// an unknown position) reports the stored value unchanged; while playing the
// elapsed wall time since the snapshot is added, scaled by the timescale
// speed when one is set, and clamped at zero. Nothing is written back: the
// position is always computed on read.
func sessionFrom(guild int64, st State, now time.Time) Session {
	session := Session{
		Guild:   guild,
		Paused:  st.Paused,
		Volume:  st.Volume,
		Filters: st.Filters,
	}

	if st.Position == nil {
		session.Paused = true
		return session
	}

	position := *st.Position
	if !st.Paused {
		elapsed := now.UnixMilli() - st.Time
		if ts := st.Filters.Timescale; ts != nil && ts.Speed > 0 {
			elapsed = int64(float64(elapsed) * ts.Speed)
		}
		position += elapsed
		if position < 0 {
			position = 0
		}
	}
	session.Position = &position
	return session
}
