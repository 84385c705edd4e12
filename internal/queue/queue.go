// /internal/queue/queue.go

// Package queue holds the per-guild playback queue: an ordered track list,
// the playing index and the loop mode, all persisted in the external KV
// store. The playing index is -1 or a valid index into the current list, and
// every mutation re-establishes that before returning.
//
// Mutations are read-modify-write cycles over the full list. Concurrent
// writers to the same guild are not serialized here; the last full write
// wins. That is a documented limitation of the design, not an invariant.
package queue

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/keshon/trackdeck/internal/cache"
)

var (
	// ErrRemovePlaying rejects removing the track currently selected for
	// playback; callers must advance or stop first.
	ErrRemovePlaying = errors.New("queue: cannot remove the playing track")
	// ErrIndexRange marks an index outside the current queue bounds.
	ErrIndexRange = errors.New("queue: index out of range")
)

// Item is one queued track. Immutable once created.
type Item struct {
	Track         string `json:"track"` // opaque encoded identifier
	Title         string `json:"title"`
	URI           string `json:"uri"`
	Length        int64  `json:"length"` // ms
	Author        int64  `json:"author"`
	Username      string `json:"username"`
	Discriminator int32  `json:"discriminator"`
}

// LoopMode controls what Advance selects after the current track.
type LoopMode string

const (
	LoopNone  LoopMode = "none"
	LoopTrack LoopMode = "track"
	LoopQueue LoopMode = "queue"
)

// Store is the queue state machine, guild-scoped per call.
type Store struct {
	cache *cache.Cache
	log   zerolog.Logger
}

func New(c *cache.Cache, log zerolog.Logger) *Store {
	return &Store{cache: c, log: log.With().Str("component", "queue").Logger()}
}

// Get returns the guild's queue, empty when none exists.
func (s *Store) Get(guild int64) ([]Item, error) {
	items, _, err := cache.Get[[]Item](s.cache, cache.QueueKey(guild))
	return items, err
}

func (s *Store) set(guild int64, items []Item) error {
	return cache.Set(s.cache, cache.QueueKey(guild), items)
}

// Len returns the number of queued tracks.
func (s *Store) Len(guild int64) (int, error) {
	items, err := s.Get(guild)
	return len(items), err
}

// Track returns the item at index, or nil when index is out of range.
func (s *Store) Track(guild int64, index int) (*Item, error) {
	items, err := s.Get(guild)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(items) {
		return nil, nil
	}
	item := items[index]
	return &item, nil
}

// Playing returns the current playing index, -1 when nothing is selected.
func (s *Store) Playing(guild int64) (int, error) {
	playing, ok, err := cache.Get[int](s.cache, cache.QueuePlayingKey(guild))
	if err != nil {
		return -1, err
	}
	if !ok {
		return -1, nil
	}
	return playing, nil
}

// SetPlaying selects index for playback. -1 deselects. The index must exist.
func (s *Store) SetPlaying(guild int64, index int) error {
	if index != -1 {
		length, err := s.Len(guild)
		if err != nil {
			return err
		}
		if index < 0 || index >= length {
			return fmt.Errorf("%w: playing %d of %d", ErrIndexRange, index, length)
		}
	}
	return s.setPlaying(guild, index)
}

func (s *Store) setPlaying(guild int64, index int) error {
	return cache.Set(s.cache, cache.QueuePlayingKey(guild), index)
}

// PlayingTrack returns the item at the playing index, nil when nothing is
// selected.
func (s *Store) PlayingTrack(guild int64) (*Item, error) {
	playing, err := s.Playing(guild)
	if err != nil {
		return nil, err
	}
	if playing < 0 {
		return nil, nil
	}
	return s.Track(guild, playing)
}

// Loop returns the guild's loop mode, LoopNone by default.
func (s *Store) Loop(guild int64) (LoopMode, error) {
	mode, ok, err := cache.Get[LoopMode](s.cache, cache.QueueLoopKey(guild))
	if err != nil {
		return LoopNone, err
	}
	if !ok {
		return LoopNone, nil
	}
	return mode, nil
}

// SetLoop stores the guild's loop mode.
func (s *Store) SetLoop(guild int64, mode LoopMode) error {
	return cache.Set(s.cache, cache.QueueLoopKey(guild), mode)
}

// Append adds item at the end of the queue.
func (s *Store) Append(guild int64, item Item) error {
	items, err := s.Get(guild)
	if err != nil {
		return err
	}
	items = append(items, item)
	if err := s.set(guild, items); err != nil {
		return err
	}
	return s.reclamp(guild, len(items))
}

// InsertAt places item at index, shifting the rest right. Inserting at or
// before the playing index moves the playing index along so the same track
// stays selected.
func (s *Store) InsertAt(guild int64, item Item, index int) error {
	items, err := s.Get(guild)
	if err != nil {
		return err
	}
	if index < 0 || index > len(items) {
		return fmt.Errorf("%w: insert at %d of %d", ErrIndexRange, index, len(items))
	}
	playing, err := s.Playing(guild)
	if err != nil {
		return err
	}

	items = append(items, Item{})
	copy(items[index+1:], items[index:])
	items[index] = item
	if err := s.set(guild, items); err != nil {
		return err
	}

	if playing >= 0 && index <= playing {
		return s.setPlaying(guild, playing+1)
	}
	return s.reclamp(guild, len(items))
}

// Remove deletes the item at index and returns it. Removing the playing
// index is an invariant violation; the playing index shifts down when an
// earlier item is removed.
func (s *Store) Remove(guild int64, index int) (*Item, error) {
	items, err := s.Get(guild)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(items) {
		return nil, fmt.Errorf("%w: remove %d of %d", ErrIndexRange, index, len(items))
	}
	playing, err := s.Playing(guild)
	if err != nil {
		return nil, err
	}
	if index == playing {
		return nil, ErrRemovePlaying
	}

	removed := items[index]
	items = append(items[:index], items[index+1:]...)
	if err := s.set(guild, items); err != nil {
		return nil, err
	}

	if index < playing {
		if err := s.setPlaying(guild, playing-1); err != nil {
			return nil, err
		}
	} else if err := s.reclamp(guild, len(items)); err != nil {
		return nil, err
	}
	return &removed, nil
}

// Shift relocates the item at from to position to. The playing index adjusts
// by exactly one of three cases: from < playing <= to decrements it,
// to <= playing < from increments it, anything else leaves it alone.
func (s *Store) Shift(guild int64, from, to int) error {
	items, err := s.Get(guild)
	if err != nil {
		return err
	}
	if from < 0 || from >= len(items) || to < 0 || to >= len(items) {
		return fmt.Errorf("%w: shift %d to %d of %d", ErrIndexRange, from, to, len(items))
	}
	playing, err := s.Playing(guild)
	if err != nil {
		return err
	}

	item := items[from]
	items = append(items[:from], items[from+1:]...)
	items = append(items, Item{})
	copy(items[to+1:], items[to:])
	items[to] = item
	if err := s.set(guild, items); err != nil {
		return err
	}

	switch {
	case from < playing && playing <= to:
		return s.setPlaying(guild, playing-1)
	case to <= playing && playing < from:
		return s.setPlaying(guild, playing+1)
	}
	return s.reclamp(guild, len(items))
}

// Shuffle randomizes the queue while keeping the playing track in place: the
// slices before and after the playing index are shuffled independently and
// the playing item is re-inserted at the boundary. With nothing selected the
// whole queue is shuffled.
func (s *Store) Shuffle(guild int64) error {
	items, err := s.Get(guild)
	if err != nil {
		return err
	}
	playing, err := s.Playing(guild)
	if err != nil {
		return err
	}

	if playing >= 0 && playing < len(items) {
		before := append([]Item(nil), items[:playing]...)
		after := append([]Item(nil), items[playing+1:]...)
		rand.Shuffle(len(before), func(i, j int) { before[i], before[j] = before[j], before[i] })
		rand.Shuffle(len(after), func(i, j int) { after[i], after[j] = after[j], after[i] })

		shuffled := make([]Item, 0, len(items))
		shuffled = append(shuffled, before...)
		shuffled = append(shuffled, items[playing])
		shuffled = append(shuffled, after...)
		items = shuffled
	} else {
		rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	}

	return s.set(guild, items)
}

// Advance applies the loop mode to select the next playing index. Track
// keeps the index unchanged. Queue wraps to the front when the end is
// reached. None walks forward and deselects at the end; with nothing
// selected it stays deselected.
func (s *Store) Advance(guild int64) (int, error) {
	length, err := s.Len(guild)
	if err != nil {
		return -1, err
	}
	playing, err := s.Playing(guild)
	if err != nil {
		return -1, err
	}
	mode, err := s.Loop(guild)
	if err != nil {
		return -1, err
	}

	next := playing
	switch mode {
	case LoopTrack:
		// unchanged
	case LoopQueue:
		if playing+1 < length {
			next = playing + 1
		} else if length > 0 {
			next = 0
		} else {
			next = -1
		}
	default: // LoopNone
		if playing != -1 && playing+1 < length {
			next = playing + 1
		} else {
			next = -1
		}
	}

	if next != playing {
		if err := s.setPlaying(guild, next); err != nil {
			return playing, err
		}
	}
	return next, nil
}

// Clear wipes the guild's queue, playing index and loop mode, returning the
// former contents.
func (s *Store) Clear(guild int64) ([]Item, error) {
	items, err := s.Get(guild)
	if err != nil {
		return nil, err
	}

	cache.Del(s.cache, cache.QueueKey(guild))
	cache.Del(s.cache, cache.QueuePlayingKey(guild))
	cache.Del(s.cache, cache.QueueLoopKey(guild))

	s.log.Debug().Int64("guild", guild).Int("tracks", len(items)).Msg("queue cleared")
	return items, nil
}

// reclamp forces the playing index back into [-1, length) after a mutation.
// The individual mutations already adjust it; this is the invariant backstop
// for states written by an older or racing writer.
func (s *Store) reclamp(guild int64, length int) error {
	playing, err := s.Playing(guild)
	if err != nil {
		return err
	}
	if playing < -1 || playing >= length {
		return s.setPlaying(guild, -1)
	}
	return nil
}
