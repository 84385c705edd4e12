// /internal/api/server.go

// Package api is the narrow HTTP surface the external web layer talks to:
// long-poll event waits plus thin queue and player endpoints. No auth, no
// deep validation; that all lives upstream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/trackdeck/internal/player"
	"github.com/keshon/trackdeck/internal/polling"
	"github.com/keshon/trackdeck/internal/queue"
)

// Server bundles the core services behind the HTTP mux.
type Server struct {
	queues   *queue.Store
	sessions *player.Sessions
	hub      *polling.Hub
	engine   *player.Engine
	sender   player.Sender
	log      zerolog.Logger
}

func NewServer(q *queue.Store, s *player.Sessions, h *polling.Hub, e *player.Engine, sender player.Sender, log zerolog.Logger) *Server {
	return &Server{
		queues:   q,
		sessions: s,
		hub:      h,
		engine:   e,
		sender:   sender,
		log:      log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /guilds/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /guilds/{id}/player", s.handleGetPlayer)
	mux.HandleFunc("PATCH /guilds/{id}/player", s.handlePatchPlayer)
	mux.HandleFunc("GET /guilds/{id}/queue", s.handleGetQueue)
	mux.HandleFunc("POST /guilds/{id}/queue", s.handlePostQueue)
	mux.HandleFunc("DELETE /guilds/{id}/queue", s.handleClearQueue)
	mux.HandleFunc("DELETE /guilds/{id}/queue/{index}", s.handleRemoveTrack)
	mux.HandleFunc("PATCH /guilds/{id}/queue", s.handleShift)
	mux.HandleFunc("POST /guilds/{id}/queue/shuffle", s.handleShuffle)
	return mux
}

// Run starts the HTTP server and blocks until it exits or ctx is cancelled;
// run in a goroutine.
func (s *Server) Run(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: s.routes()}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("api server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// do not kill the process over the side surface
		s.log.Error().Err(err).Msg("api server exited")
	}
}

func guildID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeErr maps the core error taxonomy onto status codes: not-found and
// invariant violations are caller errors, transient conditions are 503,
// anything else is internal.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, player.ErrNotConnected):
		writeMessage(w, http.StatusNotFound, "Not connected to a voice channel.")
	case errors.Is(err, queue.ErrIndexRange):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrRemovePlaying):
		writeMessage(w, http.StatusBadRequest, "Cannot remove the track that is playing.")
	case errors.Is(err, player.ErrUnavailable):
		writeMessage(w, http.StatusServiceUnavailable, "Playback service temporarily unavailable.")
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error.")
	}
}

// handleEvents is the long poll: 200 when something changed, 204 when the
// window closed quietly.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	if s.hub.Subscribe(r.Context(), guild) {
		writeJSON(w, http.StatusOK, map[string]string{"event": "update"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	session, err := s.sessions.Get(r.Context(), guild)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	playing, err := s.queues.Playing(guild)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	mode, err := s.queues.Loop(guild)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"playing":  playing,
		"looping":  mode,
		"position": session.Position,
		"paused":   session.Paused,
		"volume":   session.Volume,
		"filters":  session.Filters,
	})
}

type patchPlayerRequest struct {
	Playing  *int            `json:"playing"`
	Looping  *queue.LoopMode `json:"looping"`
	Paused   *bool           `json:"paused"`
	Position *int64          `json:"position"`
	Volume   *int64          `json:"volume"`
	Filters  *player.Filters `json:"filters"`
}

// handlePatchPlayer is "play queue position N" and friends: queue state
// first, then instructions to the gateway/engine.
func (s *Server) handlePatchPlayer(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	var body patchPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Bad request body.")
		return
	}

	if body.Playing != nil {
		if err := s.queues.SetPlaying(guild, *body.Playing); err != nil {
			s.writeErr(w, err)
			return
		}
		if *body.Playing == -1 {
			if err := s.sender.Send(r.Context(), player.Stop(guild)); err != nil {
				s.writeErr(w, err)
				return
			}
		} else {
			track, err := s.queues.PlayingTrack(guild)
			if err != nil {
				s.writeErr(w, err)
				return
			}
			if track != nil {
				if err := s.sender.Send(r.Context(), player.Play(guild, track.Track)); err != nil {
					s.writeErr(w, err)
					return
				}
			}
		}
	}

	if body.Looping != nil {
		if err := s.queues.SetLoop(guild, *body.Looping); err != nil {
			s.writeErr(w, err)
			return
		}
	}

	if body.Paused != nil || body.Position != nil || body.Volume != nil || body.Filters != nil {
		update := player.UpdateCommand{Op: "update", Guild: guild,
			Pause: body.Paused, Position: body.Position, Volume: body.Volume, Filters: body.Filters}
		if err := s.sender.Send(r.Context(), update); err != nil {
			s.writeErr(w, err)
			return
		}
		s.sessions.Invalidate(guild)
	}

	s.hub.Publish(guild)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	items, err := s.queues.Get(guild)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	playing, err := s.queues.Playing(guild)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	if items == nil {
		items = []queue.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": items, "playing": playing})
}

type postQueueRequest struct {
	Identifier    string `json:"identifier"`
	Author        int64  `json:"author"`
	Username      string `json:"username"`
	Discriminator int32  `json:"discriminator"`
}

func (s *Server) handlePostQueue(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	var body postQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Identifier == "" {
		writeMessage(w, http.StatusBadRequest, "Bad request body.")
		return
	}

	loaded, err := s.engine.LoadTracks(r.Context(), body.Identifier)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if len(loaded.Tracks) == 0 {
		writeMessage(w, http.StatusNotFound, "No tracks found.")
		return
	}

	track := loaded.Tracks[0]
	item := queue.Item{
		Track:         track.Track,
		Title:         track.Info.Title,
		URI:           track.Info.URI,
		Length:        track.Info.Length,
		Author:        body.Author,
		Username:      body.Username,
		Discriminator: body.Discriminator,
	}
	if err := s.queues.Append(guild, item); err != nil {
		s.writeErr(w, err)
		return
	}

	s.hub.Publish(guild)
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	removed, err := s.queues.Clear(guild)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.hub.Publish(guild)
	writeJSON(w, http.StatusOK, map[string]int{"removed": len(removed)})
}

func (s *Server) handleRemoveTrack(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Bad index.")
		return
	}

	removed, err := s.queues.Remove(guild, index)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.hub.Publish(guild)
	writeJSON(w, http.StatusOK, removed)
}

type shiftRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Server) handleShift(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	var body shiftRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Bad request body.")
		return
	}

	if err := s.queues.Shift(guild, body.From, body.To); err != nil {
		s.writeErr(w, err)
		return
	}
	s.hub.Publish(guild)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleShuffle(w http.ResponseWriter, r *http.Request) {
	guild, ok := guildID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Bad guild id.")
		return
	}

	if err := s.queues.Shuffle(guild); err != nil {
		s.writeErr(w, err)
		return
	}
	s.hub.Publish(guild)
	w.WriteHeader(http.StatusOK)
}
