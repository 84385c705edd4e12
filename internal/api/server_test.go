package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/trackdeck/internal/cache"
	"github.com/keshon/trackdeck/internal/gateway"
	"github.com/keshon/trackdeck/internal/player"
	"github.com/keshon/trackdeck/internal/polling"
	"github.com/keshon/trackdeck/internal/queue"
)

type fakeGateway struct {
	mu        sync.Mutex
	connected *gateway.Connected
}

func (f *fakeGateway) GetConnected(context.Context, int64, *int64) (*gateway.Connected, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected, nil
}

func (f *fakeGateway) SetConnected(context.Context, int64, *int64) error { return nil }

type fakeEngineState struct{}

func (fakeEngineState) PlayerState(context.Context, int64) (*player.State, error) {
	return nil, player.ErrUnavailable
}

type fakeSender struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeSender) Send(_ context.Context, command any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, command)
	return nil
}

func (f *fakeSender) commands() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

type fixture struct {
	mux      *http.ServeMux
	queues   *queue.Store
	sessions *player.Sessions
	hub      *polling.Hub
	gw       *fakeGateway
	sender   *fakeSender
}

func newFixture(t *testing.T, engineURL string) *fixture {
	t.Helper()
	c, err := cache.New(filepath.Join(t.TempDir(), "api.json"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	gw := &fakeGateway{connected: &gateway.Connected{Channel: 99}}
	sessions := player.NewSessions(c, gw, fakeEngineState{}, time.Millisecond, time.Minute, zerolog.Nop())
	queues := queue.New(c, zerolog.Nop())
	hub := polling.New(30*time.Millisecond, zerolog.Nop())
	sender := &fakeSender{}
	engine := player.NewEngine(engineURL, "", zerolog.Nop())

	server := NewServer(queues, sessions, hub, engine, sender, zerolog.Nop())
	return &fixture{
		mux:      server.routes(),
		queues:   queues,
		sessions: sessions,
		hub:      hub,
		gw:       gw,
		sender:   sender,
	}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) fillQueue(t *testing.T, tracks ...string) {
	t.Helper()
	for _, track := range tracks {
		require.NoError(t, f.queues.Append(7, queue.Item{Track: track, Title: "t " + track}))
	}
}

func TestGetQueueEmpty(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/guilds/7/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tracks":[],"playing":-1}`, rec.Body.String())
}

func TestGetQueueWithTracks(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a", "b")
	require.NoError(t, f.queues.SetPlaying(7, 1))

	rec := f.do(http.MethodGet, "/guilds/7/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tracks  []queue.Item `json:"tracks"`
		Playing int          `json:"playing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Tracks, 2)
	assert.Equal(t, 1, body.Playing)
}

func TestBadGuildID(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/guilds/abc/queue", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostQueueLoadsAndAppends(t *testing.T) {
	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loadtracks", r.URL.Path)
		w.Write([]byte(`{"loadType":"SEARCH_RESULT","tracks":[
			{"track":"enc1","info":{"title":"Found","uri":"https://x/1","length":90000}}
		]}`))
	}))
	defer engineSrv.Close()

	f := newFixture(t, engineSrv.URL)

	rec := f.do(http.MethodPost, "/guilds/7/queue",
		`{"identifier":"ytsearch:found","author":11,"username":"kim","discriminator":42}`)
	require.Equal(t, http.StatusOK, rec.Code)

	items, err := f.queues.Get(7)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "enc1", items[0].Track)
	assert.Equal(t, "Found", items[0].Title)
	assert.Equal(t, int64(11), items[0].Author)
	assert.Equal(t, "kim", items[0].Username)
}

func TestPostQueueNoResults(t *testing.T) {
	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"loadType":"NO_MATCHES","tracks":[]}`))
	}))
	defer engineSrv.Close()

	f := newFixture(t, engineSrv.URL)

	rec := f.do(http.MethodPost, "/guilds/7/queue", `{"identifier":"nothing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostQueueBadBody(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/guilds/7/queue", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveTrack(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a", "b")

	rec := f.do(http.MethodDelete, "/guilds/7/queue/0", "")
	require.Equal(t, http.StatusOK, rec.Code)

	items, err := f.queues.Get(7)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].Track)
}

func TestRemovePlayingTrackRejected(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a", "b")
	require.NoError(t, f.queues.SetPlaying(7, 0))

	rec := f.do(http.MethodDelete, "/guilds/7/queue/0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveOutOfRange(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a")

	rec := f.do(http.MethodDelete, "/guilds/7/queue/5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearQueue(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a", "b", "c")

	rec := f.do(http.MethodDelete, "/guilds/7/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":3}`, rec.Body.String())

	items, err := f.queues.Get(7)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestShiftQueue(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a", "b", "c")

	rec := f.do(http.MethodPatch, "/guilds/7/queue", `{"from":0,"to":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	items, err := f.queues.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "b", items[0].Track)
	assert.Equal(t, "a", items[2].Track)
}

func TestShuffleQueue(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a", "b", "c", "d")

	rec := f.do(http.MethodPost, "/guilds/7/queue/shuffle", "")
	require.Equal(t, http.StatusOK, rec.Code)

	items, err := f.queues.Get(7)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestGetPlayerNotConnected(t *testing.T) {
	f := newFixture(t, "")
	f.gw.connected = nil

	rec := f.do(http.MethodGet, "/guilds/7/player", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPlayerFromCachedState(t *testing.T) {
	f := newFixture(t, "")
	position := int64(2000)
	require.NoError(t, f.sessions.StoreState(7, player.State{
		Time:     time.Now().UnixMilli(),
		Position: &position,
		Paused:   true,
		Volume:   90,
	}))
	f.fillQueue(t, "a")
	require.NoError(t, f.queues.SetPlaying(7, 0))

	rec := f.do(http.MethodGet, "/guilds/7/player", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Playing  int            `json:"playing"`
		Looping  queue.LoopMode `json:"looping"`
		Position *int64         `json:"position"`
		Paused   bool           `json:"paused"`
		Volume   int64          `json:"volume"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Playing)
	assert.Equal(t, queue.LoopNone, body.Looping)
	require.NotNil(t, body.Position)
	assert.Equal(t, int64(2000), *body.Position)
	assert.True(t, body.Paused)
	assert.Equal(t, int64(90), body.Volume)
}

func TestPatchPlayerSelectsAndPlays(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a", "b")

	rec := f.do(http.MethodPatch, "/guilds/7/player", `{"playing":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	playing, err := f.queues.Playing(7)
	require.NoError(t, err)
	assert.Equal(t, 1, playing)

	commands := f.sender.commands()
	require.Len(t, commands, 1)
	play, ok := commands[0].(player.PlayCommand)
	require.True(t, ok)
	assert.Equal(t, "b", play.Track)
}

func TestPatchPlayerDeselectStops(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a")
	require.NoError(t, f.queues.SetPlaying(7, 0))

	rec := f.do(http.MethodPatch, "/guilds/7/player", `{"playing":-1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	commands := f.sender.commands()
	require.Len(t, commands, 1)
	_, ok := commands[0].(player.StopCommand)
	assert.True(t, ok)
}

func TestPatchPlayerOutOfRangeSelection(t *testing.T) {
	f := newFixture(t, "")
	f.fillQueue(t, "a")

	rec := f.do(http.MethodPatch, "/guilds/7/player", `{"playing":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.sender.commands())
}

func TestPatchPlayerLooping(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPatch, "/guilds/7/player", `{"looping":"queue"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	mode, err := f.queues.Loop(7)
	require.NoError(t, err)
	assert.Equal(t, queue.LoopQueue, mode)
}

func TestPatchPlayerPauseSendsUpdateAndInvalidates(t *testing.T) {
	f := newFixture(t, "")
	position := int64(2000)
	require.NoError(t, f.sessions.StoreState(7, player.State{
		Time: time.Now().UnixMilli(), Position: &position,
	}))

	rec := f.do(http.MethodPatch, "/guilds/7/player", `{"paused":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	commands := f.sender.commands()
	require.Len(t, commands, 1)
	update, ok := commands[0].(player.UpdateCommand)
	require.True(t, ok)
	require.NotNil(t, update.Pause)
	assert.True(t, *update.Pause)

	// cache was invalidated; the miss path now needs the gateway/engine
	f.gw.connected = nil
	_, err := f.sessions.Get(context.Background(), 7)
	assert.Error(t, err)
}

func TestEventsLongPollWakes(t *testing.T) {
	f := newFixture(t, "")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- f.do(http.MethodGet, "/guilds/7/events", "") }()

	require.Eventually(t, func() bool { return f.hub.Waiting(7) == 1 },
		time.Second, time.Millisecond)
	f.hub.Publish(7)

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusOK, rec.Code)
	case <-time.After(time.Second):
		t.Fatal("long poll never returned")
	}
}

func TestEventsLongPollTimesOutWithNoContent(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/guilds/7/events", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
