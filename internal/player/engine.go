// /internal/player/engine.go
package player

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/trackdeck/pkg/retrylimit"
)

// TrackInfo is the decoded metadata for one engine track.
type TrackInfo struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	URI    string `json:"uri"`
	Length int64  `json:"length"`
}

// LoadedTrack pairs the opaque encoded identifier with its metadata.
type LoadedTrack struct {
	Track string    `json:"track"`
	Info  TrackInfo `json:"info"`
}

// LoadedTracks is the engine's answer to a load-by-query call.
type LoadedTracks struct {
	LoadType string        `json:"loadType"`
	Tracks   []LoadedTrack `json:"tracks"`
}

// Engine is the HTTP client for the external audio engine. Calls ride behind
// an adaptive limiter with a small bounded retry; a failed call is a
// transient condition, never a crash.
type Engine struct {
	base   string
	secret string
	client *http.Client
	lim    *retrylimit.AdaptiveLimiter
	log    zerolog.Logger
}

const engineAttempts = 3

func NewEngine(base, secret string, log zerolog.Logger) *Engine {
	return &Engine{
		base:   base,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		lim:    retrylimit.NewAdaptiveLimiter(10, 1, 50, 1, 0.5),
		log:    log.With().Str("component", "engine").Logger(),
	}
}

type statusError struct {
	code int
	path string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("engine: %s returned %d", e.path, e.code)
}

func (e *statusError) StatusCode() int { return e.code }

// LoadTracks resolves a search query or URL into playable tracks.
func (e *Engine) LoadTracks(ctx context.Context, identifier string) (*LoadedTracks, error) {
	var out LoadedTracks
	path := "/loadtracks?identifier=" + url.QueryEscape(identifier)
	if err := e.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeTrack expands an opaque encoded identifier back into metadata.
func (e *Engine) DecodeTrack(ctx context.Context, track string) (*TrackInfo, error) {
	var out TrackInfo
	path := "/decodetrack?track=" + url.QueryEscape(track)
	if err := e.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlayerState fetches the engine's live player snapshot for a guild,
// stamping the observation time.
func (e *Engine) PlayerState(ctx context.Context, guild int64) (*State, error) {
	var out State
	if err := e.getJSON(ctx, fmt.Sprintf("/player/%d", guild), &out); err != nil {
		return nil, err
	}
	if out.Time == 0 {
		out.Time = time.Now().UnixMilli()
	}
	return &out, nil
}

func (e *Engine) getJSON(ctx context.Context, path string, out any) error {
	err := retrylimit.WithRetryMax(ctx, func() error {
		return e.doGet(ctx, path, out)
	}, e.lim, engineAttempts)
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("engine call failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (e *Engine) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.base+path, nil)
	if err != nil {
		return &retrylimit.FatalError{Err: err}
	}
	if e.secret != "" {
		req.Header.Set("Authorization", e.secret)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &statusError{code: resp.StatusCode, path: path}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			// a 4xx will not get better on retry
			return &retrylimit.FatalError{Err: statusErr}
		}
		return statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &retrylimit.FatalError{Err: fmt.Errorf("decode %s response: %w", path, err)}
	}
	return nil
}
