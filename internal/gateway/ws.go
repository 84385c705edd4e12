// /internal/gateway/ws.go
package gateway

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WS is a websocket leg of the broadcast channel. One instance serves the
// correlated bus; a second one, pointed at the engine event path, feeds the
// event loop. Writes are serialized; the read pump redials with backoff so a
// dropped transport only costs in-flight requests their timeout.
type WS struct {
	url string
	log zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

const (
	wsWriteTimeout   = 10 * time.Second
	wsRedialMin      = time.Second
	wsRedialMax      = 30 * time.Second
	wsHandshakeLimit = 10 * time.Second
)

func NewWS(url string, log zerolog.Logger) *WS {
	return &WS{url: url, log: log.With().Str("component", "gateway-ws").Str("url", url).Logger()}
}

// Publish writes one payload to the channel. Fails fast when the transport is
// down; the caller surfaces that as a transient condition.
func (w *WS) Publish(ctx context.Context, payload []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return errors.New("gateway: channel not connected")
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != conn {
		return errors.New("gateway: channel reconnecting")
	}
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Run dials the channel and pumps inbound messages into handle until ctx is
// cancelled. Each dropped connection is redialed with exponential backoff.
// Blocks; run in a goroutine.
func (w *WS) Run(ctx context.Context, handle func([]byte)) {
	backoff := wsRedialMin

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := w.dial(ctx)
		if err != nil {
			w.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, wsRedialMax)
			continue
		}
		backoff = wsRedialMin

		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.log.Info().Msg("channel connected")

		w.pump(ctx, conn, handle)

		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
		_ = conn.Close()
	}
}

func (w *WS) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, wsHandshakeLimit)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, w.url, nil)
	return conn, err
}

func (w *WS) pump(ctx context.Context, conn *websocket.Conn, handle func([]byte)) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				w.log.Warn().Err(err).Msg("channel read ended")
			}
			return
		}
		handle(payload)
	}
}
