// /internal/gateway/bus.go

// Package gateway implements the correlated request/response bus shared with
// the voice-gateway process. The channel is broadcast: every participant sees
// every message, so requests carry a correlation id and the matching reply
// comes back as a "response" envelope with the same id.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keshon/trackdeck/pkg/waitmap"
)

// ErrNoResponse is returned by Request when the remote side did not answer
// within the request timeout. It is a valid outcome, not a bug: callers treat
// it as "gateway unreachable right now".
var ErrNoResponse = errors.New("gateway: no response")

// Op is the closed set of operations understood on the broadcast channel.
// Strings appear on the wire only; inside the process everything dispatches
// on Op values.
type Op string

const (
	OpGetGuild      Op = "get_guild"
	OpGetMember     Op = "get_member"
	OpGetPermission Op = "get_permission"
	OpGetConnected  Op = "get_connected"
	OpSetConnected  Op = "set_connected"
	OpSendMessage   Op = "send_message"
	OpVoiceUpdate   Op = "voice_update"
	OpResponse      Op = "response"
)

// Envelope is the wire schema: op, optional correlation id, structured data.
type Envelope struct {
	Op   string          `json:"op"`
	ID   *string         `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the injected primitive that puts a raw payload on the
// broadcast channel.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Bus correlates requests with their responses and routes domain events to
// their owners. Inbound messages are fed through HandleInbound by whatever
// transport pumps the channel.
type Bus struct {
	pub     Publisher
	waiters *waitmap.Map[string]
	timeout time.Duration
	limiter *rate.Limiter
	log     zerolog.Logger

	mu      sync.RWMutex
	onVoice func(VoiceUpdate)
}

// New creates a Bus publishing through pub. timeout bounds every Request.
func New(pub Publisher, timeout time.Duration, log zerolog.Logger) *Bus {
	return &Bus{
		pub:     pub,
		waiters: waitmap.New[string](),
		timeout: timeout,
		// The gateway is a shared pipe; pace publishes so a burst of guild
		// commands cannot starve other tenants.
		limiter: rate.NewLimiter(rate.Limit(50), 50),
		log:     log.With().Str("component", "gateway").Logger(),
	}
}

// OnVoiceUpdate registers the handler for inbound voice_update events.
func (b *Bus) OnVoiceUpdate(fn func(VoiceUpdate)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onVoice = fn
}

// Publish broadcasts a fire-and-forget message.
func (b *Bus) Publish(ctx context.Context, op Op, data any) error {
	return b.send(ctx, Envelope{Op: string(op)}, data)
}

// Request broadcasts a message carrying a fresh correlation id and parks the
// caller until the matching response arrives or the bus timeout elapses. On
// timeout the waiter is removed and ErrNoResponse returned; a response
// arriving later finds no waiter and is dropped.
func (b *Bus) Request(ctx context.Context, op Op, data any) (json.RawMessage, error) {
	id := uuid.NewString()

	b.waiters.Hold(id)

	env := Envelope{Op: string(op), ID: &id}
	if err := b.send(ctx, env, data); err != nil {
		b.waiters.Forget(id)
		return nil, err
	}

	payload, woken := b.waiters.Wait(ctx, id, b.timeout)
	if !woken {
		b.waiters.Forget(id)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.log.Debug().Str("op", string(op)).Str("id", id).Msg("request timed out")
		return nil, ErrNoResponse
	}

	raw, _ := payload.(json.RawMessage)
	return raw, nil
}

func (b *Bus) send(ctx context.Context, env Envelope, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("gateway: encode %s payload: %w", env.Op, err)
	}
	env.Data = encoded

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gateway: encode envelope: %w", err)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.pub.Publish(ctx, payload); err != nil {
		return fmt.Errorf("gateway: publish %s: %w", env.Op, err)
	}
	return nil
}

// HandleInbound dispatches one raw message from the broadcast channel.
// Responses wake their waiter; voice updates go to the registered handler;
// everything else on the channel is a request addressed to the gateway
// process and is not ours to answer.
func (b *Bus) HandleInbound(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.log.Warn().Err(err).Msg("drop undecodable message")
		return
	}

	switch Op(env.Op) {
	case OpResponse:
		if env.ID == nil {
			b.log.Warn().Msg("drop response without id")
			return
		}
		if !b.waiters.Notify(*env.ID, env.Data) {
			b.log.Debug().Str("id", *env.ID).Msg("drop late response")
		}
	case OpVoiceUpdate:
		var update VoiceUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			b.log.Warn().Err(err).Msg("drop undecodable voice update")
			return
		}
		b.mu.RLock()
		fn := b.onVoice
		b.mu.RUnlock()
		if fn != nil {
			fn(update)
		}
	default:
		// get_guild, get_member, ... are served by the gateway, not by us.
	}
}
