// /internal/gateway/models.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Response models for the ops the coordination layer asks the gateway about.

type Guild struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon"`
	Region      string    `json:"region"`
	Owner       int64     `json:"owner"`
	MemberCount int32     `json:"member_count"`
	Roles       []Role    `json:"roles"`
	Channels    []Channel `json:"channels"`
}

type Channel struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Kind     int32  `json:"kind"`
	Position int32  `json:"position"`
	Parent   int64  `json:"parent"`
}

type Role struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Color    int32  `json:"color"`
	Position int32  `json:"position"`
}

type Member struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Discriminator int32     `json:"discriminator"`
	Avatar        string    `json:"avatar"`
	Nickname      string    `json:"nickname"`
	Roles         []int64   `json:"roles"`
	JoinedAt      time.Time `json:"joined_at"`
}

type Permission struct {
	Permission int32 `json:"permission"`
}

// Connected describes the voice channel the gateway currently sits in for a
// guild, or for a single member when the query names one.
type Connected struct {
	Channel int64   `json:"channel"`
	Members []int64 `json:"members"`
}

// VoiceUpdate is the domain event the gateway broadcasts when Discord hands
// it fresh voice-server credentials for a guild.
type VoiceUpdate struct {
	Session  string `json:"session"`
	Guild    int64  `json:"guild"`
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// requestInto performs a correlated request and decodes the response into out.
// A JSON null response leaves out untouched, which for pointer targets means
// "the gateway answered: there is nothing" (distinct from ErrNoResponse).
func requestInto(ctx context.Context, b *Bus, op Op, data any, out any) error {
	raw, err := b.Request(ctx, op, data)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway: decode %s response: %w", op, err)
	}
	return nil
}

// GetGuild fetches gateway-side guild metadata.
func (b *Bus) GetGuild(ctx context.Context, guild int64) (*Guild, error) {
	var out *Guild
	err := requestInto(ctx, b, OpGetGuild, map[string]any{"guild": guild}, &out)
	return out, err
}

// GetMember fetches a guild member as the gateway sees it.
func (b *Bus) GetMember(ctx context.Context, guild, member int64) (*Member, error) {
	var out *Member
	err := requestInto(ctx, b, OpGetMember, map[string]any{
		"guild":  guild,
		"member": member,
	}, &out)
	return out, err
}

// GetPermission resolves a member's effective permission bits, optionally
// scoped to a channel.
func (b *Bus) GetPermission(ctx context.Context, guild, member int64, channel *int64) (*Permission, error) {
	var out *Permission
	err := requestInto(ctx, b, OpGetPermission, map[string]any{
		"guild":   guild,
		"member":  member,
		"channel": channel,
	}, &out)
	return out, err
}

// GetConnected asks which voice channel the gateway (or a given member) is
// connected to. A nil result with a nil error means "not connected".
func (b *Bus) GetConnected(ctx context.Context, guild int64, member *int64) (*Connected, error) {
	var out *Connected
	err := requestInto(ctx, b, OpGetConnected, map[string]any{
		"guild":  guild,
		"member": member,
	}, &out)
	return out, err
}

// SetConnected instructs the gateway to join channel, or to leave when
// channel is nil. The gateway acks with an empty response; only the ack
// matters, so the payload is discarded.
func (b *Bus) SetConnected(ctx context.Context, guild int64, channel *int64) error {
	_, err := b.Request(ctx, OpSetConnected, map[string]any{
		"guild":   guild,
		"channel": channel,
	})
	return err
}

// SendMessage has the gateway post a text message. Fire-and-forget.
func (b *Bus) SendMessage(ctx context.Context, channel int64, title, content string, author *int64) error {
	return b.Publish(ctx, OpSendMessage, map[string]any{
		"channel": channel,
		"title":   title,
		"content": content,
		"author":  author,
	})
}
