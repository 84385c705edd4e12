// /internal/player/commands.go
package player

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keshon/trackdeck/internal/gateway"
)

// Commands sent to the audio engine over its command channel. Each carries
// an op discriminator the engine dispatches on.

type PlayCommand struct {
	Op    string `json:"op"`
	Guild int64  `json:"guildId,string"`
	Track string `json:"track"`
}

type StopCommand struct {
	Op    string `json:"op"`
	Guild int64  `json:"guildId,string"`
}

type DestroyCommand struct {
	Op    string `json:"op"`
	Guild int64  `json:"guildId,string"`
}

type GetPlayerCommand struct {
	Op    string `json:"op"`
	Guild int64  `json:"guildId,string"`
}

type UpdateCommand struct {
	Op       string   `json:"op"`
	Guild    int64    `json:"guildId,string"`
	Pause    *bool    `json:"pause,omitempty"`
	Position *int64   `json:"position,omitempty"`
	Volume   *int64   `json:"volume,omitempty"`
	Filters  *Filters `json:"filters,omitempty"`
}

type VoiceUpdateCommand struct {
	Op       string `json:"op"`
	Guild    int64  `json:"guildId,string"`
	Session  string `json:"sessionId"`
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

func Play(guild int64, track string) PlayCommand {
	return PlayCommand{Op: "play", Guild: guild, Track: track}
}

func Stop(guild int64) StopCommand {
	return StopCommand{Op: "stop", Guild: guild}
}

func Destroy(guild int64) DestroyCommand {
	return DestroyCommand{Op: "destroy", Guild: guild}
}

func GetPlayer(guild int64) GetPlayerCommand {
	return GetPlayerCommand{Op: "get-player", Guild: guild}
}

// Sender delivers commands to the engine's command channel.
type Sender interface {
	Send(ctx context.Context, command any) error
}

// WireSender marshals commands onto an injected publish primitive, the same
// shape the bus uses for its own leg of the broadcast channel.
type WireSender struct {
	pub gateway.Publisher
}

func NewWireSender(pub gateway.Publisher) *WireSender {
	return &WireSender{pub: pub}
}

func (w *WireSender) Send(ctx context.Context, command any) error {
	payload, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("player: encode command: %w", err)
	}
	return w.pub.Publish(ctx, payload)
}
