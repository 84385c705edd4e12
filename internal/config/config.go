// /internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the service's environment-driven configuration. A local .env
// file is honored when present; system environment variables win.
type Config struct {
	GatewayURL      string        `env:"GATEWAY_URL" envDefault:"ws://localhost:8060/channel"`
	EngineEventsURL string        `env:"ENGINE_EVENTS_URL" envDefault:"ws://localhost:8060/engine"`
	EngineURL       string        `env:"ENGINE_URL" envDefault:"http://localhost:5030"`
	EngineSecret    string        `env:"ENGINE_SECRET"`
	StoragePath     string        `env:"STORAGE_PATH" envDefault:"trackdeck.json"`
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8785"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	LongPollTimeout time.Duration `env:"LONG_POLL_TIMEOUT" envDefault:"30s"`
	ReconnectSettle time.Duration `env:"RECONNECT_SETTLE" envDefault:"2s"`
	PlayerTTL       time.Duration `env:"PLAYER_TTL" envDefault:"60s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

func New() (*Config, error) {
	// no .env file is fine, the environment may carry everything
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}
