// cmd/coordinatord/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/trackdeck/internal/api"
	"github.com/keshon/trackdeck/internal/cache"
	"github.com/keshon/trackdeck/internal/config"
	"github.com/keshon/trackdeck/internal/events"
	"github.com/keshon/trackdeck/internal/gateway"
	"github.com/keshon/trackdeck/internal/player"
	"github.com/keshon/trackdeck/internal/polling"
	"github.com/keshon/trackdeck/internal/queue"
	"github.com/keshon/trackdeck/internal/version"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	log.Info().
		Str("version", version.Version).
		Str("revision", version.Revision()).
		Msgf("starting %s", version.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := cache.New(cfg.StoragePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open cache store")
	}
	defer store.Close()

	// the correlated bus rides the broadcast channel to the voice gateway;
	// a second socket carries the audio engine's command/event stream
	busWS := gateway.NewWS(cfg.GatewayURL, log)
	engineWS := gateway.NewWS(cfg.EngineEventsURL, log)

	bus := gateway.New(busWS, cfg.RequestTimeout, log)
	sender := player.NewWireSender(engineWS)

	engine := player.NewEngine(cfg.EngineURL, cfg.EngineSecret, log)
	sessions := player.NewSessions(store, bus, engine, cfg.ReconnectSettle, cfg.PlayerTTL, log)
	queues := queue.New(store, log)
	hub := polling.New(cfg.LongPollTimeout, log)

	// fresh voice credentials go straight to the engine, followed by an
	// empty play to kick its connection over to the new endpoint
	bus.OnVoiceUpdate(func(update gateway.VoiceUpdate) {
		cmdCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()

		cmd := player.VoiceUpdateCommand{
			Op:       "voice-server-update",
			Guild:    update.Guild,
			Session:  update.Session,
			Endpoint: update.Endpoint,
			Token:    update.Token,
		}
		if err := sender.Send(cmdCtx, cmd); err != nil {
			log.Warn().Err(err).Int64("guild", update.Guild).Msg("forward voice update")
			return
		}
		if err := sender.Send(cmdCtx, player.Play(update.Guild, "")); err != nil {
			log.Warn().Err(err).Int64("guild", update.Guild).Msg("kick player after voice update")
		}
	})

	loop := events.NewLoop(queues, sessions, hub, sender, log)

	go busWS.Run(ctx, bus.HandleInbound)
	go engineWS.Run(ctx, loop.HandleRaw)

	server := api.NewServer(queues, sessions, hub, engine, sender, log)
	go server.Run(ctx, cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	cancel()
}
