package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dispatchhq/commshub/internal/adapters/http"
	"github.com/dispatchhq/commshub/internal/adapters/rest"
	"github.com/dispatchhq/commshub/internal/adapters/rtc"
	"github.com/dispatchhq/commshub/internal/adapters/ws"
	"github.com/dispatchhq/commshub/internal/app"
	"github.com/dispatchhq/commshub/internal/app/voice"
	"github.com/dispatchhq/commshub/internal/config"
	"github.com/dispatchhq/commshub/internal/core"
	"github.com/dispatchhq/commshub/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	st := store.New()
	threads := rest.NewThreadClient(cfg.ThreadsURL)
	syncer := app.NewSyncer(st, threads)

	senders := []core.ChannelSender{rest.NewChatSender(cfg.ThreadsURL)}
	if cfg.SMS.URL != "" {
		senders = append(senders, rest.NewSMSSender(cfg.SMS.URL, cfg.SMS.From, cfg.SMS.Key))
	}
	if cfg.Call.URL != "" {
		senders = append(senders, rest.NewCallSender(cfg.Call.URL, cfg.Call.From, cfg.Call.Key))
	}
	if cfg.Email.URL != "" {
		senders = append(senders, rest.NewEmailSender(cfg.Email.URL, cfg.Email.From, cfg.Email.Key))
	}
	dispatcher := app.NewDispatcher(st, senders...)

	room := core.RoomID(cfg.Room)
	identity := core.Identity(cfg.Identity)

	var vc *voice.Controller
	if cfg.VoiceEnabled() {
		capture := rtc.NewOggCapture(cfg.Voice.CapturePath)
		vc = voice.NewController(room, identity,
			rest.NewTokenClient(cfg.Voice.TokenURL),
			rtc.NewDialer(),
			capture,
			voice.WithCapabilityCheck(capture.Probe),
		)
	} else {
		vc = voice.NewController(room, identity, nil, nil, nil)
		log.Info().Msg("voice signaling not configured, PTT disabled")
	}

	var reg *app.Registry
	if cfg.RealtimeEnabled() {
		wsCfg := ws.Config{
			BackoffBase: cfg.BackoffBase,
			BackoffCap:  cfg.BackoffCap,
			MaxAttempts: cfg.MaxAttempts,
			ReadLimit:   cfg.ReadLimit,
		}
		reg = app.NewRegistry(func(room core.RoomID, identity core.Identity) core.RealtimeConn {
			endpoint := ws.EndpointURL(cfg.RealtimeURL, room, identity)
			return ws.NewClient(endpoint, wsCfg, syncer.HandleFrame, func(state core.ConnState) {
				syncer.HandleStatus(ctx, state)
			})
		})
	}

	hub := app.NewHub(st, syncer, dispatcher, vc, reg, room, identity, cfg.HydrateLimit)
	if err := hub.Start(ctx); err != nil {
		log.Error().Err(err).Msg("hub start")
	}

	r := router.SetupRouter(cfg, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("commshub started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
