package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/meshcall/internal/adapters/http"
	"github.com/dkeye/meshcall/internal/adapters/media"
	"github.com/dkeye/meshcall/internal/adapters/roster"
	"github.com/dkeye/meshcall/internal/adapters/rtc"
	"github.com/dkeye/meshcall/internal/adapters/signal"
	"github.com/dkeye/meshcall/internal/call"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

func main() {
	callID := flag.String("call", "", "call id to join")
	groupID := flag.String("group", "", "group id of the call")
	withVideo := flag.Bool("video", false, "enable video capture")
	flag.Parse()

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	if *callID == "" {
		log.Fatal().Msg("missing -call flag")
	}

	selfID := cfg.SelfID
	if selfID == "" {
		selfID = uuid.NewString()
	}

	sig, err := signal.Dial(ctx, signal.Config{
		URL:        cfg.SignalURL,
		SendBuffer: cfg.SendBuffer,
		PingPeriod: cfg.PingPeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect signaling")
	}
	defer sig.Close()

	events := &core.SessionEvents{
		OnStatus: func(s domain.CallStatus) {
			log.Info().Str("status", s.String()).Msg("call status")
		},
		OnParticipantJoined: func(p domain.Participant) {
			log.Info().Str("pid", string(p.ID)).Str("name", p.DisplayName).Msg("participant joined")
		},
		OnParticipantLeft: func(pid domain.ParticipantID) {
			log.Info().Str("pid", string(pid)).Msg("participant left")
		},
		OnLinkError: func(pid domain.ParticipantID, err error) {
			log.Warn().Err(err).Str("pid", string(pid)).Msg("link error")
		},
		OnSessionError: func(msg string) {
			log.Error().Str("reason", msg).Msg("session error")
		},
	}

	sess := call.NewOutgoing(call.Deps{
		Signal:    sig,
		Media:     media.Factory(*withVideo),
		Roster:    roster.NewClient(cfg.RosterURL, domain.ParticipantID(selfID)),
		Transport: rtc.Factory(rtc.WebRTCConfig(cfg.ICEServers)),
		Events:    events,
		Tunables: call.Tunables{
			DisconnectGrace: cfg.DisconnectGrace,
			RestartWindow:   cfg.RestartWindow,
			MaxLinkRetries:  cfg.MaxLinkRetries,
			SignalStall:     cfg.SignalStallTimeout,
			QueueCap:        cfg.CandidateQueueCap,
			RosterRefresh:   cfg.RosterRefresh,
		},
	}, domain.CallID(*callID), domain.GroupID(*groupID), domain.ParticipantID(selfID))

	if err := sess.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to join call")
	}

	r := router.SetupRouter(cfg, sess)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("call", *callID).Msg("meshcall client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	sess.Leave()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
