package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	signalws "github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/call"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// Headless call participant: joins a room's call with synthetic capture.
// Useful for smoke-testing a deployment and for filling a call from scripts.
func main() {
	server := pflag.String("server", "http://localhost:8080", "relay server base URL")
	room := pflag.String("room", "lobby", "room to join")
	name := pflag.String("name", "", "display name")
	video := pflag.Bool("video", false, "request a video call instead of audio")
	token := pflag.String("token", "", "client token (identity); random when empty")
	stun := pflag.StringSlice("stun", nil, "STUN server URLs")
	negotiationTimeout := pflag.Duration("negotiation-timeout", 30*time.Second, "per-peer negotiation deadline")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Flags win; anything left unset falls back to the shared config file.
	if cfg, err := config.Load(); err == nil && cfg != nil {
		if !pflag.CommandLine.Changed("negotiation-timeout") {
			*negotiationTimeout = cfg.NegotiationTimeout
		}
		if len(*stun) == 0 {
			*stun = cfg.StunServers
		}
	}

	if *token == "" {
		*token = uuid.NewString()
	}

	cl, err := signalws.Dial(ctx, *server, *token)
	if err != nil {
		log.Fatal().Err(err).Msg("dial signaling server")
	}
	defer cl.Close()

	if err := cl.JoinRoom(*room, *name); err != nil {
		log.Fatal().Err(err).Msg("join room")
	}

	kind := domain.CallAudio
	if *video {
		kind = domain.CallVideo
	}

	rtcCfg := rtc.Config(*stun)
	ctl := call.NewController(call.Config{
		Self:    cl.Self(),
		Room:    domain.RoomName(*room),
		Kind:    kind,
		Uplink:  cl,
		Capture: call.SilenceCapturer{},
		NewMedia: func() (core.MediaConnection, error) {
			return rtc.NewWebRTCConnection(rtcCfg, string(cl.Self().ID))
		},
		NegotiationTimeout: *negotiationTimeout,
	})
	cl.Bind(ctl)
	cl.OnIncomingCall = func(kind domain.CallType, initiator domain.User) {
		log.Info().Str("call_type", string(kind)).Str("from", initiator.Username).Msg("incoming call")
	}

	go func() {
		if err := cl.Listen(ctx); err != nil {
			log.Warn().Err(err).Msg("signaling connection closed")
		}
	}()

	if err := ctl.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join call")
	}

	select {
	case <-ctx.Done():
		ctl.Leave()
		<-ctl.Done()
	case <-ctl.Done():
	}

	if err := ctl.Err(); err != nil {
		if errors.Is(err, call.ErrRoomFull) {
			log.Error().Msg("call is full")
		} else {
			log.Error().Err(err).Msg("call ended with error")
		}
		os.Exit(1)
	}
	log.Info().Msg("call ended")
}
