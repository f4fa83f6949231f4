package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	// Capture drivers register themselves on import; without these the
	// binary sees no cameras, microphones or screens.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"

	"github.com/hiredeck/callkit/internal/config"
	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
	"github.com/hiredeck/callkit/internal/media"
	"github.com/hiredeck/callkit/internal/rtc"
	"github.com/hiredeck/callkit/internal/session"
	"github.com/hiredeck/callkit/internal/signaling"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		roomID = flag.String("room", "", "room id to join, empty creates a new room")
		name   = flag.String("name", "guest", "display name")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	devices, err := media.NewDevices()
	if err != nil {
		log.Fatal().Err(err).Msg("codec setup failed")
	}

	tr := signaling.NewWSTransport(cfg.ServerURL, cfg.ReadLimit, cfg.PingPeriod)
	sess, err := session.New(cfg, signaling.NewChannel(tr), devices)
	if err != nil {
		log.Fatal().Err(err).Msg("session setup failed")
	}

	unsubscribe := sess.Subscribe(session.Hooks{
		OnParticipantJoined: func(p *domain.Participant) {
			log.Info().Str("peer", string(p.ID)).Str("name", p.Name).Msg("participant joined")
		},
		OnParticipantLeft: func(id domain.ParticipantID) {
			log.Info().Str("peer", string(id)).Msg("participant left")
		},
		OnRemoteStream: func(id domain.ParticipantID, stream *rtc.RemoteStream) {
			log.Info().Str("peer", string(id)).Int("tracks", len(stream.Tracks())).Msg("remote stream")
		},
		OnConnectionStateChange: func(id domain.ParticipantID, state webrtc.PeerConnectionState) {
			log.Info().Str("peer", string(id)).Str("state", state.String()).Msg("connection state")
		},
		OnChatMessage: func(msg domain.ChatMessage) {
			log.Info().Str("from", msg.ParticipantName).Str("text", msg.Text).Msg("chat")
		},
		OnMediaStateChange: func(id domain.ParticipantID, kind core.TrackKind, enabled bool) {
			log.Info().Str("peer", string(id)).Str("kind", string(kind)).Bool("enabled", enabled).Msg("media toggle")
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("session error")
		},
	})
	defer unsubscribe()

	err = sess.Join(ctx, domain.RoomID(*roomID), session.ParticipantInfo{Name: *name})
	if err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	log.Info().Str("room", string(sess.Room().ID)).Msg("in call, ctrl-c to leave")

	<-ctx.Done()
	if err := sess.Leave(); err != nil {
		log.Error().Err(err).Msg("leave failed")
	}
	log.Info().Msg("call ended")
}
