package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/internal/core/services"
	"roomcast/internal/infrastructure/capture"
	"roomcast/internal/infrastructure/media"
	"roomcast/internal/infrastructure/monitoring"
	relay "roomcast/internal/infrastructure/signal"
	"roomcast/internal/infrastructure/storage"
	webrtcinfra "roomcast/internal/infrastructure/webrtc"
	"roomcast/pkg/config"
	"roomcast/pkg/retry"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagRoom        string
	flagRole        string
	flagName        string
	flagID          string
	flagToken       string
	flagMetricsAddr string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and accept commands on stdin",
	Long: `Join a room and accept commands on stdin. Type "help" once joined.

Examples:
  participant join --room demo --role presenter --name Ada
  participant join --room demo --token $TOKEN --metrics :9100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRoom == "" {
			return fmt.Errorf("--room is required")
		}
		cfg, zapLogger := loadConfig()
		defer zapLogger.Sync()

		token := flagToken
		if token == "" {
			token = cfg.Signal.Token
		}
		self, err := resolveIdentity(token, flagID, flagName, domain.Role(flagRole))
		if err != nil {
			return err
		}
		return runJoin(cmd.Context(), cfg, zapLogger.Sugar(), domain.RoomID(flagRoom), self, token)
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagRoom, "room", "", "room to join")
	joinCmd.Flags().StringVar(&flagRole, "role", string(domain.RoleViewer), "presenter, moderator or viewer")
	joinCmd.Flags().StringVar(&flagName, "name", "", "display name")
	joinCmd.Flags().StringVar(&flagID, "id", "", "participant id, random when empty")
	joinCmd.Flags().StringVar(&flagToken, "token", "", "participant token issued by the relay, signal.token when empty")
	joinCmd.Flags().StringVar(&flagMetricsAddr, "metrics", "", "serve client metrics on this address")
}

// resolveIdentity reads the identity out of the token when one is given. The relay
// verifies the signature; the client only needs to know who it is.
func resolveIdentity(token, id, name string, role domain.Role) (domain.Participant, error) {
	if token != "" {
		claims := &services.Claims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return domain.Participant{}, fmt.Errorf("read token: %w", err)
		}
		return claims.Participant(), nil
	}

	if !role.Valid() {
		return domain.Participant{}, fmt.Errorf("unknown role %q", role)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if name == "" {
		name = string(role)
	}
	return domain.Participant{ID: domain.ParticipantID(id), Name: name, Role: role}, nil
}

func compositorConfig(cfg *config.Config) services.CompositorConfig {
	return services.CompositorConfig{
		Width:         cfg.Recording.Width,
		Height:        cfg.Recording.Height,
		FrameRate:     cfg.Recording.FrameRate,
		ChunkInterval: cfg.Recording.ChunkInterval,
		MimeTypes:     cfg.Recording.MimeTypes,
		PiPRatio:      cfg.Recording.PiPRatio,
	}
}

// newUploader stores recordings straight in S3 or posts them to the relay's session API.
func newUploader(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (ports.Uploader, error) {
	if cfg.Storage.Backend == "http" {
		return storage.NewHTTPUploader(cfg.SessionAPI.BaseURL, cfg.SessionAPI.Token, cfg.SessionAPI.Timeout, log), nil
	}

	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKey,
		SecretAccessKey: cfg.Storage.SecretKey,
		UsePathStyle:    cfg.Storage.Endpoint != "",
		PublicURL:       cfg.Storage.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewObjectUploader(store, cfg.Storage.Prefix, log), nil
}

func runJoin(parent context.Context, cfg *config.Config, log *zap.SugaredLogger, roomID domain.RoomID, self domain.Participant, token string) error {
	log = log.With("participant_id", self.ID)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewClientCollector(reg)
	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	sessions := newSessionClient(cfg, log)
	initial := domain.RoomScheduled
	if room, err := sessions.GetSession(ctx, roomID); err == nil {
		initial = room.Status
	} else if !errors.Is(err, domain.ErrRoomNotFound) {
		log.Warnw("Could not load session, assuming SCHEDULED", "room_id", roomID, "error", err)
	}

	registry := relay.NewChannelRegistry(log)
	channel, err := registry.Acquire(ctx, relay.ClientConfig{
		URL:            cfg.Signal.URL,
		Token:          token,
		ParticipantID:  self.ID,
		Name:           self.Name,
		Role:           self.Role,
		WriteWait:      cfg.Signal.WriteTimeout,
		PongWait:       cfg.Signal.PongTimeout,
		PingPeriod:     cfg.Signal.PingInterval,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
	})
	if err != nil {
		return err
	}
	defer registry.Release(channel)

	factory, err := webrtcinfra.NewPeerFactory(webrtcinfra.FactoryConfigFrom(cfg), log)
	if err != nil {
		return err
	}

	out := newConsole(os.Stdout)
	deps := services.RoomControllerDeps{
		Channel:     channel,
		PeerFactory: factory,
		Sessions:    sessions,
		Feed:        out,
		Notifier:    out,
		Metrics:     metrics,
	}

	switch self.Role {
	case domain.RolePresenter:
		deps.Captures = capture.NewFileProvider(capture.ProviderConfigFrom(cfg), log)
		deps.Encoders = media.NewDefaultRegistry(cfg.Recording.JPEGQuality, log)
		deps.OnSender = webrtcinfra.SenderFeedback(metrics, log)
		if deps.Uploader, err = newUploader(ctx, cfg, log); err != nil {
			return err
		}
	default:
		sink, err := media.NewFileDisplaySink(cfg.Display.OutputDir, log)
		if err != nil {
			return err
		}
		defer sink.Close()
		deps.Display = sink
		deps.Pump = webrtcinfra.NewTrackPump(log)
	}

	controller := services.NewRoomController(services.RoomControllerConfig{
		RoomID:        roomID,
		Self:          self,
		InitialStatus: initial,
		Compositor:    compositorConfig(cfg),
	}, deps, log)
	controller.Subscribe(out.Snapshot)

	channel.OnDisconnect(func(err error) {
		go reconnect(ctx, channel, controller, log)
	})

	if err := controller.Mount(ctx); err != nil {
		return err
	}
	defer func() {
		unmountCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := controller.Unmount(unmountCtx); err != nil {
			log.Warnw("Unmount failed", "error", err)
		}
	}()

	log.Infow("Joined room", "room_id", roomID, "role", self.Role, "status", initial)
	return out.Run(ctx, controller, os.Stdin)
}

// reconnect redials with backoff until ctx is done, then resyncs the room.
func reconnect(ctx context.Context, channel *relay.ChannelClient, controller *services.RoomController, log *zap.SugaredLogger) {
	cfg := retry.ReconnectConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warnw("Relay reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
	}

	if err := retry.Retry(ctx, cfg, func() error { return channel.Connect(ctx) }); err != nil {
		log.Errorw("Giving up on relay reconnect", "error", err)
		return
	}
	if err := controller.Resync(ctx); err != nil {
		log.Errorw("Room resync failed", "error", err)
		return
	}
	log.Info("Reconnected to relay")
}
