package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/BatmanBruc/bat-bot-uploader/internal/config"
	"github.com/BatmanBruc/bat-bot-uploader/internal/pipeline"
	"github.com/BatmanBruc/bat-bot-uploader/internal/publisher"
	"github.com/BatmanBruc/bat-bot-uploader/internal/scheduler"
	"github.com/BatmanBruc/bat-bot-uploader/internal/session"
	"github.com/BatmanBruc/bat-bot-uploader/internal/telegram"
	"github.com/BatmanBruc/bat-bot-uploader/internal/telemetry"
	"github.com/BatmanBruc/bat-bot-uploader/store"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

var PublisherModule = fx.Module(
	"publisher",
	fx.Provide(NewPublisherResolver),
)

var UploadModule = fx.Module(
	"upload",
	fx.Provide(
		NewPipeline,
		NewScheduler,
	),
)

// NewDefaultPublisher builds the process-wide publisher. It returns nil when no
// default Dailymotion account is configured; only registered chats can upload then.
func NewDefaultPublisher(ctx context.Context, cfg *config.PublisherConfig) (publisher.Publisher, error) {
	switch cfg.Backend {
	case "youtube":
		y, err := publisher.NewYouTube(ctx, publisher.YouTubeConfig{
			ClientID:     cfg.YouTube.ClientID,
			ClientSecret: cfg.YouTube.ClientSecret,
			RefreshToken: cfg.YouTube.RefreshToken,
			Privacy:      cfg.YouTube.Privacy,
		})
		if err != nil {
			return nil, err
		}
		return y, nil
	case "dailymotion", "":
		if !cfg.Dailymotion.Configured() {
			return nil, nil
		}
		apiType, ok := types.ParseAPIType(cfg.Dailymotion.APIType)
		if !ok {
			return nil, fmt.Errorf("invalid DAILYMOTION_API_TYPE %q", cfg.Dailymotion.APIType)
		}
		dm, err := publisher.NewDailymotion(ctx, publisher.DailymotionConfig{
			APIKey:    cfg.Dailymotion.APIKey,
			APISecret: cfg.Dailymotion.APISecret,
			Username:  cfg.Dailymotion.Username,
			Password:  cfg.Dailymotion.Password,
			APIType:   apiType,
			Category:  cfg.Dailymotion.Category,
		})
		if err != nil {
			return nil, err
		}
		return dm, nil
	}
	return nil, fmt.Errorf("unknown publish backend %q", cfg.Backend)
}

func NewPublisherResolver(cfg *config.PublisherConfig, pg *store.PostgresStore, log zerolog.Logger) (*publisher.Resolver, error) {
	def, err := NewDefaultPublisher(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if def == nil {
		log.Warn().Msg("no default publisher configured: only chats registered with /register can upload")
	} else {
		log.Info().Str("backend", cfg.Backend).Msg("default publisher ready")
	}
	perChat := publisher.DailymotionFactory(publisher.DailymotionConfig{Category: cfg.Dailymotion.Category})
	return publisher.NewResolver(pg, def, perChat), nil
}

func NewPipeline(
	cfg *config.UploadConfig,
	pg *store.PostgresStore,
	transport *telegram.Transport,
	resolver *publisher.Resolver,
	sessions *session.Store,
	log zerolog.Logger,
) (*pipeline.Pipeline, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return pipeline.New(pg, transport, transport, resolver, sessions, &http.Client{}, pipeline.Config{
		TempDir:         cfg.TempDir,
		DownloadTimeout: cfg.DownloadTimeout,
		PublishTimeout:  cfg.PublishTimeout,
	}, log.With().Str("component", "pipeline").Logger()), nil
}

func NewScheduler(cfg *config.UploadConfig, p *pipeline.Pipeline, pg *store.PostgresStore, sessions SessionBackend, log zerolog.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(p, pg, sessions.Sweeper, scheduler.Config{
		Workers:           cfg.Workers,
		QueueSize:         cfg.QueueSize,
		StalePendingAfter: cfg.StalePendingAfter,
	}, log)
}

func RunScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}

func StartTracing(lc fx.Lifecycle, cfg *config.TracingConfig, log zerolog.Logger) {
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, log)
			return err
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}
