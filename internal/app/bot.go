package app

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/BatmanBruc/bat-bot-uploader/internal/config"
	"github.com/BatmanBruc/bat-bot-uploader/internal/handlers"
	"github.com/BatmanBruc/bat-bot-uploader/internal/middleware"
	"github.com/BatmanBruc/bat-bot-uploader/internal/server"
	"github.com/BatmanBruc/bat-bot-uploader/internal/telegram"
	"github.com/BatmanBruc/bat-bot-uploader/store"
)

const defaultWebhookPath = "/webhook"

func NewBot(cfg *config.TelegramConfig, log zerolog.Logger) (*bot.Bot, error) {
	log = log.With().Str("component", "telegram").Logger()

	opts := []bot.Option{
		bot.WithHTTPClient(cfg.PollTimeout, &http.Client{Timeout: cfg.PollTimeout * 2}),
		bot.WithErrorsHandler(func(err error) {
			log.Error().Str("error", redactToken(err, cfg.BotToken)).Msg("telegram api error")
		}),
	}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIURL))
	}
	if cfg.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}
	return bot.New(cfg.BotToken, opts...)
}

// RunBot registers the update chain and receives updates by webhook when
// WEBHOOK_URL is set, by long polling otherwise.
func RunBot(
	lc fx.Lifecycle,
	b *bot.Bot,
	transport *telegram.Transport,
	m *middleware.Middlewares,
	h *handlers.Handlers,
	cfg *config.TelegramConfig,
	log zerolog.Logger,
) {
	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, h.MainHandler, m.Chain()...)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := transport.RegisterCommands(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to register bot commands")
			}

			if cfg.UseWebhook() {
				if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
					URL:         cfg.WebhookURL,
					SecretToken: cfg.WebhookSecret,
				}); err != nil {
					cancel()
					return err
				}
				log.Info().Str("url", cfg.WebhookURL).Msg("bot started with webhook")
				go func() {
					defer close(done)
					b.StartWebhook(runCtx)
				}()
				return nil
			}

			if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
				log.Warn().Err(err).Msg("failed to delete webhook")
			}
			log.Info().Msg("bot started with long polling")
			go func() {
				defer close(done)
				b.Start(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("stopping bot...")
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
}

// redactToken hides the bot token that request URLs embed in API errors.
func redactToken(err error, token string) string {
	if token == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), token, "<token>")
}

func webhookPath(webhookURL string) string {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return defaultWebhookPath
	}
	return u.Path
}

func RunHTTPServer(
	lc fx.Lifecycle,
	cfg *config.HTTPConfig,
	tcfg *config.TelegramConfig,
	b *bot.Bot,
	pg *store.PostgresStore,
	sessions SessionBackend,
	log zerolog.Logger,
) {
	scfg := server.Config{
		Addr:   cfg.Addr,
		Checks: map[string]server.Pinger{"postgres": pg},
	}
	if sessions.Health != nil {
		scfg.Checks["redis"] = sessions.Health
	}
	if tcfg.UseWebhook() {
		scfg.WebhookPath = webhookPath(tcfg.WebhookURL)
		scfg.Webhook = b.WebhookHandler()
	}

	srv := server.New(scfg, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("stopping http server...")
			return srv.Shutdown(ctx)
		},
	})
}
