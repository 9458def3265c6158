package app

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/BatmanBruc/bat-bot-uploader/internal/config"
	"github.com/BatmanBruc/bat-bot-uploader/internal/handlers"
	"github.com/BatmanBruc/bat-bot-uploader/internal/logger"
	"github.com/BatmanBruc/bat-bot-uploader/internal/middleware"
	"github.com/BatmanBruc/bat-bot-uploader/internal/scheduler"
	"github.com/BatmanBruc/bat-bot-uploader/internal/session"
	"github.com/BatmanBruc/bat-bot-uploader/internal/telegram"
	"github.com/BatmanBruc/bat-bot-uploader/store"
)

// CreateApp wires the bot. Invokes run in order, so on shutdown the HTTP server
// stops first, then the bot, then the workers, then tracing and the pools.
func CreateApp(envFile string) fx.Option {
	return fx.Options(
		fx.Supply(config.EnvFile(envFile)),
		fx.Provide(config.Out),

		fx.Provide(NewLogger),
		StorageModule,
		PublisherModule,
		TelegramModule,
		UploadModule,

		fx.Invoke(
			StartTracing,
			RunScheduler,
			RunBot,
			RunHTTPServer,
		),
	)
}

func NewLogger(cfg *config.LoggingConfig) zerolog.Logger {
	return logger.New(cfg.Level)
}

var TelegramModule = fx.Module(
	"telegram",
	fx.Provide(
		NewBot,
		telegram.NewTransport,
		NewMiddlewares,
		NewHandlers,
	),
)

func NewMiddlewares(log zerolog.Logger, transport *telegram.Transport) *middleware.Middlewares {
	return middleware.NewMiddlewares(log, transport)
}

func NewHandlers(
	sessions *session.Store,
	pg *store.PostgresStore,
	transport *telegram.Transport,
	sched *scheduler.Scheduler,
	log zerolog.Logger,
) *handlers.Handlers {
	return handlers.NewHandlers(sessions, pg, transport, sched, log.With().Str("component", "handlers").Logger())
}
