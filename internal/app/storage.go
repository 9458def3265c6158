package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/BatmanBruc/bat-bot-uploader/internal/config"
	"github.com/BatmanBruc/bat-bot-uploader/internal/crypto"
	"github.com/BatmanBruc/bat-bot-uploader/internal/scheduler"
	"github.com/BatmanBruc/bat-bot-uploader/internal/server"
	"github.com/BatmanBruc/bat-bot-uploader/internal/session"
	"github.com/BatmanBruc/bat-bot-uploader/store"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

const redisPrefix = "uploadbot"

var StorageModule = fx.Module(
	"storage",
	fx.Provide(
		NewSealer,
		NewPostgres,
		NewSessionBackend,
		NewSessionStore,
	),
)

func NewSealer(cfg *config.SecurityConfig, log zerolog.Logger) (crypto.Sealer, error) {
	if cfg.EncryptionKey == "" {
		log.Warn().Msg("ENCRYPTION_KEY not set: hosting credentials are stored in plain text")
		return crypto.Plain{}, nil
	}
	sealer, err := crypto.NewAESSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return sealer, nil
}

func NewPostgres(lc fx.Lifecycle, cfg *config.PostgresConfig, sealer crypto.Sealer, log zerolog.Logger) (*store.PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, cfg.DSN, sealer)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("postgres connected and migrations completed")

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Info().Msg("closing postgres pool...")
			pg.Close()
			return nil
		},
	})
	return pg, nil
}

// SessionBackend is the chosen session storage. Sweeper is set only for the
// in-memory backend; Redis expires keys itself.
type SessionBackend struct {
	Backend types.SessionBackend
	Sweeper scheduler.Sweeper
	Health  server.Pinger
}

func NewSessionBackend(lc fx.Lifecycle, redisCfg *config.RedisConfig, sessionCfg *config.SessionConfig, log zerolog.Logger) (SessionBackend, error) {
	if redisCfg.Addr == "" {
		log.Info().Dur("ttl", sessionCfg.TTL).Msg("using in-memory sessions")
		mem := store.NewMemorySessionStore(sessionCfg.TTL)
		return SessionBackend{Backend: mem, Sweeper: mem}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rdb, err := store.NewRedisClient(ctx, redisCfg.Addr, redisCfg.Password, redisCfg.DB, redisPrefix)
	if err != nil {
		return SessionBackend{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Info().Msg("closing redis client...")
			return rdb.Close()
		},
	})
	log.Info().Str("addr", redisCfg.Addr).Dur("ttl", sessionCfg.TTL).Msg("using redis sessions")
	return SessionBackend{Backend: store.NewRedisSessionStore(rdb, sessionCfg.TTL), Health: rdb}, nil
}

func NewSessionStore(b SessionBackend) *session.Store {
	return session.NewStore(b.Backend)
}
