package config

import "go.uber.org/fx"

// EnvFile is the path handed to Load by the fx graph.
type EnvFile string

// Result splits the config into sections for fx injection.
type Result struct {
	fx.Out

	Config    *Config
	Telegram  *TelegramConfig
	Postgres  *PostgresConfig
	Redis     *RedisConfig
	Session   *SessionConfig
	Upload    *UploadConfig
	Publisher *PublisherConfig
	Security  *SecurityConfig
	HTTP      *HTTPConfig
	Logging   *LoggingConfig
	Tracing   *TracingConfig
}

func Out(envFile EnvFile) (Result, error) {
	cfg, err := Load(string(envFile))
	if err != nil {
		return Result{}, err
	}

	return Result{
		Config:    cfg,
		Telegram:  &cfg.Telegram,
		Postgres:  &cfg.Postgres,
		Redis:     &cfg.Redis,
		Session:   &cfg.Session,
		Upload:    &cfg.Upload,
		Publisher: &cfg.Publisher,
		Security:  &cfg.Security,
		HTTP:      &cfg.HTTP,
		Logging:   &cfg.Logging,
		Tracing:   &cfg.Tracing,
	}, nil
}
