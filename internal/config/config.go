package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Telegram  TelegramConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Session   SessionConfig
	Upload    UploadConfig
	Publisher PublisherConfig
	Security  SecurityConfig
	HTTP      HTTPConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
}

type TelegramConfig struct {
	BotToken string `validate:"required"`
	// APIURL points at a local Bot API server, needed for files above 20 MB.
	APIURL        string `validate:"omitempty,url"`
	WebhookURL    string `validate:"omitempty,url"`
	WebhookSecret string
	PollTimeout   time.Duration `validate:"gt=0"`
}

type PostgresConfig struct {
	// DSN may be empty; the store then builds one from POSTGRES_HOST and friends.
	DSN string
}

// RedisConfig selects the Redis session backend when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

type SessionConfig struct {
	TTL time.Duration `validate:"gt=0"`
}

type UploadConfig struct {
	TempDir           string
	DownloadTimeout   time.Duration `validate:"gt=0"`
	PublishTimeout    time.Duration `validate:"gt=0"`
	Workers           int           `validate:"gte=1,lte=64"`
	QueueSize         int           `validate:"gte=1"`
	StalePendingAfter time.Duration `validate:"gt=0"`
}

type PublisherConfig struct {
	Backend     string `validate:"oneof=dailymotion youtube"`
	Dailymotion DailymotionConfig
	YouTube     YouTubeConfig
}

// DailymotionConfig holds the process-wide account used for chats without their own.
type DailymotionConfig struct {
	APIKey    string
	APISecret string
	Username  string
	Password  string
	APIType   string `validate:"omitempty,oneof=Public Private public private"`
	Category  string
}

func (c DailymotionConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Privacy      string `validate:"oneof=public unlisted private"`
}

type SecurityConfig struct {
	// EncryptionKey is a base64 32 byte key sealing stored credentials. Empty disables sealing.
	EncryptionKey string `validate:"omitempty,base64"`
}

type HTTPConfig struct {
	Addr string `validate:"required"`
}

type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn warning error fatal"`
}

type TracingConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// Load reads envFile (if it exists) into the environment without overriding
// variables that are already set, then builds and validates the config.
func Load(envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	var p parser
	cfg := &Config{
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:        getEnv("TELEGRAM_API_URL", ""),
			WebhookURL:    getEnv("WEBHOOK_URL", ""),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
			PollTimeout:   p.duration("TELEGRAM_POLL_TIMEOUT", 50*time.Second),
		},
		Postgres: postgresFromEnv(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       p.int("REDIS_DB", 0),
		},
		Session: SessionConfig{
			TTL: p.duration("SESSION_TTL", 24*time.Hour),
		},
		Upload: UploadConfig{
			TempDir:           getEnv("UPLOAD_TEMP_DIR", os.TempDir()),
			DownloadTimeout:   p.duration("DOWNLOAD_TIMEOUT", 10*time.Minute),
			PublishTimeout:    p.duration("PUBLISH_TIMEOUT", 30*time.Minute),
			Workers:           p.int("UPLOAD_WORKERS", 2),
			QueueSize:         p.int("UPLOAD_QUEUE_SIZE", 16),
			StalePendingAfter: p.duration("STALE_PENDING_AFTER", 2*time.Hour),
		},
		Publisher: PublisherConfig{
			Backend: strings.ToLower(getEnv("PUBLISH_BACKEND", "dailymotion")),
			Dailymotion: DailymotionConfig{
				APIKey:    getEnv("DAILYMOTION_API_KEY", ""),
				APISecret: getEnv("DAILYMOTION_API_SECRET", ""),
				Username:  getEnv("DAILYMOTION_USERNAME", ""),
				Password:  getEnv("DAILYMOTION_PASSWORD", ""),
				APIType:   getEnv("DAILYMOTION_API_TYPE", "Public"),
				Category:  getEnv("DAILYMOTION_CATEGORY", ""),
			},
			YouTube: YouTubeConfig{
				ClientID:     getEnv("YT_CLIENT_ID", ""),
				ClientSecret: getEnv("YT_CLIENT_SECRET", ""),
				RefreshToken: getEnv("YT_REFRESH_TOKEN", ""),
				Privacy:      strings.ToLower(getEnv("YT_PRIVACY", "public")),
			},
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Logging: loggingFromEnv(),
		Tracing: TracingConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "uploadbot"),
		},
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only what the migrate command needs, so it runs on hosts
// without bot credentials.
func LoadDatabase(envFile string) (PostgresConfig, LoggingConfig, error) {
	if err := loadEnvFile(envFile); err != nil {
		return PostgresConfig{}, LoggingConfig{}, err
	}
	logging := loggingFromEnv()
	if err := validate.Struct(logging); err != nil {
		return PostgresConfig{}, LoggingConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return postgresFromEnv(), logging, nil
}

func loadEnvFile(envFile string) error {
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return nil
}

func postgresFromEnv() PostgresConfig {
	return PostgresConfig{DSN: getEnv("DATABASE_URL", getEnv("POSTGRES_DSN", ""))}
}

func loggingFromEnv() LoggingConfig {
	return LoggingConfig{Level: strings.ToLower(getEnv("LOG_LEVEL", "info"))}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// staleMargin covers record creation and finalization around a job's download and publish.
const staleMargin = 5 * time.Minute

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	up := c.Upload
	if minStale := up.DownloadTimeout + up.PublishTimeout + staleMargin; up.StalePendingAfter < minStale {
		return fmt.Errorf("invalid config: STALE_PENDING_AFTER (%s) must be at least DOWNLOAD_TIMEOUT + PUBLISH_TIMEOUT + %s (%s)",
			up.StalePendingAfter, staleMargin, minStale)
	}

	if c.Publisher.Backend == "youtube" {
		yt := c.Publisher.YouTube
		if yt.ClientID == "" || yt.ClientSecret == "" || yt.RefreshToken == "" {
			return fmt.Errorf("invalid config: PUBLISH_BACKEND=youtube needs YT_CLIENT_ID, YT_CLIENT_SECRET and YT_REFRESH_TOKEN")
		}
	}
	return nil
}

// UseWebhook reports whether updates arrive by webhook instead of long polling.
func (c *Config) UseWebhook() bool {
	return c.Telegram.UseWebhook()
}

func (c TelegramConfig) UseWebhook() bool {
	return c.WebhookURL != ""
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// parser collects conversion errors so every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// bare numbers are seconds
		if n, nerr := strconv.Atoi(raw); nerr == nil {
			return time.Duration(n) * time.Second
		}
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}
