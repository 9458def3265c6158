package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/internal/crypto"
	"github.com/BatmanBruc/bat-bot-uploader/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const queryTimeout = 5 * time.Second

// PostgresStore backs the channel registry and the upload ledger.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sealer crypto.Sealer
}

func NewPostgresStore(ctx context.Context, dsn string, sealer crypto.Sealer) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(ResolveDSN(dsn))
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sealer == nil {
		sealer = crypto.Plain{}
	}
	s := &PostgresStore{pool: pool, sealer: sealer}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// ResolveDSN returns dsn, or builds one from the POSTGRES_* variables when it is empty.
func ResolveDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn != "" {
		return dsn
	}
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "uploadbot"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "uploadbot"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertChannel(ctx context.Context, conversationID int64, name string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, upsertChannelSQL, conversationID, name)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

const upsertChannelSQL = `
INSERT INTO channels (chat_id, channel_name)
VALUES ($1, $2)
ON CONFLICT (chat_id) DO UPDATE SET
  channel_name = EXCLUDED.channel_name,
  updated_at = NOW();
`

func (s *PostgresStore) ListChannels(ctx context.Context, conversationID int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT channel_name
FROM channels
WHERE chat_id = $1
`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return names, nil
}

// RemoveChannel reports whether a row matched. The linked hosting account goes with it.
func (s *PostgresStore) RemoveChannel(ctx context.Context, conversationID int64, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
DELETE FROM channels
WHERE chat_id = $1 AND channel_name = $2
`, conversationID, name)
	if err != nil {
		return false, fmt.Errorf("remove channel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertChannelWithAccount writes both rows in one transaction.
func (s *PostgresStore) UpsertChannelWithAccount(ctx context.Context, channel types.Channel, account types.HostingAccount) error {
	secret, err := s.sealer.Seal(account.APISecret)
	if err != nil {
		return fmt.Errorf("seal api secret: %w", err)
	}
	password, err := s.sealer.Seal(account.Password)
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertChannelSQL, channel.ConversationID, channel.Name); err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO hosting_accounts (chat_id, username, api_key, api_secret, email, password, api_type)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (chat_id) DO UPDATE SET
  username = EXCLUDED.username,
  api_key = EXCLUDED.api_key,
  api_secret = EXCLUDED.api_secret,
  email = EXCLUDED.email,
  password = EXCLUDED.password,
  api_type = EXCLUDED.api_type,
  updated_at = NOW()
`, channel.ConversationID, account.Username, account.APIKey, secret, account.Email, password, string(account.APIType))
	if err != nil {
		return fmt.Errorf("upsert hosting account: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetHostingAccount(ctx context.Context, conversationID int64) (types.HostingAccount, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	acc := types.HostingAccount{ConversationID: conversationID}
	var secret, password, apiType string
	err := s.pool.QueryRow(ctx, `
SELECT username, api_key, api_secret, email, password, api_type
FROM hosting_accounts
WHERE chat_id = $1
`, conversationID).Scan(&acc.Username, &acc.APIKey, &secret, &acc.Email, &password, &apiType)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.HostingAccount{}, false, nil
	}
	if err != nil {
		return types.HostingAccount{}, false, fmt.Errorf("get hosting account: %w", err)
	}

	if acc.APISecret, err = s.sealer.Open(secret); err != nil {
		return types.HostingAccount{}, false, fmt.Errorf("open api secret: %w", err)
	}
	if acc.Password, err = s.sealer.Open(password); err != nil {
		return types.HostingAccount{}, false, fmt.Errorf("open password: %w", err)
	}
	acc.APIType = types.APIType(apiType)
	return acc, true, nil
}

func (s *PostgresStore) CreateUpload(ctx context.Context, rec types.UploadRecord) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO video_uploads (chat_id, file_id, title, hashtags, status)
VALUES ($1, $2, $3, $4, 'pending')
RETURNING id
`, rec.ConversationID, rec.MediaRef, rec.Title, rec.Hashtags).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create upload: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) MarkUploadSucceeded(ctx context.Context, id int64, url string) error {
	return s.finishUpload(ctx, id, types.UploadSuccess, &url)
}

func (s *PostgresStore) MarkUploadFailed(ctx context.Context, id int64) error {
	return s.finishUpload(ctx, id, types.UploadFailed, nil)
}

// finishUpload moves a pending record to a terminal status. Records that already
// left pending are reported with ErrUploadFinalized and not touched.
func (s *PostgresStore) finishUpload(ctx context.Context, id int64, status types.UploadStatus, url *string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE video_uploads
SET status = $2, published_url = COALESCE($3, published_url), finished_at = NOW()
WHERE id = $1 AND status = 'pending'
`, id, string(status), url)
	if err != nil {
		return fmt.Errorf("mark upload %d %s: %w", id, status, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM video_uploads WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("mark upload %d %s: %w", id, status, err)
	}
	if !exists {
		return fmt.Errorf("upload %d: %w", id, types.ErrNotFound)
	}
	return fmt.Errorf("upload %d: %w", id, types.ErrUploadFinalized)
}

func (s *PostgresStore) GetUpload(ctx context.Context, id int64) (types.UploadRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var (
		rec    types.UploadRecord
		status string
		url    *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, chat_id, file_id, title, hashtags, status, published_url, created_at, finished_at
FROM video_uploads
WHERE id = $1
`, id).Scan(&rec.ID, &rec.ConversationID, &rec.MediaRef, &rec.Title, &rec.Hashtags, &status, &url, &rec.CreatedAt, &rec.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.UploadRecord{}, fmt.Errorf("upload %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.UploadRecord{}, fmt.Errorf("get upload: %w", err)
	}
	rec.Status = types.UploadStatus(status)
	if url != nil {
		rec.PublishedURL = *url
	}
	return rec, nil
}

// FailStalePendingUploads fails records left pending for longer than olderThan,
// which only happens when the process that owned them died. Zero fails every pending record.
func (s *PostgresStore) FailStalePendingUploads(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE video_uploads
SET status = 'failed', finished_at = NOW()
WHERE status = 'pending' AND created_at <= NOW() - make_interval(secs => $1)
`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("fail stale uploads: %w", err)
	}
	return tag.RowsAffected(), nil
}
