package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/types"
)

// RedisSessionStore keeps one JSON document per conversation under "<prefix>:session:<id>".
// Expiry is left to the key TTL, refreshed on every write.
type RedisSessionStore struct {
	client *RedisClient
	ttl    time.Duration
}

func NewRedisSessionStore(redisClient *RedisClient, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisSessionStore{
		client: redisClient,
		ttl:    ttl,
	}
}

func (s *RedisSessionStore) key(conversationID int64) string {
	return s.client.generateKey("session", strconv.FormatInt(conversationID, 10))
}

func (s *RedisSessionStore) Get(ctx context.Context, conversationID int64) (*types.Session, error) {
	var sess types.Session
	if err := s.client.Get(ctx, s.key(conversationID), &sess); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrSessionNotFound
		}
		if errors.Is(err, ErrUndecodable) {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidSession, err)
		}
		return nil, err
	}
	return &sess, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, session *types.Session) error {
	return s.client.Set(ctx, s.key(session.ConversationID), session, s.ttl)
}

func (s *RedisSessionStore) Delete(ctx context.Context, conversationID int64) error {
	return s.client.Del(ctx, s.key(conversationID))
}
