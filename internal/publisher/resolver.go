package publisher

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/BatmanBruc/bat-bot-uploader/types"
	"golang.org/x/sync/singleflight"
)

type AccountSource interface {
	GetHostingAccount(ctx context.Context, conversationID int64) (types.HostingAccount, bool, error)
}

// Factory builds a publisher for a registered hosting account.
type Factory func(ctx context.Context, acc types.HostingAccount) (Publisher, error)

// Resolver picks the publisher for a chat: its own registered account if there is
// one, otherwise the process-wide default. Per-chat clients are built once and
// rebuilt only when the stored credentials change.
type Resolver struct {
	accounts AccountSource
	fallback Publisher
	build    Factory

	mu    sync.Mutex
	cache map[int64]cachedPublisher
	group singleflight.Group
}

type cachedPublisher struct {
	account types.HostingAccount
	pub     Publisher
}

// NewResolver accepts a nil fallback; chats without an account then get ErrNoPublisher.
func NewResolver(accounts AccountSource, fallback Publisher, build Factory) *Resolver {
	return &Resolver{
		accounts: accounts,
		fallback: fallback,
		build:    build,
		cache:    make(map[int64]cachedPublisher),
	}
}

func (r *Resolver) For(ctx context.Context, conversationID int64) (Publisher, error) {
	acc, ok, err := r.accounts.GetHostingAccount(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load hosting account: %w", err)
	}
	if !ok {
		r.forget(conversationID)
		if r.fallback == nil {
			return nil, ErrNoPublisher
		}
		return r.fallback, nil
	}

	r.mu.Lock()
	c, hit := r.cache[conversationID]
	r.mu.Unlock()
	if hit && c.account == acc {
		return c.pub, nil
	}

	v, err, _ := r.group.Do(strconv.FormatInt(conversationID, 10), func() (interface{}, error) {
		pub, err := r.build(context.WithoutCancel(ctx), acc)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[conversationID] = cachedPublisher{account: acc, pub: pub}
		r.mu.Unlock()
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("build publisher: %w", err)
	}
	return v.(Publisher), nil
}

func (r *Resolver) forget(conversationID int64) {
	r.mu.Lock()
	delete(r.cache, conversationID)
	r.mu.Unlock()
}

// DailymotionFactory builds Dailymotion clients from registered accounts.
func DailymotionFactory(base DailymotionConfig) Factory {
	return func(ctx context.Context, acc types.HostingAccount) (Publisher, error) {
		cfg := base
		cfg.APIKey = acc.APIKey
		cfg.APISecret = acc.APISecret
		cfg.Username = acc.Username
		cfg.Password = acc.Password
		cfg.APIType = acc.APIType
		return NewDailymotion(ctx, cfg)
	}
}
