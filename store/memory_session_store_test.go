package store

import (
	"context"
	"testing"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore(time.Hour)

	_, err := s.Get(ctx, 7)
	require.ErrorIs(t, err, types.ErrSessionNotFound)

	require.NoError(t, s.Put(ctx, types.NewSession(7, types.FlowUpload, types.AwaitingTitle{FileID: "f1"})))

	got, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, types.AwaitingTitle{FileID: "f1"}, got.State)

	require.NoError(t, s.Delete(ctx, 7))
	_, err = s.Get(ctx, 7)
	require.ErrorIs(t, err, types.ErrSessionNotFound)

	require.NoError(t, s.Delete(ctx, 7), "deleting an idle conversation is a no-op")
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemorySessionStore(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, types.NewSession(1, types.FlowUpload, types.AwaitingVideo{})))
	require.NoError(t, s.Put(ctx, types.NewSession(2, types.FlowRemoveChannel, types.AwaitingChannelRemove{})))

	now = now.Add(30 * time.Second)
	require.NoError(t, s.Put(ctx, types.NewSession(2, types.FlowRemoveChannel, types.AwaitingChannelRemove{})))

	now = now.Add(45 * time.Second)
	_, err := s.Get(ctx, 1)
	require.ErrorIs(t, err, types.ErrSessionNotFound)

	_, err = s.Get(ctx, 2)
	require.NoError(t, err, "a write refreshes the ttl")

	now = now.Add(time.Minute)
	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
