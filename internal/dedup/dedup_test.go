package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/store"
)

func TestSeenFallsBackToStore(t *testing.T) {
	t.Parallel()

	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	item := domain.NewItem(domain.SourceMessage{
		Source: domain.SourceRef{ChannelID: 1, MessageID: 2},
		Text:   "hello",
	}, time.Now())
	require.NoError(t, s.Create(ctx, item))

	// fresh index with an empty cache still finds the persisted fingerprint
	idx, err := New(16, s)
	require.NoError(t, err)

	seen, err := idx.Seen(ctx, item.Fingerprint)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = idx.Seen(ctx, domain.Fingerprint(1, 3))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMarkHitsCache(t *testing.T) {
	t.Parallel()

	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	idx, err := New(16, s)
	require.NoError(t, err)

	fp := domain.Fingerprint(5, 6)
	idx.Mark(fp)

	// nothing persisted for fp, so a hit proves the cache answered
	seen, err := idx.Seen(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, seen)
}
