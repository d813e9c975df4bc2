package broadcast

import (
	"context"
	"testing"
	"time"

	"sharecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFeed_PublishAndClear(t *testing.T) {
	feed := NewMemoryFeed()
	ctx := context.Background()

	current, err := feed.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	b := &domain.Broadcast{ContentType: domain.ContentTypeScreenshare, Stream: "s1", HasAudio: true, Publisher: "alice"}
	require.NoError(t, feed.Publish(ctx, b))

	current, err = feed.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", current.Stream)

	// the feed owns its copy
	b.Stream = "mutated"
	current, _ = feed.Current(ctx)
	assert.Equal(t, "s1", current.Stream)

	require.NoError(t, feed.Clear(ctx, "alice"))
	current, err = feed.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	assert.ErrorIs(t, feed.Publish(ctx, nil), ErrNilBroadcast)
}

func TestMemoryFeed_ClearKeepsOtherPublisher(t *testing.T) {
	feed := NewMemoryFeed()
	ctx := context.Background()

	require.NoError(t, feed.Publish(ctx, &domain.Broadcast{ContentType: domain.ContentTypeScreenshare, Stream: "a", Publisher: "alice"}))
	require.NoError(t, feed.Publish(ctx, &domain.Broadcast{ContentType: domain.ContentTypeScreenshare, Stream: "b", Publisher: "bob"}))

	require.NoError(t, feed.Clear(ctx, "alice"))
	current, err := feed.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "bob", current.Publisher)

	require.NoError(t, feed.Clear(ctx, "bob"))
	current, err = feed.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestMemoryFeed_Subscribe(t *testing.T) {
	feed := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *domain.Broadcast, 4)
	done := make(chan error, 1)
	go func() {
		done <- feed.Subscribe(ctx, func(b *domain.Broadcast) { got <- b })
	}()

	require.Eventually(t, func() bool {
		feed.mu.RLock()
		defer feed.mu.RUnlock()
		return len(feed.subscribers) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Publish(ctx, &domain.Broadcast{ContentType: domain.ContentTypeCamera, Stream: "cam", Publisher: "alice"}))
	select {
	case b := <-got:
		require.NotNil(t, b)
		assert.Equal(t, "cam", b.Stream)
	case <-time.After(time.Second):
		t.Fatal("no broadcast delivered")
	}

	require.NoError(t, feed.Clear(ctx, "alice"))
	select {
	case b := <-got:
		assert.Nil(t, b)
	case <-time.After(time.Second):
		t.Fatal("no clear delivered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMemoryFeed_Close(t *testing.T) {
	feed := NewMemoryFeed()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- feed.Subscribe(ctx, func(*domain.Broadcast) {}) }()
	require.Eventually(t, func() bool {
		feed.mu.RLock()
		defer feed.mu.RUnlock()
		return len(feed.subscribers) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())
	assert.ErrorIs(t, <-done, ErrFeedClosed)

	assert.ErrorIs(t, feed.Publish(ctx, &domain.Broadcast{Stream: "x"}), ErrFeedClosed)
	_, err := feed.Current(ctx)
	assert.ErrorIs(t, err, ErrFeedClosed)
}
