package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestUnit_Cache_ServesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: goldenNow}
	src := &mockScraper{descriptor: "src", events: []internal.RawEvent{event("a", 20, 19)}}
	c := NewCache(src, WithTTL(5*time.Minute), WithCacheClock(clock.Now))

	_, ok := c.FetchedAt()
	assert.False(t, ok, "nothing fetched yet")

	for range 3 {
		events, err := c.Get(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, ids(events))
	}
	assert.EqualValues(t, 1, src.calls.Load())

	clock.Advance(4*time.Minute + 59*time.Second)
	_, err := c.Get(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load())

	clock.Advance(time.Second)
	_, err = c.Get(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load(), "an entry exactly ttl old is stale")

	fetchedAt, ok := c.FetchedAt()
	require.True(t, ok)
	assert.Equal(t, clock.Now(), fetchedAt)
}

func TestUnit_Cache_FallbackOnFailure(t *testing.T) {
	src := &mockScraper{descriptor: "src", err: errors.New("boom")}
	c := NewCache(src)

	events, err := c.Get(t.Context())
	require.NoError(t, err)
	assert.True(t, IsFallback(events))
}

func TestUnit_Cache_RefreshReplacesEntry(t *testing.T) {
	src := &mockScraper{descriptor: "src", events: []internal.RawEvent{event("old", 20, 19)}}
	c := NewCache(src)

	_, err := c.Get(t.Context())
	require.NoError(t, err)

	src.events = []internal.RawEvent{event("new", 21, 19)}
	events, err := c.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(events))

	events, err = c.Get(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(events))
}

func TestUnit_Cache_ScrapeDisabled(t *testing.T) {
	src := &mockScraper{descriptor: "src", events: []internal.RawEvent{event("a", 20, 19)}}
	c := NewCache(src, WithScrapeDisabled(true))

	events, err := c.Get(t.Context())
	require.NoError(t, err)
	assert.True(t, IsFallback(events))

	events, err = c.Refresh(t.Context())
	require.NoError(t, err)
	assert.True(t, IsFallback(events))
	assert.Zero(t, src.calls.Load())
}

func TestUnit_Cache_ConcurrentMissesShareOneRefresh(t *testing.T) {
	src := &mockScraper{descriptor: "src", events: []internal.RawEvent{event("a", 20, 19)}, delay: 100 * time.Millisecond}
	c := NewCache(src)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			events, err := c.Get(t.Context())
			assert.NoError(t, err)
			assert.Equal(t, []string{"a"}, ids(events))
		})
	}
	wg.Wait()
	assert.EqualValues(t, 1, src.calls.Load())
}

type blockingScraper struct {
	release chan struct{}
	done    chan struct{}
}

func (s *blockingScraper) Descriptor() string { return "blocking" }

func (s *blockingScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	defer close(s.done)
	select {
	case <-s.release:
		return []internal.RawEvent{event("late", 20, 19)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestUnit_Cache_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	src := &blockingScraper{release: make(chan struct{}), done: make(chan struct{})}
	c := NewCache(src)

	ctx, cancel := context.WithCancel(t.Context())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx)
		errs <- err
	}()
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	close(src.release)
	<-src.done
	require.Eventually(t, func() bool {
		_, ok := c.FetchedAt()
		return ok
	}, time.Second, 5*time.Millisecond)

	events, err := c.Get(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, ids(events))
}
