package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_CircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &mockScraper{descriptor: "flaky", err: errors.New("502")}
	s := CircuitBreaker(BreakerSettings{ConsecutiveFailures: 2, OpenFor: time.Hour})(inner)
	require.Equal(t, "flaky", s.Descriptor())

	for range 2 {
		_, err := s.ScrapeEvents(t.Context())
		require.Error(t, err)
	}
	_, err := s.ScrapeEvents(t.Context())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, inner.calls.Load(), "open breaker does not call the source")
}

func TestUnit_CircuitBreaker_HalfOpenRecovers(t *testing.T) {
	inner := &mockScraper{descriptor: "flaky", err: errors.New("502")}
	s := CircuitBreaker(BreakerSettings{ConsecutiveFailures: 1, OpenFor: 50 * time.Millisecond})(inner)

	_, err := s.ScrapeEvents(t.Context())
	require.Error(t, err)
	_, err = s.ScrapeEvents(t.Context())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	inner.err = nil
	inner.events = []internal.RawEvent{event("back", 20, 19)}
	require.Eventually(t, func() bool {
		events, err := s.ScrapeEvents(t.Context())
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestUnit_CircuitBreaker_IgnoresCancellation(t *testing.T) {
	inner := &mockScraper{descriptor: "slow", delay: time.Second}
	s := CircuitBreaker(BreakerSettings{ConsecutiveFailures: 1, OpenFor: time.Hour})(inner)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	for range 3 {
		_, err := s.ScrapeEvents(ctx)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.EqualValues(t, 3, inner.calls.Load())
}
