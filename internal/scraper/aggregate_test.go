package scraper

import (
	"errors"
	"testing"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_Aggregator(t *testing.T) {
	t.Run("merges registered sources", func(t *testing.T) {
		reg := NewRegistry(
			WithScraper(&mockScraper{descriptor: "a", events: []internal.RawEvent{event("a2", 12, 19), event("a1", 10, 19)}}),
			WithScraper(&mockScraper{descriptor: "b", events: []internal.RawEvent{event("b1", 11, 18)}}),
		)

		events, err := Aggregator(reg).ScrapeEvents(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "b1", "a2"}, ids(events))
		assert.False(t, IsFallback(events))
	})

	t.Run("falls back when every source fails", func(t *testing.T) {
		reg := NewRegistry(
			WithScraper(&mockScraper{descriptor: "a", err: errors.New("boom")}),
			WithScraper(&mockScraper{descriptor: "b", err: errors.New("boom")}),
		)

		events, err := Aggregator(reg).ScrapeEvents(t.Context())
		require.NoError(t, err)
		assert.True(t, IsFallback(events))
	})

	t.Run("nil registry", func(t *testing.T) {
		events, err := Aggregator(nil).ScrapeEvents(t.Context())
		require.NoError(t, err)
		assert.True(t, IsFallback(events))
	})
}
