package scraper

import (
	"context"
	"testing"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taggedScraper struct {
	internal.Scraper
	tag string
}

func (s *taggedScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	events, err := s.Scraper.ScrapeEvents(ctx)
	for i := range events {
		events[i].Genre += "+" + s.tag
	}
	return events, err
}

func tagging(tag string) ScraperMiddleware {
	return func(inner internal.Scraper) internal.Scraper {
		return &taggedScraper{Scraper: inner, tag: tag}
	}
}

func TestUnit_Registry_KeepsRegistrationOrder(t *testing.T) {
	reg := NewRegistry(
		WithScraper(&mockScraper{descriptor: "b"}),
		WithScraper(&mockScraper{descriptor: "a"}),
		WithScraper(&mockScraper{descriptor: "c"}),
		WithScraper(&mockScraper{descriptor: "a"}),
	)

	var got []string
	for _, s := range reg.Scrapers() {
		got = append(got, s.Descriptor())
	}
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestUnit_Registry_GetScraper(t *testing.T) {
	reg := NewRegistry(WithScraper(&mockScraper{descriptor: "a"}))

	s, err := reg.GetScraper("a")
	require.NoError(t, err)
	assert.Equal(t, "a", s.Descriptor())

	_, err = reg.GetScraper("missing")
	require.ErrorIs(t, err, ErrScraperNotFound)
}

func TestUnit_Registry_Middleware(t *testing.T) {
	reg := NewRegistry(
		WithScraper(&mockScraper{descriptor: "a", events: []internal.RawEvent{{ID: "1", Genre: "g"}}}, tagging("inner"), tagging("outer")),
		WithMiddleware(tagging("all")),
	)

	s, err := reg.GetScraper("a")
	require.NoError(t, err)
	events, err := s.ScrapeEvents(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "g+inner+outer+all", events[0].Genre)
	assert.Equal(t, "a", s.Descriptor())
}

func TestUnit_Theatres_RegistrationOrder(t *testing.T) {
	var got []string
	for _, s := range Theatres() {
		got = append(got, s.Descriptor())
	}
	assert.Equal(t, []string{
		RzndramaDescriptor,
		RznpuppetDescriptor,
		RomustDescriptor,
		PerehodDescriptor,
		RzntdmDescriptor,
	}, got)
}
