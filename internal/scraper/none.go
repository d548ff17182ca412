package scraper

import (
	"context"
	"log/slog"

	"github.com/drewfead/rzn-watcher/internal"
)

const noneDescriptor = "none"

type noneScraper struct{}

func (s *noneScraper) Descriptor() string {
	return noneDescriptor
}

func (s *noneScraper) ScrapeEvents(context.Context) ([]internal.RawEvent, error) {
	slog.Debug("scrape-events", "descriptor", s.Descriptor())
	return []internal.RawEvent{}, nil
}

// None is a scraper that never finds anything.
func None() internal.Scraper {
	return &noneScraper{}
}
