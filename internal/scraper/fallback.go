package scraper

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
)

const fallbackDescriptor = "fallback"

func unsplash(photo string) string {
	return "https://images.unsplash.com/" + photo + "?q=80&w=1200&auto=format&fit=crop"
}

// fallbackEvents is served when no source produced anything.
var fallbackEvents = []internal.RawEvent{
	{
		ID:      "1",
		Title:   "Ревизор",
		Theatre: "Городской драматический театр",
		Date:    internal.Date(2025, time.December, 1, 19, 0),
		Genre:   "комедия",
		Images: []string{
			unsplash("photo-1515165562835-c4c9e0737eaa"),
			unsplash("photo-1485567702529-2b76d104e58f"),
			unsplash("photo-1512427691650-1e0c2f9a81b3"),
		},
	},
	{
		ID:      "2",
		Title:   "Чайка",
		Theatre: "Театр им. Чехова",
		Date:    internal.Date(2025, time.December, 2, 18, 30),
		Genre:   "драма",
		Images: []string{
			unsplash("photo-1438109491414-7198515b166b"),
			unsplash("photo-1497032628192-86f99bcd76bc"),
			unsplash("photo-1512428559087-560fa5ceab42"),
		},
	},
	{
		ID:      "3",
		Title:   "Щелкунчик",
		Theatre: "Музыкальный театр",
		Date:    internal.Date(2025, time.December, 3, 19, 0),
		Genre:   "балет",
		Images: []string{
			unsplash("photo-1461782290329-3f723aa707a4"),
			unsplash("photo-1512427691650-1e0c2f9a81b3"),
			unsplash("photo-1512428559087-560fa5ceab42"),
		},
	},
	{
		ID:      "4",
		Title:   "Город. Ночной трамвай",
		Theatre: "Новый экспериментальный театр",
		Date:    internal.Date(2025, time.December, 4, 20, 0),
		Genre:   "современная драма",
		Images: []string{
			unsplash("photo-1512427691650-1e0c2f9a81b3"),
			unsplash("photo-1485567724416-0a3c7a5b2e8c"),
			unsplash("photo-1485567702492-837c97c1be0e"),
		},
	},
	{
		ID:      "5",
		Title:   "Маленький принц",
		Theatre: "Театр юного зрителя",
		Date:    internal.Date(2025, time.December, 5, 12, 0),
		Genre:   "сказка",
		Images: []string{
			unsplash("photo-1512428559087-560fa5ceab42"),
			unsplash("photo-1512427691650-1e0c2f9a81b3"),
		},
	},
}

// FallbackEvents returns a copy of the fixed sample dataset.
func FallbackEvents() []internal.RawEvent {
	out := make([]internal.RawEvent, len(fallbackEvents))
	for i, ev := range fallbackEvents {
		ev.Images = slices.Clone(ev.Images)
		out[i] = ev
	}
	return out
}

type fallbackScraper struct{}

// Fallback is a scraper that always returns the sample dataset and never touches the network.
func Fallback() internal.Scraper {
	return &fallbackScraper{}
}

func (s *fallbackScraper) Descriptor() string {
	return fallbackDescriptor
}

func (s *fallbackScraper) ScrapeEvents(context.Context) ([]internal.RawEvent, error) {
	return FallbackEvents(), nil
}

// IsFallback reports whether events is the sample dataset, as returned by Fallback.
func IsFallback(events []internal.RawEvent) bool {
	return slices.EqualFunc(events, fallbackEvents, func(a, b internal.RawEvent) bool {
		return a.ID == b.ID && a.Title == b.Title && a.Date.Compare(b.Date) == 0
	})
}

// WithFallback returns middleware that substitutes fallback's events whenever the wrapped
// scraper fails or returns nothing. The decision is all or nothing.
func WithFallback(fallback internal.Scraper) ScraperMiddleware {
	return func(inner internal.Scraper) internal.Scraper {
		if inner == nil {
			return fallback
		}
		return &withFallback{inner: inner, fallback: fallback}
	}
}

type withFallback struct {
	inner    internal.Scraper
	fallback internal.Scraper
}

func (s *withFallback) Descriptor() string {
	return s.inner.Descriptor()
}

func (s *withFallback) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	events, err := s.inner.ScrapeEvents(ctx)
	if err == nil && len(events) > 0 {
		return events, nil
	}
	if err != nil {
		slog.Warn("fallback: scrape failed, serving fallback dataset", "descriptor", s.inner.Descriptor(), "error", err)
	} else {
		slog.Warn("fallback: no events from any source, serving fallback dataset", "descriptor", s.inner.Descriptor())
	}
	return s.fallback.ScrapeEvents(ctx)
}
