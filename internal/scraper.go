package internal

import (
	"context"
	"net/http"
)

type Scraper interface {
	// Descriptor returns the source descriptor (e.g. for registry lookup and metric labels).
	Descriptor() string
	// ScrapeEvents fetches the source and returns its events sorted by date.
	// A network failure is returned rather than swallowed.
	ScrapeEvents(ctx context.Context) ([]RawEvent, error)
}

// GoldenScraper extends Scraper with the ability to pull and write golden test data.
type GoldenScraper interface {
	Scraper
	PullGolden(ctx context.Context, goldenDir string) error
	MountGolden(ctx context.Context, goldenDir string) (http.Handler, error)
}
