package scraper

import (
	"errors"
	"fmt"
	"slices"

	"github.com/drewfead/rzn-watcher/internal"
)

type Registry interface {
	GetScraper(descriptor string) (internal.Scraper, error)
	// Scrapers returns every registered scraper in registration order.
	Scrapers() []internal.Scraper
}

type ScraperMiddleware func(internal.Scraper) internal.Scraper

type RegistryOption func(r *registry)

func NewRegistry(opts ...RegistryOption) Registry {
	r := &registry{
		scrapers: make(map[string]internal.Scraper),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithScraper registers scraper under its own descriptor, wrapped in middleware (innermost first).
// Registering a descriptor again replaces the scraper but keeps its original position.
func WithScraper(scraper internal.Scraper, middleware ...ScraperMiddleware) RegistryOption {
	return func(r *registry) {
		if scraper == nil {
			return
		}
		descriptor := scraper.Descriptor()
		for _, m := range middleware {
			scraper = m(scraper)
		}
		if _, ok := r.scrapers[descriptor]; !ok {
			r.order = append(r.order, descriptor)
		}
		r.scrapers[descriptor] = scraper
	}
}

// WithMiddleware wraps every scraper registered so far.
func WithMiddleware(middleware ...ScraperMiddleware) RegistryOption {
	return func(r *registry) {
		for _, d := range r.order {
			for _, m := range middleware {
				r.scrapers[d] = m(r.scrapers[d])
			}
		}
	}
}

type registry struct {
	order    []string
	scrapers map[string]internal.Scraper
}

var ErrScraperNotFound = errors.New("scraper not found")

func (r *registry) GetScraper(descriptor string) (internal.Scraper, error) {
	scraper, ok := r.scrapers[descriptor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScraperNotFound, descriptor)
	}
	return scraper, nil
}

func (r *registry) Scrapers() []internal.Scraper {
	out := make([]internal.Scraper, 0, len(r.order))
	for _, d := range r.order {
		out = append(out, r.scrapers[d])
	}
	return slices.Clip(out)
}
