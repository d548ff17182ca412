package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerSettings configures CircuitBreaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker. Zero means 3.
	ConsecutiveFailures uint32
	// OpenFor is how long an open breaker rejects scrapes before letting one through. Zero means 10 minutes.
	OpenFor time.Duration
}

// CircuitBreaker returns middleware that stops calling a source after repeated failures. While
// open, scrapes fail immediately with gobreaker.ErrOpenState.
func CircuitBreaker(settings BreakerSettings) ScraperMiddleware {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 3
	}
	if settings.OpenFor <= 0 {
		settings.OpenFor = 10 * time.Minute
	}
	return func(inner internal.Scraper) internal.Scraper {
		if inner == nil {
			return nil
		}
		name := inner.Descriptor()
		metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
		cb := gobreaker.NewCircuitBreaker[[]internal.RawEvent](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     settings.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				// Cancellation says nothing about the source's health.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("breaker: state change", "descriptor", name, "from", from.String(), "to", to.String())
				metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			},
		})
		return &breakerScraper{inner: inner, cb: cb}
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type breakerScraper struct {
	inner internal.Scraper
	cb    *gobreaker.CircuitBreaker[[]internal.RawEvent]
}

func (s *breakerScraper) Descriptor() string {
	return s.inner.Descriptor()
}

func (s *breakerScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	events, err := s.cb.Execute(func() ([]internal.RawEvent, error) {
		return s.inner.ScrapeEvents(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.ScrapeErrors.WithLabelValues(s.Descriptor(), "breaker_open").Inc()
	}
	return events, err
}
