package scraper

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
)

// DefaultGenre is used when a source does not say what kind of performance an event is.
const DefaultGenre = "спектакль"

// Source descriptors, in the order the sources are registered.
const (
	RzndramaDescriptor  = "rzndrama"
	RznpuppetDescriptor = "rznpuppet"
	RomustDescriptor    = "romust"
	PerehodDescriptor   = "perehod"
	RzntdmDescriptor    = "rzntdm"
)

var moscowTZ = loadMoscowTZ()

func loadMoscowTZ() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// source holds what every adapter needs: where to fetch, how to fetch and what time it is.
type source struct {
	baseURL string
	fetcher httputil.Fetcher
	now     func() time.Time
}

// Option applies configuration to a source adapter.
type Option func(*source)

// WithBaseURL sets the base URL for the scraper (e.g. httptest.Server.URL in tests).
func WithBaseURL(baseURL string) Option {
	return func(s *source) {
		if baseURL != "" {
			s.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithClient sets the HTTP client for the scraper (e.g. httptest.Server.Client() in tests).
// Requests still go through httputil.Client, without pacing.
func WithClient(client *http.Client) Option {
	return func(s *source) {
		if client != nil {
			s.fetcher = httputil.NewClient(
				httputil.WithHTTPClient(client),
				httputil.WithRateLimit(nil),
				httputil.WithRetry(1, 0),
			)
		}
	}
}

// WithFetcher injects the Fetcher, e.g. a shared rate-limited httputil.Client or a headless browser.
func WithFetcher(f httputil.Fetcher) Option {
	return func(s *source) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithClock sets the clock used to infer years the playbill leaves out.
func WithClock(now func() time.Time) Option {
	return func(s *source) {
		if now != nil {
			s.now = now
		}
	}
}

func newSource(defaultBaseURL string, opts []Option) source {
	s := source{
		baseURL: defaultBaseURL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.fetcher == nil {
		s.fetcher = httputil.NewClient()
	}
	return s
}

// today is the clock reading on the wall of a Ryazan theatre.
func (s source) today() time.Time {
	return s.now().In(moscowTZ)
}

func (s source) fetch(ctx context.Context, rawURL string, accept string, extra ...string) (*httputil.Response, error) {
	header := http.Header{"Accept": {accept}}
	for i := 0; i+1 < len(extra); i += 2 {
		header.Set(extra[i], extra[i+1])
	}
	resp, err := s.fetcher.Fetch(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	return resp, nil
}

// resolve returns ref as an absolute URL against the source's base URL.
func (s source) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	base, err := url.Parse(s.baseURL + "/")
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

// finalize drops duplicate ids (the later event wins, at the earlier position) and sorts by date.
func finalize(descriptor string, events []internal.RawEvent) []internal.RawEvent {
	index := make(map[string]int, len(events))
	out := make([]internal.RawEvent, 0, len(events))
	for _, ev := range events {
		if ev.Images == nil {
			ev.Images = []string{}
		}
		if i, ok := index[ev.ID]; ok {
			out[i] = ev
			continue
		}
		index[ev.ID] = len(out)
		out = append(out, ev)
	}
	slices.SortStableFunc(out, func(a, b internal.RawEvent) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.ID, b.ID))
	})
	if dropped := len(events) - len(out); dropped > 0 {
		slog.Debug(descriptor+": dropped duplicate events", "count", dropped)
	}
	return out
}

// Theatres returns one adapter per supported theatre, in registration order, sharing opts.
// WithBaseURL is meant for single adapters and should not be passed here.
func Theatres(opts ...Option) []internal.GoldenScraper {
	return []internal.GoldenScraper{
		Rzndrama(opts...),
		Rznpuppet(opts...),
		Romust(opts...),
		Perehod(opts...),
		Rzntdm(opts...),
	}
}
