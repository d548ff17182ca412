// Package enrichment fills in descriptions and posters for single shows on demand.
package enrichment

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/metrics"
	"github.com/drewfead/rzn-watcher/internal/poster"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// MinDescriptionRunes is the shortest description worth keeping as is.
	MinDescriptionRunes = 80
	// MaxDescriptionRunes caps extracted descriptions.
	MaxDescriptionRunes = 3000

	defaultCacheSize = 512
	defaultCacheTTL  = 30 * time.Minute
)

// Hosts is a set of site hosts, matched with or without a leading "www.".
type Hosts []string

// DefaultHosts are the theatre sites whose pages can be enriched from.
var DefaultHosts = Hosts{
	"rzn-tdm.ru",
	"rzntdm.core.ubsystem.ru",
	"romust.ru",
	"rznpuppet.ru",
	"rzndrama.ru",
}

// Supports reports whether rawURL points at one of the hosts.
func (h Hosts) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return slices.Contains(h, host)
}

// listingPaths are playbill pages shared by every show of a theatre. Scraped from a show, they
// would give it the description and poster of the whole listing.
var listingPaths = []string{
	"",
	"/ru/repertuar-na-mesyac.html",
	"/afisha",
	"/playbill",
}

// Linked reports whether any session link points at a supported host.
func (h Hosts) Linked(show internal.Show) bool {
	return slices.ContainsFunc(show.BuyURLs(), h.Supports)
}

// DetailURL returns the first session link that points at a page of its own on a supported
// host. Theatre home pages and monthly playbills do not count.
func (h Hosts) DetailURL(show internal.Show) (string, bool) {
	for _, raw := range show.BuyURLs() {
		if !h.Supports(raw) {
			continue
		}
		if u, err := url.Parse(raw); err == nil && !isListing(u) {
			return raw, true
		}
	}
	return "", false
}

func isListing(u *url.URL) bool {
	return slices.Contains(listingPaths, strings.ToLower(strings.TrimRight(u.Path, "/")))
}

// Thin reports whether a show lacks a usable description or any image.
func Thin(show internal.Show) bool {
	return len(show.Images) == 0 || show.Description == nil ||
		utf8.RuneCountInString(*show.Description) < MinDescriptionRunes
}

// Enrich runs providers in order until the show is no longer thin. Provider errors are logged
// and never returned.
func Enrich(ctx context.Context, show internal.Show, providers ...internal.EnrichmentProvider) internal.Show {
	show, _ = enrich(ctx, show, providers)
	return show
}

// enrich is Enrich that also reports whether any provider answered without an error.
func enrich(ctx context.Context, show internal.Show, providers []internal.EnrichmentProvider) (internal.Show, bool) {
	answered := len(providers) == 0
	for _, provider := range providers {
		if !Thin(show) {
			break
		}
		before := show
		enriched, err := provider.Enrich(ctx, show)
		outcome := "empty"
		switch {
		case err != nil:
			outcome = "error"
		case changed(before, enriched):
			outcome = "enriched"
			show = enriched
		}
		if err == nil {
			answered = true
		}
		metrics.RecordEnrichment(provider.Descriptor(), outcome)
		slog.Debug("enrichment: provider finished",
			"show_id", show.ID,
			"provider", provider.Descriptor(),
			"outcome", outcome,
			"error", err,
		)
	}
	return show, answered
}

func changed(a, b internal.Show) bool {
	return !slices.Equal(a.Images, b.Images) || description(a) != description(b)
}

func description(s internal.Show) string {
	if s.Description == nil {
		return ""
	}
	return *s.Description
}

// mergeDescription replaces the description only with a longer one.
func mergeDescription(show internal.Show, desc string) internal.Show {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > utf8.RuneCountInString(description(show)) {
		show.Description = &desc
	}
	return show
}

// mergePoster makes img the show's first image. A show without images, or whose first image
// is denylisted, keeps only img.
func mergePoster(show internal.Show, img string) internal.Show {
	if img == "" || poster.Denied(img) {
		return show
	}
	if len(show.Images) == 0 || poster.Denied(show.Images[0]) {
		show.Images = []string{img}
		return show
	}
	images := []string{img}
	for _, existing := range show.Images {
		if !slices.Contains(images, existing) {
			images = append(images, existing)
		}
	}
	show.Images = images
	return show
}

// finalize drops denylisted images and upgrades http links on hosts to https.
func finalize(show internal.Show, hosts Hosts) internal.Show {
	images := make([]string, 0, len(show.Images))
	for _, img := range show.Images {
		if poster.Denied(img) {
			continue
		}
		if strings.HasPrefix(img, "http://") && hosts.Supports(img) {
			img = "https://" + strings.TrimPrefix(img, "http://")
		}
		if !slices.Contains(images, img) {
			images = append(images, img)
		}
	}
	show.Images = images
	return show
}

// Enricher enriches thin shows whose sessions link to a supported site, remembering the result
// per show id for a while.
type Enricher struct {
	hosts     Hosts
	providers []internal.EnrichmentProvider
	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, detail]
}

// detail is what enrichment contributed to a show.
type detail struct {
	description *string
	images      []string
}

type EnricherOption func(*Enricher)

// WithHosts replaces the hosts a show must link to for enrichment to apply.
func WithHosts(hosts ...string) EnricherOption {
	return func(e *Enricher) {
		e.hosts = hosts
	}
}

// WithProviders sets the providers, tried in order.
func WithProviders(providers ...internal.EnrichmentProvider) EnricherOption {
	return func(e *Enricher) {
		e.providers = providers
	}
}

// WithCache sizes the per-show result cache. Non-positive values keep the defaults.
func WithCache(size int, ttl time.Duration) EnricherOption {
	return func(e *Enricher) {
		if size > 0 {
			e.cacheSize = size
		}
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// NewEnricher returns an Enricher. Without WithProviders it uses Ubsystem then DetailPage.
func NewEnricher(opts ...EnricherOption) *Enricher {
	e := &Enricher{
		hosts:     DefaultHosts,
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.providers == nil {
		e.providers = []internal.EnrichmentProvider{Ubsystem(), DetailPage(WithPageHosts(e.hosts))}
	}
	e.cache = expirable.NewLRU[string, detail](e.cacheSize, nil, e.cacheTTL)
	return e
}

// Applies reports whether show is thin and links to a supported site.
func (e *Enricher) Applies(show internal.Show) bool {
	return Thin(show) && e.hosts.Linked(show)
}

// Enrich returns show with whatever description and poster the providers could find. It never
// fails; the input is returned when nothing applies or everything fails.
func (e *Enricher) Enrich(ctx context.Context, show internal.Show) internal.Show {
	if !e.Applies(show) {
		return show
	}
	if d, ok := e.cache.Get(show.ID); ok {
		metrics.RecordCacheLookup("enrichment", true)
		show.Description = d.description
		show.Images = slices.Clone(d.images)
		return show
	}
	metrics.RecordCacheLookup("enrichment", false)

	show, answered := enrich(ctx, show, e.providers)
	show = finalize(show, e.hosts)
	if answered && ctx.Err() == nil {
		e.cache.Add(show.ID, detail{description: show.Description, images: slices.Clone(show.Images)})
	}
	return show
}
