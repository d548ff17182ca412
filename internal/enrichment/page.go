package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/metrics"
	"github.com/drewfead/rzn-watcher/internal/poster"
	"github.com/drewfead/rzn-watcher/internal/textutil"
)

// Selectors likely to hold a performance description, best first.
var descriptionSelectors = []string{
	".detail-text",
	".detail_text",
	".news-detail",
	".performance__description",
	".performance-description",
	".spektakl-description",
	".description",
	".entry-content",
	".content-text",
	".detail",
	"article",
}

// contentRegion is where the body of a detail page lives on the theatre sites.
const contentRegion = ".detail, .news-detail, .performance, article, main"

type pageProvider struct {
	hosts   Hosts
	fetcher httputil.Fetcher
}

type PageOption func(*pageProvider)

// WithPageHosts sets which hosts' pages may be fetched.
func WithPageHosts(hosts Hosts) PageOption {
	return func(p *pageProvider) {
		if len(hosts) > 0 {
			p.hosts = hosts
		}
	}
}

// WithPageFetcher sets the Fetcher used for detail pages.
func WithPageFetcher(f httputil.Fetcher) PageOption {
	return func(p *pageProvider) {
		if f != nil {
			p.fetcher = f
		}
	}
}

// DetailPage scrapes the show's own page on the theatre site for a description and a poster.
// By default responses are kept by a CacheTransport so repeated lookups stay local.
func DetailPage(opts ...PageOption) internal.EnrichmentProvider {
	p := &pageProvider{hosts: DefaultHosts}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = httputil.NewClient(httputil.WithHTTPClient(&http.Client{
			Transport: &httputil.CacheTransport{
				Base: http.DefaultTransport,
				OnCacheHit: func(_ string, hit bool) {
					metrics.RecordCacheLookup("detail_page", hit)
				},
			},
		}))
	}
	return p
}

func (p *pageProvider) Descriptor() string {
	return "detail_page"
}

func (p *pageProvider) Enrich(ctx context.Context, show internal.Show) (internal.Show, error) {
	pageURL, ok := p.hosts.DetailURL(show)
	if !ok {
		return show, nil
	}
	resp, err := p.fetcher.Fetch(ctx, pageURL, http.Header{"Accept": {httputil.AcceptHTML}})
	if err != nil {
		return show, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	page, _ := httputil.DecodeHTML(resp.Body, resp.ContentType, httputil.HasCyrillic)
	doc, err := parseHTML(page)
	if err != nil {
		return show, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return show, err
	}

	region := doc.Find(contentRegion).First()
	if region.Length() == 0 {
		region = doc.Find("body")
	}
	show = mergeDescription(show, pageDescription(doc, region))
	if img, ok := poster.Pick(poster.ContentCandidates(region, base), poster.MetaCandidates(doc, base)); ok {
		show = mergePoster(show, img)
	}
	return show, nil
}

// pageDescription takes the longest ranked selector text of usable length, else the paragraphs
// of the content region, else the meta description.
func pageDescription(doc *goquery.Document, region *goquery.Selection) string {
	var best string
	for _, sel := range descriptionSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			text := textutil.CollapseSpaces(s.Text())
			if utf8.RuneCountInString(text) >= MinDescriptionRunes &&
				utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
				best = text
			}
		})
	}
	if best != "" {
		return capRunes(best, MaxDescriptionRunes)
	}

	var paragraphs []string
	region.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := textutil.CollapseSpaces(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) > 0 {
		return capRunes(strings.Join(paragraphs, "\n\n"), MaxDescriptionRunes)
	}

	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`, `meta[name="og:description"]`} {
		if content := textutil.CollapseSpaces(doc.Find(sel).AttrOr("content", "")); content != "" {
			return capRunes(content, MaxDescriptionRunes)
		}
	}
	return ""
}

func parseHTML(page string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(page))
}
