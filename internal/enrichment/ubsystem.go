package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/jsonprobe"
	"github.com/drewfead/rzn-watcher/internal/poster"
	"github.com/drewfead/rzn-watcher/internal/textutil"
)

const (
	defaultUbsystemBaseURL = "https://rzntdm.core.ubsystem.ru"
	ubsystemReferer        = "https://www.rzn-tdm.ru/"
)

// Endpoint shapes that may describe a performance, tried in order.
var ubsystemShapes = []string{
	"/uiapi/performance/%s",
	"/uiapi/performances/%s",
	"/uiapi/repertoire/%s",
}

var (
	ubsystemObjectKeys      = []string{"data", "result", "item"}
	ubsystemDescriptionKeys = []string{"description", "desc", "annotation", "about", "text", "content", "performance.description", "performanceInfo.description"}
	ubsystemImageKeys       = []string{"image", "poster", "picture", "cover", "img", "performance.image", "performance.poster", "performanceInfo.image", "performanceInfo.poster"}
)

type ubsystemProvider struct {
	baseURL string
	fetcher httputil.Fetcher
}

type UbsystemOption func(*ubsystemProvider)

// WithUbsystemBaseURL points the provider at another API host (e.g. an httptest.Server).
func WithUbsystemBaseURL(baseURL string) UbsystemOption {
	return func(p *ubsystemProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithUbsystemFetcher sets the Fetcher used for API calls.
func WithUbsystemFetcher(f httputil.Fetcher) UbsystemOption {
	return func(p *ubsystemProvider) {
		if f != nil {
			p.fetcher = f
		}
	}
}

// Ubsystem reads a performance's description and image from the ticketing API behind
// rzn-tdm.ru. Shows without a performance id are left alone.
func Ubsystem(opts ...UbsystemOption) internal.EnrichmentProvider {
	p := &ubsystemProvider{baseURL: defaultUbsystemBaseURL}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = httputil.NewClient()
	}
	return p
}

func (p *ubsystemProvider) Descriptor() string {
	return "ubsystem"
}

func (p *ubsystemProvider) Enrich(ctx context.Context, show internal.Show) (internal.Show, error) {
	if show.PerformanceID == nil || *show.PerformanceID == "" {
		return show, nil
	}
	id := url.PathEscape(*show.PerformanceID)
	var errs []error
	for _, shape := range ubsystemShapes {
		endpoint := p.baseURL + fmt.Sprintf(shape, id)
		desc, img, err := p.performance(ctx, endpoint)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if desc == "" && img == "" {
			continue
		}
		return mergePoster(mergeDescription(show, desc), img), nil
	}
	return show, errors.Join(errs...)
}

func (p *ubsystemProvider) performance(ctx context.Context, endpoint string) (desc, img string, err error) {
	resp, err := p.fetcher.Fetch(ctx, endpoint, http.Header{
		"Accept":  {httputil.AcceptJSON},
		"Referer": {ubsystemReferer},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	payload, err := jsonprobe.Decode(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", endpoint, err)
	}
	obj, ok := jsonprobe.FindObject(payload, ubsystemObjectKeys...)
	if !ok {
		return "", "", nil
	}
	desc = plainText(jsonprobe.String(obj, ubsystemDescriptionKeys...))
	if raw := jsonprobe.String(obj, ubsystemImageKeys...); raw != "" {
		base, _ := url.Parse(p.baseURL + "/")
		img = poster.Resolve(base, raw)
	}
	return desc, img, nil
}

// plainText strips markup from an HTML fragment and caps its length.
func plainText(fragment string) string {
	if fragment == "" {
		return ""
	}
	text := fragment
	if strings.Contains(fragment, "<") {
		if doc, err := parseHTML(fragment); err == nil {
			text = doc.Text()
		}
	}
	return capRunes(textutil.CollapseSpaces(text), MaxDescriptionRunes)
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
