package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/poster"
	"github.com/drewfead/rzn-watcher/internal/textutil"
	"github.com/sourcegraph/conc/pool"
)

const (
	defaultRomustBaseURL = "https://romust.ru"
	romustPath           = "/afisha/"
	romustDetailPrefix   = "/repertuar/detail/"
	romustTheatre        = "Рязанский музыкальный театр"
	romustGoldenFile     = "afisha.html"

	// romustMaxCardText skips ancestors that have grown into whole page sections.
	romustMaxCardText = 900
	// romustPosterWorkers bounds concurrent detail page fetches.
	romustPosterWorkers = 4
)

var (
	romustDateRE  = regexp.MustCompile(`(\d{1,2})\s+(` + textutil.GenitiveMonthPattern + `)\s+(\d{4})\s+в\s+(\d{1,2}):(\d{2})`)
	romustGenreRE = regexp.MustCompile(`(?i)(Мюзикл|Музыкальная комедия|Оперетта|Опера|Детские спектакли|Концертная программа|Творческая встреча|У нас в гостях|Мы в гостях)\s*\d+\+`)
	romustJunk    = map[string]bool{"афиша": true, "купить билет": true}
)

type romustScraper struct {
	source
}

// Romust scrapes the afisha of the Ryazan musical theatre and then visits each show's detail
// page for a poster.
func Romust(opts ...Option) internal.GoldenScraper {
	return &romustScraper{source: newSource(defaultRomustBaseURL, opts)}
}

func (s *romustScraper) Descriptor() string {
	return RomustDescriptor
}

func (s *romustScraper) pageURL() string {
	return s.baseURL + romustPath
}

func (s *romustScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return nil, err
	}
	doc, err := htmlDocument(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse afisha: %w", err)
	}
	events := s.parse(doc)
	s.attachPosters(ctx, events)
	slog.Debug("romust: parsed events", "count", len(events))
	return events, nil
}

func htmlDocument(resp *httputil.Response) (*goquery.Document, error) {
	page, _ := httputil.DecodeHTML(resp.Body, resp.ContentType, httputil.HasCyrillic)
	return goquery.NewDocumentFromReader(strings.NewReader(page))
}

func (s *romustScraper) parse(doc *goquery.Document) []internal.RawEvent {
	var events []internal.RawEvent
	doc.Find(`a[href^="` + romustDetailPrefix + `"]`).Each(func(_ int, a *goquery.Selection) {
		title := textutil.CollapseSpaces(a.Text())
		if len([]rune(title)) < 2 || romustJunk[strings.ToLower(title)] {
			return
		}
		text := romustCardText(a)
		if text == "" || !strings.Contains(text, title) {
			return
		}
		m := romustDateRE.FindStringSubmatch(strings.ToLower(text))
		if m == nil {
			return
		}
		month, ok := textutil.MonthGenitive(m[2])
		if !ok {
			return
		}
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		date, ok := internal.ValidDate(year, month, day, hour, minute)
		if !ok {
			return
		}
		clean := textutil.CleanTitle(title)
		events = append(events, internal.RawEvent{
			ID:      "romust-" + date.String() + "-" + textutil.Slug(clean),
			Title:   clean,
			Theatre: romustTheatre,
			Date:    date,
			Genre:   romustGenre(text),
			Images:  []string{},
			URL:     s.resolve(a.AttrOr("href", "")),
		})
	})
	return finalize(RomustDescriptor, events)
}

// romustCardText climbs from a title anchor to the nearest ancestor of reasonable size that
// carries a full "24 декабря 2025 в 14:00" date.
func romustCardText(a *goquery.Selection) string {
	node := a
	for range maxCardClimb {
		node = node.Parent()
		if node.Length() == 0 {
			return ""
		}
		t := textutil.CollapseSpaces(node.Text())
		if t == "" || len([]rune(t)) > romustMaxCardText {
			continue
		}
		if romustDateRE.MatchString(strings.ToLower(t)) {
			return t
		}
	}
	return ""
}

func romustGenre(text string) string {
	if m := romustGenreRE.FindStringSubmatch(text); m != nil {
		return strings.ToLower(textutil.CollapseSpaces(m[1]))
	}
	return DefaultGenre
}

// attachPosters fetches each distinct detail page once, four at a time, and gives its best
// poster to every event linking there. A failed page leaves its events without a poster.
func (s *romustScraper) attachPosters(ctx context.Context, events []internal.RawEvent) {
	byURL := map[string][]int{}
	var urls []string
	for i, ev := range events {
		if ev.URL == "" {
			continue
		}
		if _, ok := byURL[ev.URL]; !ok {
			urls = append(urls, ev.URL)
		}
		byURL[ev.URL] = append(byURL[ev.URL], i)
	}
	if len(urls) == 0 {
		return
	}

	p := pool.NewWithResults[detailPoster]().WithMaxGoroutines(romustPosterWorkers)
	for _, u := range urls {
		p.Go(func() detailPoster {
			img, err := s.detailPoster(ctx, u)
			if err != nil {
				slog.Debug("romust: detail page failed", "url", u, "error", err)
			}
			return detailPoster{url: u, image: img}
		})
	}
	for _, res := range p.Wait() {
		if res.image == "" {
			continue
		}
		for _, i := range byURL[res.url] {
			events[i].Images = append(events[i].Images, res.image)
		}
	}
}

type detailPoster struct {
	url   string
	image string
}

func (s *romustScraper) detailPoster(ctx context.Context, pageURL string) (string, error) {
	resp, err := s.fetch(ctx, pageURL, httputil.AcceptHTML)
	if err != nil {
		return "", err
	}
	doc, err := htmlDocument(resp)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	content := doc.Find(".detail, .news-detail, .performance, article, main").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	img, _ := poster.Pick(poster.ContentCandidates(content, base), poster.MetaCandidates(doc, base))
	return img, nil
}

// PullGolden saves the afisha and every detail page it links to.
func (s *romustScraper) PullGolden(ctx context.Context, goldenDir string) error {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return fmt.Errorf("failed to fetch golden data: %w", err)
	}
	files := map[string][]byte{romustGoldenFile: resp.Body}
	doc, err := htmlDocument(resp)
	if err != nil {
		return fmt.Errorf("failed to parse golden afisha: %w", err)
	}
	for _, ev := range s.parse(doc) {
		name := romustDetailGoldenFile(ev.URL)
		if name == "" || files[name] != nil {
			continue
		}
		detail, err := s.fetch(ctx, ev.URL, httputil.AcceptHTML)
		if err != nil {
			slog.Warn("romust: skipping golden detail page", "url", ev.URL, "error", err)
			continue
		}
		files[name] = detail.Body
	}
	return writeGoldenFiles(goldenDir, files)
}

func (s *romustScraper) MountGolden(_ context.Context, goldenDir string) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == romustPath:
			serveGoldenFile(w, goldenDir, romustGoldenFile, "text/html; charset=utf-8")
		case strings.HasPrefix(r.URL.Path, romustDetailPrefix):
			serveGoldenFile(w, goldenDir, romustDetailGoldenFile(r.URL.Path), "text/html; charset=utf-8")
		default:
			http.NotFound(w, r)
		}
	}), nil
}

// romustDetailGoldenFile maps ".../repertuar/detail/<slug>/" to "detail-<slug>.html".
func romustDetailGoldenFile(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if slug == "" || slug == "." || slug == "/" || slug == "detail" {
		return ""
	}
	return "detail-" + slug + ".html"
}
