package scraper

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/textutil"
)

const (
	defaultRzndramaBaseURL = "https://www.rzndrama.ru"
	rzndramaPath           = "/ru/repertuar-na-mesyac.html"
	rzndramaTheatre        = "Рязанский театр драмы"
	rzndramaGoldenFile     = "repertuar-na-mesyac.html"
)

type rzndramaScraper struct {
	source
}

// Rzndrama scrapes the monthly repertoire of the Ryazan drama theatre. The page is served in
// windows-1251 without always saying so.
func Rzndrama(opts ...Option) internal.GoldenScraper {
	return &rzndramaScraper{source: newSource(defaultRzndramaBaseURL, opts)}
}

func (s *rzndramaScraper) Descriptor() string {
	return RzndramaDescriptor
}

func (s *rzndramaScraper) pageURL() string {
	return s.baseURL + rzndramaPath
}

func (s *rzndramaScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return nil, err
	}
	page, ok := httputil.DecodeHTML(resp.Body, resp.ContentType, rzndramaMarkers)
	if !ok {
		slog.Warn("rzndrama: page does not look like a repertoire", "url", s.pageURL(), "bytes", len(resp.Body))
		return []internal.RawEvent{}, nil
	}
	events := s.parse(flattenHTML(page))
	slog.Debug("rzndrama: parsed events", "count", len(events))
	return events, nil
}

var (
	rzndramaEventRE    = regexp.MustCompile(`(\d{1,2})\s*([А-ЯЁа-яё]+),?\s*(\d{1,2}):(\d{2})\s*[-–—]\s*([^\n\r]+)`)
	rzndramaScheduleRE = regexp.MustCompile(`\d{1,2}\s+[А-ЯЁа-яё]+,?\s+\d{1,2}:\d{2}`)
	rzndramaHeaderRE   = regexp.MustCompile(`Календарь[\s\S]{0,100}?[А-ЯЁа-яё]+\s+(\d{4})`)
)

func rzndramaMarkers(text string) bool {
	return strings.Contains(text, "Календарь") || rzndramaScheduleRE.MatchString(text)
}

func (s *rzndramaScraper) parse(text string) []internal.RawEvent {
	year := s.today().Year()
	if m := rzndramaHeaderRE.FindStringSubmatch(text); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			year = y
		}
	}

	var events []internal.RawEvent
	for _, m := range rzndramaEventRE.FindAllStringSubmatch(text, -1) {
		month, ok := textutil.MonthGenitive(m[2])
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		hour, _ := strconv.Atoi(m[3])
		minute, _ := strconv.Atoi(m[4])
		date, ok := internal.ValidDate(year, month, day, hour, minute)
		if !ok {
			continue
		}
		title, _, _ := strings.Cut(textutil.CollapseSpaces(m[5]), "(")
		title = strings.TrimSpace(textutil.StripQuotes(title))
		if title == "" {
			continue
		}
		events = append(events, internal.RawEvent{
			ID:      fmt.Sprintf("%s-%02d:%02d-%s", date.Format("2006-01-02"), hour, minute, textutil.Slug(title)),
			Title:   title,
			Theatre: rzndramaTheatre,
			Date:    date,
			Genre:   DefaultGenre,
			Images:  []string{},
			URL:     s.pageURL(),
		})
	}
	return finalize(RzndramaDescriptor, events)
}

var (
	nbspEntityRE  = regexp.MustCompile(`(?i)&nbsp;|&#160;|&#xA0;|&#8239;|&#x202F;`)
	scriptRE      = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleRE       = regexp.MustCompile(`(?is)<style.*?</style>`)
	brRE          = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseRE  = regexp.MustCompile(`(?i)</(p|div|li|tr|td|th|h[1-6])>`)
	tagRE         = regexp.MustCompile(`<[^>]+>`)
	inlineSpaceRE = regexp.MustCompile(`[ \t\r\f\v\x{00A0}\x{202F}]+`)
	blankLinesRE  = regexp.MustCompile(`\n{3,}`)
)

// flattenHTML turns a page into plain text, keeping one line per block element.
func flattenHTML(page string) string {
	s := nbspEntityRE.ReplaceAllString(page, " ")
	s = scriptRE.ReplaceAllString(s, "")
	s = styleRE.ReplaceAllString(s, "")
	s = brRE.ReplaceAllString(s, "\n")
	s = blockCloseRE.ReplaceAllString(s, "\n")
	s = tagRE.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = inlineSpaceRE.ReplaceAllString(s, " ")
	s = blankLinesRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PullGolden saves the repertoire page exactly as served.
func (s *rzndramaScraper) PullGolden(ctx context.Context, goldenDir string) error {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return fmt.Errorf("failed to fetch golden data: %w", err)
	}
	return writeGoldenFiles(goldenDir, map[string][]byte{rzndramaGoldenFile: resp.Body})
}

// MountGolden serves the saved page without a charset, as the live site does.
func (s *rzndramaScraper) MountGolden(_ context.Context, goldenDir string) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != rzndramaPath {
			http.NotFound(w, r)
			return
		}
		serveGoldenFile(w, goldenDir, rzndramaGoldenFile, "text/html")
	}), nil
}
