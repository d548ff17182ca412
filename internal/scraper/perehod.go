package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/textutil"
)

const (
	defaultPerehodBaseURL = "https://teatrperehod.ru"
	perehodTheatre        = `Театр "Переход" им. Г. Кириллова`
	perehodGoldenFile     = "index.html"
	perehodBlockMarker    = "ближайшие спектакли"
	perehodMaxLines       = 200
)

type perehodScraper struct {
	source
}

// Perehod scrapes the "Ближайшие спектакли" block on the home page of the Perehod theatre,
// where each session is a "25.12 (чт.) в 18:00" line followed by the title line.
func Perehod(opts ...Option) internal.GoldenScraper {
	return &perehodScraper{source: newSource(defaultPerehodBaseURL, opts)}
}

func (s *perehodScraper) Descriptor() string {
	return PerehodDescriptor
}

func (s *perehodScraper) pageURL() string {
	return s.baseURL + "/"
}

var perehodDateRE = regexp.MustCompile(`(\d{1,2})\.(\d{1,2}).*?(\d{1,2}):(\d{2})`)

func (s *perehodScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return nil, err
	}
	page, _ := httputil.DecodeHTML(resp.Body, resp.ContentType, httputil.HasCyrillic)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse home page: %w", err)
	}
	events, found := s.parse(doc.Find("body").Text())
	if !found {
		slog.Warn("perehod: upcoming shows block not found", "url", s.pageURL())
	}
	slog.Debug("perehod: parsed events", "count", len(events))
	return events, nil
}

type perehodDate struct {
	day, month, hour, minute int
}

func parsePerehodDate(line string) (perehodDate, bool) {
	m := perehodDateRE.FindStringSubmatch(line)
	if m == nil {
		return perehodDate{}, false
	}
	var d perehodDate
	d.day, _ = strconv.Atoi(m[1])
	d.month, _ = strconv.Atoi(m[2])
	d.hour, _ = strconv.Atoi(m[3])
	d.minute, _ = strconv.Atoi(m[4])
	if d.day < 1 || d.day > 31 || d.month < 1 || d.month > 12 {
		return perehodDate{}, false
	}
	return d, true
}

// parse scans body text line by line. found is false when the upcoming block is missing.
func (s *perehodScraper) parse(bodyText string) (events []internal.RawEvent, found bool) {
	var lines []string
	for line := range strings.SplitSeq(bodyText, "\n") {
		if line = textutil.CollapseSpaces(line); line != "" {
			lines = append(lines, line)
		}
	}
	start := -1
	for i, l := range lines {
		if strings.Contains(strings.ToLower(l), perehodBlockMarker) {
			start = i
			break
		}
	}
	if start < 0 {
		return []internal.RawEvent{}, false
	}

	today := s.today()
	year := today.Year()
	sawDecember, rolled := false, false
	for i := start; i < min(len(lines), start+perehodMaxLines); i++ {
		d, ok := parsePerehodDate(lines[i])
		if !ok {
			continue
		}
		month := time.Month(d.month)
		if month == time.December {
			sawDecember = true
		}
		if month == time.January && !rolled && (sawDecember || today.Month() == time.December) {
			year++
			rolled = true
		}
		if i+1 >= len(lines) {
			continue
		}
		next := lines[i+1]
		if _, isDate := parsePerehodDate(next); isDate {
			continue
		}
		title := textutil.CleanTitle(next)
		if title == "" {
			continue
		}
		date, ok := internal.ValidDate(year, month, d.day, d.hour, d.minute)
		if !ok {
			continue
		}
		events = append(events, internal.RawEvent{
			ID:      date.String() + "-" + textutil.Slug(title),
			Title:   title,
			Theatre: perehodTheatre,
			Date:    date,
			Genre:   DefaultGenre,
			Images:  []string{},
			URL:     s.pageURL(),
		})
	}
	return finalize(PerehodDescriptor, events), true
}

// PullGolden saves the home page.
func (s *perehodScraper) PullGolden(ctx context.Context, goldenDir string) error {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return fmt.Errorf("failed to fetch golden data: %w", err)
	}
	return writeGoldenFiles(goldenDir, map[string][]byte{perehodGoldenFile: resp.Body})
}

func (s *perehodScraper) MountGolden(_ context.Context, goldenDir string) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		serveGoldenFile(w, goldenDir, perehodGoldenFile, "text/html; charset=utf-8")
	}), nil
}
