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

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/jsonprobe"
	"github.com/drewfead/rzn-watcher/internal/textutil"
)

const (
	defaultRzntdmBaseURL = "https://rzntdm.core.ubsystem.ru"
	// RzntdmSiteURL is the public site of the theatre; the event API expects it as Referer.
	RzntdmSiteURL  = "https://www.rzn-tdm.ru/"
	rzntdmTheatre  = "Театр на Соборной (ТЮЗ)"
	rzntdmMonths   = 2
	rzntdmIDPrefix = "tdm-"
)

// Ordered key paths probed on each event object.
var (
	rzntdmArrayKeys  = []string{"events", "items", "data", "result", "list"}
	rzntdmTitleKeys  = []string{"title", "name", "eventName", "caption", "performance.title", "performance.name", "performance.caption", "performanceInfo.title", "performanceInfo.name", "performanceInfo.caption", "performanceInfo.performance_name", "performanceInfo.performanceTitle"}
	rzntdmIDKeys     = []string{"id", "eventId", "uid", "guid"}
	rzntdmDateKeys   = []string{"date_start", "date", "dateTime", "datetime", "start", "startAt", "startDateTime"}
	rzntdmYearKeys   = []string{"year", "y"}
	rzntdmMonthKeys  = []string{"month", "m"}
	rzntdmDayKeys    = []string{"day", "d"}
	rzntdmTimeKeys   = []string{"time", "startTime", "beginTime"}
	rzntdmDayStrKeys = []string{"dateStr", "startDate"}
	rzntdmPerfKeys   = []string{"performanceId", "performance_id", "performance.id", "performanceInfo.id", "performanceInfo.performance_id"}
	rzntdmImageKeys  = []string{"image", "img", "poster", "picture", "cover", "performance.image", "performance.poster", "performanceInfo.image", "performanceInfo.poster", "performanceInfo.picture"}
	rzntdmBuyKeys    = []string{"buyUrl", "buy_url", "ticketUrl", "ticket_url", "saleUrl"}
	rzntdmGenreKeys  = []string{"genre", "genreName", "category", "performance.genre", "performanceInfo.genre"}
)

type rzntdmScraper struct {
	source
}

// Rzntdm reads the JSON event calendar behind the Teatr na Sobornoy site, for the current and
// the following month.
func Rzntdm(opts ...Option) internal.GoldenScraper {
	return &rzntdmScraper{source: newSource(defaultRzntdmBaseURL, opts)}
}

func (s *rzntdmScraper) Descriptor() string {
	return RzntdmDescriptor
}

func (s *rzntdmScraper) eventsURL(year int, month time.Month) string {
	return fmt.Sprintf("%s/uiapi/events/%d/%02d", s.baseURL, year, int(month))
}

// months returns the first day of each month to fetch, starting with the current one.
func (s *rzntdmScraper) months() []time.Time {
	today := s.today()
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, moscowTZ)
	out := make([]time.Time, rzntdmMonths)
	for i := range out {
		out[i] = first.AddDate(0, i, 0)
	}
	return out
}

func (s *rzntdmScraper) fetchMonth(ctx context.Context, month time.Time) ([]byte, error) {
	resp, err := s.fetch(ctx, s.eventsURL(month.Year(), month.Month()), httputil.AcceptJSON, "Referer", RzntdmSiteURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *rzntdmScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	var events []internal.RawEvent
	for i, month := range s.months() {
		body, err := s.fetchMonth(ctx, month)
		if err == nil {
			var parsed []internal.RawEvent
			parsed, err = s.parseMonth(body, month)
			events = append(events, parsed...)
		}
		if err != nil {
			if i == 0 {
				return nil, err
			}
			slog.Warn("rzntdm: skipping month", "month", month.Format("2006-01"), "error", err)
		}
	}
	events = finalize(RzntdmDescriptor, events)
	slog.Debug("rzntdm: parsed events", "count", len(events))
	return events, nil
}

func (s *rzntdmScraper) parseMonth(body []byte, month time.Time) ([]internal.RawEvent, error) {
	payload, err := jsonprobe.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode events for %s: %w", month.Format("2006-01"), err)
	}
	items, ok := jsonprobe.FindArray(payload, rzntdmArrayKeys...)
	if !ok {
		slog.Warn("rzntdm: no event array in payload", "month", month.Format("2006-01"))
		return nil, nil
	}
	var events []internal.RawEvent
	for _, item := range items {
		obj, ok := item.(jsonprobe.Object)
		if !ok {
			continue
		}
		if ev, ok := s.parseEvent(obj, month.Year(), month.Month()); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (s *rzntdmScraper) parseEvent(obj jsonprobe.Object, year int, month time.Month) (internal.RawEvent, bool) {
	title := textutil.CleanTitle(jsonprobe.String(obj, rzntdmTitleKeys...))
	if title == "" {
		return internal.RawEvent{}, false
	}
	date, ok := probeEventDate(obj, year, month)
	if !ok {
		return internal.RawEvent{}, false
	}
	id := jsonprobe.String(obj, rzntdmIDKeys...)
	if id == "" {
		id = date.String() + "-" + textutil.Slug(title)
	}
	ev := internal.RawEvent{
		ID:            rzntdmIDPrefix + id,
		Title:         title,
		Theatre:       rzntdmTheatre,
		Date:          date,
		Genre:         DefaultGenre,
		Images:        []string{},
		URL:           RzntdmSiteURL,
		PerformanceID: jsonprobe.String(obj, rzntdmPerfKeys...),
	}
	if genre := jsonprobe.String(obj, rzntdmGenreKeys...); genre != "" {
		ev.Genre = strings.ToLower(genre)
	}
	if img := s.resolve(jsonprobe.String(obj, rzntdmImageKeys...)); img != "" {
		ev.Images = append(ev.Images, img)
	}
	if buy := jsonprobe.String(obj, rzntdmBuyKeys...); buy != "" {
		ev.BuyURL = resolveAgainst(RzntdmSiteURL, buy)
	}
	return ev, true
}

var (
	offsetLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05 -0700",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	}
	dateOnlyRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockRE    = regexp.MustCompile(`^(\d{1,2}):(\d{2})`)
)

// probeEventDate tries, in order: a full date-time value, split year/month/day/time fields
// (defaulting year and month to the requested month), and a date-only dateStr/startDate.
func probeEventDate(obj jsonprobe.Object, year int, month time.Month) (internal.DateTime, bool) {
	hour, minute := probeClock(obj)
	if raw, ok := jsonprobe.First(obj, rzntdmDateKeys...); ok {
		if d, ok := parseDateValue(raw); ok {
			if s, _ := jsonprobe.Scalar(raw); dateOnlyRE.MatchString(s) {
				// A bare date may come with a separate start time.
				return internal.ValidDate(d.Year(), d.Month(), d.Day(), hour, minute)
			}
			return d, true
		}
	}

	if day, ok := jsonprobe.Int(obj, rzntdmDayKeys...); ok {
		y, m := year, int(month)
		if v, ok := jsonprobe.Int(obj, rzntdmYearKeys...); ok && v > 0 {
			y = v
		}
		if v, ok := jsonprobe.Int(obj, rzntdmMonthKeys...); ok && v > 0 {
			m = v
		}
		if d, ok := internal.ValidDate(y, time.Month(m), day, hour, minute); ok {
			return d, true
		}
	}

	if s := jsonprobe.String(obj, rzntdmDayStrKeys...); dateOnlyRE.MatchString(s) {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return internal.ValidDate(t.Year(), t.Month(), t.Day(), hour, minute)
		}
	}
	return internal.DateTime{}, false
}

func probeClock(obj jsonprobe.Object) (hour, minute int) {
	m := clockRE.FindStringSubmatch(jsonprobe.String(obj, rzntdmTimeKeys...))
	if m == nil {
		return 0, 0
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	if h > 23 || mi > 59 {
		return 0, 0
	}
	return h, mi
}

// parseDateValue reads a date-time string or a unix timestamp. Readings with an offset are
// converted to Moscow wall clock time; naive readings are taken as printed.
func parseDateValue(raw any) (internal.DateTime, bool) {
	s, ok := jsonprobe.Scalar(raw)
	if !ok {
		return internal.DateTime{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 1e9 {
		var t time.Time
		if n > 1e12 {
			t = time.UnixMilli(n)
		} else {
			t = time.Unix(n, 0)
		}
		return wallClock(t.In(moscowTZ)), true
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return wallClock(t.In(moscowTZ)), true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return wallClock(t), true
		}
	}
	if dateOnlyRE.MatchString(s) {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return wallClock(t), true
		}
	}
	return internal.DateTime{}, false
}

func wallClock(t time.Time) internal.DateTime {
	return internal.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute())
}

func resolveAgainst(base, ref string) string {
	return (source{baseURL: strings.TrimRight(base, "/")}).resolve(ref)
}

// PullGolden saves both months the scraper would request now.
func (s *rzntdmScraper) PullGolden(ctx context.Context, goldenDir string) error {
	files := make(map[string][]byte, rzntdmMonths)
	for _, month := range s.months() {
		body, err := s.fetchMonth(ctx, month)
		if err != nil {
			return fmt.Errorf("failed to fetch golden data: %w", err)
		}
		files[rzntdmGoldenFile(month.Year(), int(month.Month()))] = body
	}
	return writeGoldenFiles(goldenDir, files)
}

var rzntdmEventsPathRE = regexp.MustCompile(`^/uiapi/events/(\d{4})/(\d{2})$`)

func (s *rzntdmScraper) MountGolden(_ context.Context, goldenDir string) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := rzntdmEventsPathRE.FindStringSubmatch(r.URL.Path)
		if m == nil {
			http.NotFound(w, r)
			return
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		serveGoldenFile(w, goldenDir, rzntdmGoldenFile(year, month), "application/json")
	}), nil
}

func rzntdmGoldenFile(year, month int) string {
	return fmt.Sprintf("events-%d-%02d.json", year, month)
}
