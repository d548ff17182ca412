package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/textutil"
)

const (
	defaultRznpuppetBaseURL = "https://rznpuppet.ru"
	rznpuppetPath           = "/playbill/"
	rznpuppetTheatre        = "Рязанский театр кукол"
	rznpuppetGoldenFile     = "playbill.html"

	// maxCardClimb bounds how far above a title anchor a card may start.
	maxCardClimb = 8
)

type rznpuppetScraper struct {
	source
}

// Rznpuppet scrapes the playbill of the Ryazan puppet theatre. Each h3 is a show title; the
// card around it carries "24 декабря" and "начало в 11:00".
func Rznpuppet(opts ...Option) internal.GoldenScraper {
	return &rznpuppetScraper{source: newSource(defaultRznpuppetBaseURL, opts)}
}

func (s *rznpuppetScraper) Descriptor() string {
	return RznpuppetDescriptor
}

func (s *rznpuppetScraper) pageURL() string {
	return s.baseURL + rznpuppetPath
}

var (
	dayMonthRE    = regexp.MustCompile(`(\d{1,2})\s+(` + textutil.GenitiveMonthPattern + `)`)
	puppetStartRE = regexp.MustCompile(`начало\s*(?:в\s*)?(\d{1,2}):(\d{2})`)
)

func (s *rznpuppetScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	doc, err := s.document(ctx)
	if err != nil {
		return nil, err
	}
	events := s.parse(doc)
	slog.Debug("rznpuppet: parsed events", "count", len(events), "titles", doc.Find("h3").Length())
	return events, nil
}

func (s *rznpuppetScraper) document(ctx context.Context) (*goquery.Document, error) {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return nil, err
	}
	page, _ := httputil.DecodeHTML(resp.Body, resp.ContentType, httputil.HasCyrillic)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse playbill: %w", err)
	}
	return doc, nil
}

func (s *rznpuppetScraper) parse(doc *goquery.Document) []internal.RawEvent {
	today := s.today()
	var events []internal.RawEvent
	doc.Find("h3").Each(func(_ int, h3 *goquery.Selection) {
		title := textutil.CleanTitle(h3.Text())
		// A heading right after another one is its subtitle.
		if title == "" || h3.PrevAll().Filter("h3").Length() > 0 {
			return
		}
		card, text := climbToCard(h3, "h3", func(low string) bool {
			return dayMonthRE.MatchString(low) && puppetStartRE.MatchString(low)
		})
		if card == nil {
			return
		}

		dm := dayMonthRE.FindStringSubmatch(text)
		month, ok := textutil.MonthGenitive(dm[2])
		if !ok {
			return
		}
		day, _ := strconv.Atoi(dm[1])
		hour, minute := 0, 0
		if tm := puppetStartRE.FindStringSubmatch(text); tm != nil {
			hour, _ = strconv.Atoi(tm[1])
			minute, _ = strconv.Atoi(tm[2])
		}
		date, ok := internal.ValidDate(textutil.RollYear(today, month), month, day, hour, minute)
		if !ok {
			return
		}

		ev := internal.RawEvent{
			ID:      date.String() + "-" + textutil.Slug(title),
			Title:   title,
			Theatre: rznpuppetTheatre,
			Date:    date,
			Genre:   DefaultGenre,
			Images:  []string{},
		}
		if img := firstImage(card); img != "" {
			ev.Images = append(ev.Images, s.resolve(img))
		}
		href, ok := h3.Find("a[href]").Attr("href")
		if !ok {
			href, _ = card.Find("a[href]").Attr("href")
		}
		ev.URL = s.resolve(href)
		events = append(events, ev)
	})
	return finalize(RznpuppetDescriptor, events)
}

// climbToCard walks up from anchor, at most maxCardClimb levels, to the first ancestor whose
// lowercased, whitespace-collapsed text satisfies match. The climb stops once an ancestor holds
// more elements matching siblings than anchor's own parent does: it has reached the listing and
// would borrow another card's date. Headings next to anchor, like a subtitle, do not stop it.
func climbToCard(anchor *goquery.Selection, siblings string, match func(low string) bool) (*goquery.Selection, string) {
	own := anchor.Parent().Find(siblings).Length()
	node := anchor
	for range maxCardClimb {
		node = node.Parent()
		if node.Length() == 0 || node.Find(siblings).Length() > own {
			return nil, ""
		}
		low := strings.ToLower(textutil.CollapseSpaces(node.Text()))
		if low != "" && match(low) {
			return node, low
		}
	}
	return nil, ""
}

func firstImage(sel *goquery.Selection) string {
	var src string
	sel.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, attr := range []string{"data-src", "src"} {
			if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
				src = v
				return false
			}
		}
		return true
	})
	return src
}

// PullGolden saves the playbill page.
func (s *rznpuppetScraper) PullGolden(ctx context.Context, goldenDir string) error {
	resp, err := s.fetch(ctx, s.pageURL(), httputil.AcceptHTML)
	if err != nil {
		return fmt.Errorf("failed to fetch golden data: %w", err)
	}
	return writeGoldenFiles(goldenDir, map[string][]byte{rznpuppetGoldenFile: resp.Body})
}

func (s *rznpuppetScraper) MountGolden(_ context.Context, goldenDir string) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != rznpuppetPath {
			http.NotFound(w, r)
			return
		}
		serveGoldenFile(w, goldenDir, rznpuppetGoldenFile, "text/html; charset=utf-8")
	}), nil
}
