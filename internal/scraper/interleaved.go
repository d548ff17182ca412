package scraper

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/metrics"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Interleaved runs multiple scrapers in parallel and merges their results into a single list
// ordered by date. A scraper that fails or panics contributes no events; the others are kept.
// Events with equal dates keep the order in which their scrapers were given.
func Interleaved(scrapers ...internal.Scraper) internal.Scraper {
	var flat []internal.Scraper
	for _, s := range scrapers {
		if s == nil {
			continue
		}
		if i, ok := s.(*interleavedScraper); ok {
			flat = append(flat, i.scrapers...)
		} else {
			flat = append(flat, s)
		}
	}
	if len(flat) == 0 {
		return None()
	}
	return &interleavedScraper{scrapers: flat}
}

type interleavedScraper struct {
	scrapers []internal.Scraper
}

func (s *interleavedScraper) Descriptor() string {
	parts := make([]string, 0, len(s.scrapers))
	for _, sc := range s.scrapers {
		parts = append(parts, sc.Descriptor())
	}
	return "interleaved:" + strings.Join(parts, ",")
}

// ScrapeEvents never fails: per-source errors are logged and counted instead.
func (s *interleavedScraper) ScrapeEvents(ctx context.Context) ([]internal.RawEvent, error) {
	results := make([][]internal.RawEvent, len(s.scrapers))
	p := pool.New().WithMaxGoroutines(len(s.scrapers))
	for i, sc := range s.scrapers {
		p.Go(func() {
			var pc panics.Catcher
			pc.Try(func() { results[i] = scrapeOne(ctx, sc) })
			if r := pc.Recovered(); r != nil {
				slog.Error("interleaved: scraper panicked", "descriptor", sc.Descriptor(), "panic", fmt.Sprint(r.Value))
				metrics.RecordScrapePanic(sc.Descriptor())
				results[i] = nil
			}
		})
	}
	p.Wait()
	return merge(results), nil
}

func scrapeOne(ctx context.Context, sc internal.Scraper) []internal.RawEvent {
	start := time.Now()
	events, err := sc.ScrapeEvents(ctx)
	metrics.RecordScrape(sc.Descriptor(), time.Since(start), len(events), err)
	if err != nil {
		slog.Warn("interleaved: scraper failed", "descriptor", sc.Descriptor(), "error", err)
		return nil
	}
	slog.Info("interleaved: scraper finished", "descriptor", sc.Descriptor(), "events", len(events), "elapsed", time.Since(start))
	return events
}

// merge is a k-way merge of per-scraper lists, each first sorted by date.
func merge(lists [][]internal.RawEvent) []internal.RawEvent {
	total := 0
	for i := range lists {
		lists[i] = slices.Clone(lists[i])
		slices.SortStableFunc(lists[i], func(a, b internal.RawEvent) int { return a.Date.Compare(b.Date) })
		total += len(lists[i])
	}
	out := make([]internal.RawEvent, 0, total)
	h := &mergeHeap{lists: lists, heads: make([]int, len(lists))}
	for i, l := range lists {
		if len(l) > 0 {
			h.indices = append(h.indices, i)
		}
	}
	heap.Init(h)
	for h.Len() > 0 {
		j := h.indices[0]
		out = append(out, lists[j][h.heads[j]])
		h.heads[j]++
		if h.heads[j] < len(lists[j]) {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}

// mergeHeap is a min-heap of list indices ordered by the date at each list's head, then by index.
type mergeHeap struct {
	indices []int
	heads   []int
	lists   [][]internal.RawEvent
}

func (h *mergeHeap) Len() int {
	return len(h.indices)
}

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.indices[i], h.indices[j]
	if c := h.lists[a][h.heads[a]].Date.Compare(h.lists[b][h.heads[b]].Date); c != 0 {
		return c < 0
	}
	return a < b
}

func (h *mergeHeap) Swap(i, j int) {
	h.indices[i], h.indices[j] = h.indices[j], h.indices[i]
}

func (h *mergeHeap) Push(x any) {
	h.indices = append(h.indices, x.(int))
}

func (h *mergeHeap) Pop() any {
	n := len(h.indices) - 1
	out := h.indices[n]
	h.indices = h.indices[:n]
	return out
}
