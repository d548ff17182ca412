package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/grouping"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var ErrShowNotFound = errors.New("show not found")

// Dataset is the current list of scraped events. *scraper.Cache implements it.
type Dataset interface {
	Get(ctx context.Context) ([]internal.RawEvent, error)
}

// Enricher improves a single show. *enrichment.Enricher implements it.
type Enricher interface {
	Enrich(ctx context.Context, show internal.Show) internal.Show
}

// ShowsService answers read queries over the cached dataset.
type ShowsService struct {
	dataset  Dataset
	enricher Enricher
}

// NewShowsService returns a ShowsService. A nil enricher serves shows as scraped.
func NewShowsService(dataset Dataset, enricher Enricher) *ShowsService {
	return &ShowsService{dataset: dataset, enricher: enricher}
}

// ListRaw returns the ungrouped events. The slice is shared with the cache and must not be
// modified.
func (s *ShowsService) ListRaw(ctx context.Context) ([]internal.RawEvent, error) {
	events, err := s.dataset.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

// ListShows returns the dataset grouped into shows, earliest first.
func (s *ShowsService) ListShows(ctx context.Context) ([]internal.Show, error) {
	events, err := s.ListRaw(ctx)
	if err != nil {
		return nil, err
	}
	return grouping.Group(events), nil
}

// GetShow finds a show by id and enriches it. Ids that arrive URL-encoded once or twice are
// found too.
func (s *ShowsService) GetShow(ctx context.Context, id string) (internal.Show, error) {
	shows, err := s.ListShows(ctx)
	if err != nil {
		return internal.Show{}, err
	}
	for _, candidate := range idCandidates(id) {
		show, ok := grouping.Find(shows, candidate)
		if !ok {
			continue
		}
		show = show.Clone()
		if s.enricher != nil {
			show = s.enricher.Enrich(ctx, show)
		}
		slog.Debug("shows: found show", "id", show.ID, "sessions", len(show.Sessions), "images", len(show.Images))
		return show, nil
	}
	return internal.Show{}, fmt.Errorf("%w: %s", ErrShowNotFound, id)
}

// idCandidates is id as given, then unescaped once and twice, without repeats.
func idCandidates(id string) []string {
	out := []string{id}
	cur := id
	for range 2 {
		next, err := url.PathUnescape(cur)
		if err != nil || next == cur {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// Theatres returns the distinct theatre names in the dataset, in Russian collation order.
func (s *ShowsService) Theatres(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, func(ev internal.RawEvent) string { return ev.Theatre })
}

// Genres returns the distinct genres in the dataset, in Russian collation order.
func (s *ShowsService) Genres(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, func(ev internal.RawEvent) string { return ev.Genre })
}

func (s *ShowsService) distinct(ctx context.Context, field func(internal.RawEvent) string) ([]string, error) {
	events, err := s.ListRaw(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ev := range events {
		if v := strings.TrimSpace(field(ev)); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	if out == nil {
		return []string{}, nil
	}
	collate.New(language.Russian).SortStrings(out)
	return out, nil
}
