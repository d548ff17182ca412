// Package grouping collapses session-level events into shows.
package grouping

import (
	"slices"
	"strings"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/textutil"
)

// IDSeparator joins the theatre and title parts of a show id. Slugs never contain it.
const IDSeparator = "__"

// ShowID is the deterministic id of the show a title at a theatre belongs to.
func ShowID(theatre, title string) string {
	return textutil.Slug(theatre) + IDSeparator + textutil.Slug(textutil.NormalizeTitle(title))
}

// Group collapses events into shows keyed by ShowID. The result is sorted by date,
// then id; it is a pure function of its input.
func Group(events []internal.RawEvent) []internal.Show {
	byID := make(map[string]*builder, len(events))
	var order []string
	for _, ev := range events {
		id := ShowID(ev.Theatre, ev.Title)
		b, ok := byID[id]
		if !ok {
			b = &builder{
				show: internal.Show{
					ID:      id,
					Title:   ev.Title,
					Theatre: ev.Theatre,
					Images:  []string{},
				},
				seenImages: make(map[string]struct{}),
			}
			byID[id] = b
			order = append(order, id)
		}
		b.add(ev)
	}

	shows := make([]internal.Show, 0, len(order))
	for _, id := range order {
		shows = append(shows, byID[id].build())
	}
	slices.SortStableFunc(shows, compareShows)
	return shows
}

type builder struct {
	show       internal.Show
	seenImages map[string]struct{}
}

func (b *builder) add(ev internal.RawEvent) {
	if b.show.Genre == "" && strings.TrimSpace(ev.Genre) != "" {
		b.show.Genre = ev.Genre
	}
	for _, img := range ev.Images {
		if img == "" {
			continue
		}
		if _, dup := b.seenImages[img]; dup {
			continue
		}
		b.seenImages[img] = struct{}{}
		b.show.Images = append(b.show.Images, img)
	}
	if b.show.PerformanceID == nil && ev.PerformanceID != "" {
		pid := ev.PerformanceID
		b.show.PerformanceID = &pid
	}
	b.show.Sessions = append(b.show.Sessions, internal.Session{
		ID:     ev.ID,
		Date:   ev.Date,
		BuyURL: sessionBuyURL(ev),
	})
}

func (b *builder) build() internal.Show {
	s := b.show
	slices.SortStableFunc(s.Sessions, func(x, y internal.Session) int {
		if c := x.Date.Compare(y.Date); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
	if len(s.Sessions) > 0 {
		s.Date = s.Sessions[0].Date
	}
	return s
}

func sessionBuyURL(ev internal.RawEvent) *string {
	switch {
	case ev.BuyURL != "":
		u := ev.BuyURL
		return &u
	case ev.URL != "":
		u := ev.URL
		return &u
	}
	return nil
}

// compareShows orders by date with session-less shows last, then by id.
func compareShows(a, b internal.Show) int {
	aEmpty, bEmpty := len(a.Sessions) == 0, len(b.Sessions) == 0
	switch {
	case aEmpty && !bEmpty:
		return 1
	case !aEmpty && bEmpty:
		return -1
	}
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Flatten expands shows back into one event per session.
func Flatten(shows []internal.Show) []internal.RawEvent {
	var out []internal.RawEvent
	for _, s := range shows {
		for _, sess := range s.Sessions {
			ev := internal.RawEvent{
				ID:      sess.ID,
				Title:   s.Title,
				Theatre: s.Theatre,
				Date:    sess.Date,
				Genre:   s.Genre,
				Images:  append([]string{}, s.Images...),
			}
			if sess.BuyURL != nil {
				ev.BuyURL = *sess.BuyURL
			}
			if s.PerformanceID != nil {
				ev.PerformanceID = *s.PerformanceID
			}
			out = append(out, ev)
		}
	}
	return out
}

// Find returns the show with the given id.
func Find(shows []internal.Show, id string) (internal.Show, bool) {
	i := slices.IndexFunc(shows, func(s internal.Show) bool { return s.ID == id })
	if i < 0 {
		return internal.Show{}, false
	}
	return shows[i], true
}
