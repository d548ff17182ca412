package scraper

import (
	"testing"
	"time"

	"github.com/drewfead/rzn-watcher/internal/textutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_Perehod_ScrapeEvents(t *testing.T) {
	s, server := goldenScraper(t, PerehodDescriptor)

	events, err := s.ScrapeEvents(t.Context())
	require.NoError(t, err, "ScrapeEvents")

	// 27.12 is followed by another date line, so it has no title of its own.
	assert.Equal(t, []string{"Старший сын", "Женитьба", "Морозко"}, titles(events))
	assert.Equal(t, []string{
		"2025-12-25T18:00:00",
		"2025-12-28T17:00:00",
		"2026-01-04T12:00:00",
	}, dates(events))
	for i, ev := range events {
		assert.Equal(t, perehodTheatre, ev.Theatre, "events[%d]: Theatre", i)
		assert.Equal(t, server.URL+"/", ev.URL, "events[%d]: URL", i)
		assert.Equal(t, ev.Date.String()+"-"+textutil.Slug(ev.Title), ev.ID, "events[%d]: ID", i)
	}
}

func TestUnit_Perehod_Parse(t *testing.T) {
	autumn := func() time.Time { return time.Date(2025, time.October, 1, 12, 0, 0, 0, moscowTZ) }

	tests := []struct {
		name      string
		now       func() time.Time
		body      string
		found     bool
		wantDates []string
	}{
		{
			name:  "block missing",
			now:   goldenClock,
			body:  "О театре\n25.12 в 18:00\nЧайка",
			found: false,
		},
		{
			name:      "lines before the block are ignored",
			now:       goldenClock,
			body:      "20.12 в 18:00\nРанний\nБлижайшие спектакли\n21.12 в 18:00\nПоздний",
			found:     true,
			wantDates: []string{"2025-12-21T18:00:00"},
		},
		{
			name:      "january rolls over after december",
			now:       autumn,
			body:      "Ближайшие спектакли\n30.12 в 18:00\nА\n02.01 в 12:00\nБ\n05.01 в 12:00\nВ",
			found:     true,
			wantDates: []string{"2025-12-30T18:00:00", "2026-01-02T12:00:00", "2026-01-05T12:00:00"},
		},
		{
			name:      "january in december rolls over",
			now:       goldenClock,
			body:      "Ближайшие спектакли\n02.01 в 12:00\nБ",
			found:     true,
			wantDates: []string{"2026-01-02T12:00:00"},
		},
		{
			name:      "january in autumn without december stays",
			now:       autumn,
			body:      "Ближайшие спектакли\n02.01 в 12:00\nБ",
			found:     true,
			wantDates: []string{"2025-01-02T12:00:00"},
		},
		{
			name:      "invalid calendar date skipped",
			now:       goldenClock,
			body:      "Ближайшие спектакли\n31.02 в 12:00\nБ\n01.03 в 12:00\nВ",
			found:     true,
			wantDates: []string{"2025-03-01T12:00:00"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Perehod(WithClock(tt.now)).(*perehodScraper)
			events, found := s.parse(tt.body)
			assert.Equal(t, tt.found, found)
			if len(tt.wantDates) == 0 {
				assert.Empty(t, events)
				return
			}
			assert.Equal(t, tt.wantDates, dates(events))
		})
	}
}

func TestIntegration_Perehod_Events(t *testing.T) {
	events, err := Perehod().ScrapeEvents(t.Context())
	require.NoError(t, err, "ScrapeEvents")
	for _, ev := range events {
		t.Logf("event: %+v", ev)
	}
}
