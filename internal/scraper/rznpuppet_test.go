package scraper

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_Rznpuppet_ScrapeEvents(t *testing.T) {
	s, server := goldenScraper(t, RznpuppetDescriptor)

	events, err := s.ScrapeEvents(t.Context())
	require.NoError(t, err, "ScrapeEvents")

	require.Equal(t, []string{"Колобок", "Снежная королева"}, titles(events))
	assert.Equal(t, []string{"2025-12-14T11:00:00", "2026-01-03T12:30:00"}, dates(events))

	kolobok := events[0]
	assert.Equal(t, "2025-12-14T11:00:00-колобок", kolobok.ID)
	assert.Equal(t, rznpuppetTheatre, kolobok.Theatre)
	assert.Equal(t, DefaultGenre, kolobok.Genre)
	assert.Equal(t, []string{server.URL + "/upload/iblock/kolobok.jpg"}, kolobok.Images)
	assert.Equal(t, server.URL+"/playbill/kolobok/", kolobok.URL)

	snow := events[1]
	assert.Equal(t, []string{server.URL + "/upload/iblock/snow-queen.jpg"}, snow.Images, "lazy image preferred over data URI")
	assert.Equal(t, server.URL+"/playbill/snow-queen/", snow.URL)
}

func TestUnit_Rznpuppet_CardWithoutTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><div class="card"><h3>Репка</h3><p>14 декабря</p></div></body></html>`))
	}))
	t.Cleanup(server.Close)
	s := Rznpuppet(WithBaseURL(server.URL), WithClient(server.Client()), WithClock(goldenClock))

	events, err := s.ScrapeEvents(t.Context())
	require.NoError(t, err)
	assert.Empty(t, events, "a card needs both a date and a start time")
}

func TestUnit_Rznpuppet_CardWithSubtitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><div class="list">
<div class="card"><div class="card__body"><h3>Репка</h3><h3>по мотивам русской сказки</h3></div><p>14 декабря, начало в 11:00</p></div>
<div class="card"><div class="card__body"><h3>Теремок</h3></div><p>15 декабря, начало в 12:00</p></div>
<div class="card"><div class="card__body"><h3>Скоро в репертуаре</h3></div></div>
</div></body></html>`))
	}))
	t.Cleanup(server.Close)
	s := Rznpuppet(WithBaseURL(server.URL), WithClient(server.Client()), WithClock(goldenClock))

	events, err := s.ScrapeEvents(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Репка", "Теремок"}, titles(events))
	assert.Equal(t, []string{"2025-12-14T11:00:00", "2025-12-15T12:00:00"}, dates(events))
}

func TestIntegration_Rznpuppet_Events(t *testing.T) {
	events, err := Rznpuppet().ScrapeEvents(t.Context())
	require.NoError(t, err, "ScrapeEvents")
	for _, ev := range events {
		t.Logf("event: %+v", ev)
	}
}
