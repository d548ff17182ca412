package acceptance

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/root"
	"github.com/drewfead/rzn-watcher/internal/scraper"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var goldenNow = time.Date(2025, time.December, 10, 9, 0, 0, 0, time.UTC)

// goldenRegistry serves every theatre from its saved fixtures.
func goldenRegistry(t *testing.T) scraper.Registry {
	t.Helper()
	clock := func() time.Time { return goldenNow }
	var opts []scraper.RegistryOption
	for _, gs := range scraper.Theatres() {
		handler, err := gs.MountGolden(t.Context(), filepath.Join("..", "internal", "scraper", "golden", gs.Descriptor()))
		require.NoError(t, err, "MountGolden %s", gs.Descriptor())
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)

		var s internal.Scraper
		sourceOpts := []scraper.Option{
			scraper.WithBaseURL(server.URL),
			scraper.WithClient(server.Client()),
			scraper.WithClock(clock),
		}
		switch gs.Descriptor() {
		case scraper.RzndramaDescriptor:
			s = scraper.Rzndrama(sourceOpts...)
		case scraper.RznpuppetDescriptor:
			s = scraper.Rznpuppet(sourceOpts...)
		case scraper.RomustDescriptor:
			s = scraper.Romust(sourceOpts...)
		case scraper.PerehodDescriptor:
			s = scraper.Perehod(sourceOpts...)
		case scraper.RzntdmDescriptor:
			s = scraper.Rzntdm(sourceOpts...)
		}
		require.NotNil(t, s, "no constructor for %s", gs.Descriptor())
		opts = append(opts, scraper.WithScraper(s))
	}
	return scraper.NewRegistry(opts...)
}

func listShows(t *testing.T, args ...string) []byte {
	t.Helper()
	outputFile := filepath.Join(t.TempDir(), "output.json")

	rootCmd, err := root.Root(t.Context(), root.WithRegistry(goldenRegistry(t)))
	require.NoError(t, err, "Root")
	require.NotNil(t, rootCmd, "Root")

	err = rootCmd.Run(t.Context(), append([]string{"rzn-watcher", "list-shows", "--output", outputFile}, args...))
	require.NoError(t, err, "Run")

	outputBytes, err := os.ReadFile(outputFile)
	require.NoError(t, err, "ReadFile")
	require.NotEmpty(t, outputBytes, "output file should contain shows from golden data")
	return outputBytes
}

func TestAcceptance_ListShows_Raw(t *testing.T) {
	var events []internal.RawEvent
	require.NoError(t, json.Unmarshal(listShows(t, "--raw"), &events))

	require.False(t, scraper.IsFallback(events), "golden sources should not fall back")
	theatres := map[string]int{}
	for i, ev := range events {
		theatres[ev.Theatre]++
		assert.NotNil(t, ev.Images, ev.ID)
		if i > 0 {
			assert.LessOrEqual(t, events[i-1].Date.Compare(ev.Date), 0, "events out of order at %s", ev.ID)
		}
	}
	assert.Len(t, theatres, 5, "every theatre contributes: %v", theatres)
}

func TestAcceptance_ListShows_Grouped(t *testing.T) {
	var shows []internal.Show
	require.NoError(t, json.Unmarshal(listShows(t), &shows))
	require.NotEmpty(t, shows)

	seen := map[string]bool{}
	var revizor *internal.Show
	for i, show := range shows {
		require.False(t, seen[show.ID], "duplicate show id %s", show.ID)
		seen[show.ID] = true
		require.NotEmpty(t, show.Sessions, show.ID)
		assert.Equal(t, show.Sessions[0].Date, show.Date, show.ID)
		if show.Title == "Ревизор" {
			revizor = &shows[i]
		}
	}
	require.NotNil(t, revizor, "Ревизор should be grouped from the drama theatre playbill")
	assert.Len(t, revizor.Sessions, 2)
}

func TestAcceptance_ListShows_DisableScrape(t *testing.T) {
	var events []internal.RawEvent
	require.NoError(t, json.Unmarshal(listShows(t, "--raw", "--disable-scrape"), &events))
	assert.True(t, scraper.IsFallback(events))
}
