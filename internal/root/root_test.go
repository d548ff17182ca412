package root

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/scraper"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScraper struct {
	descriptor string
	events     []internal.RawEvent
	calls      atomic.Int32
}

func (s *stubScraper) Descriptor() string { return s.descriptor }

func (s *stubScraper) ScrapeEvents(context.Context) ([]internal.RawEvent, error) {
	s.calls.Add(1)
	return s.events, nil
}

func stubRegistry() (scraper.Registry, *stubScraper) {
	s := &stubScraper{
		descriptor: "stub",
		events: []internal.RawEvent{
			{ID: "r2", Title: "«Ревизор»", Theatre: "Драмтеатр", Date: internal.Date(2025, time.December, 20, 19, 0), Genre: "спектакль", Images: []string{}},
			{ID: "c1", Title: "Чайка", Theatre: "Драмтеатр", Date: internal.Date(2025, time.December, 13, 18, 0), Genre: "спектакль", Images: []string{}},
			{ID: "r1", Title: "Ревизор", Theatre: "Драмтеатр", Date: internal.Date(2025, time.December, 12, 19, 0), Genre: "спектакль", Images: []string{}},
		},
	}
	return scraper.NewRegistry(scraper.WithScraper(s)), s
}

func keepDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func run(t *testing.T, args []string, opts ...RootOption) (string, error) {
	t.Helper()
	keepDefaultLogger(t)
	var out bytes.Buffer
	cmd, err := Root(t.Context(), append([]RootOption{WithStdout(&out)}, opts...)...)
	require.NoError(t, err)
	err = cmd.Run(t.Context(), append([]string{"rzn-watcher"}, args...))
	return out.String(), err
}

func TestUnit_ListShows_Raw(t *testing.T) {
	registry, _ := stubRegistry()

	out, err := run(t, []string{"list-shows", "--raw"}, WithRegistry(registry))
	require.NoError(t, err)

	var events []internal.RawEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"r1", "c1", "r2"}, ids)
}

func TestUnit_ListShows_Grouped(t *testing.T) {
	registry, _ := stubRegistry()

	out, err := run(t, []string{"list-shows"}, WithRegistry(registry))
	require.NoError(t, err)

	var shows []internal.Show
	require.NoError(t, json.Unmarshal([]byte(out), &shows))
	require.Len(t, shows, 2)
	assert.Equal(t, "Ревизор", shows[0].Title)
	assert.Len(t, shows[0].Sessions, 2)
	assert.Equal(t, "2025-12-12T19:00:00", shows[0].Date.String())
	assert.Equal(t, "Чайка", shows[1].Title)
}

func TestUnit_ListShows_Dense(t *testing.T) {
	registry, _ := stubRegistry()

	out, err := run(t, []string{"list-shows", "--format", "dense"}, WithRegistry(registry))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2025-12-12T19:00:00 | Драмтеатр "), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "| Ревизор (2 sessions)"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "| Чайка"), lines[1])
}

func TestUnit_ListShows_OutputFile(t *testing.T) {
	registry, _ := stubRegistry()
	path := filepath.Join(t.TempDir(), "shows.json")

	out, err := run(t, []string{"list-shows", "--raw", "--output", path}, WithRegistry(registry))
	require.NoError(t, err)
	assert.Empty(t, out)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), `"id": "r1"`)
}

func TestUnit_ListShows_DisableScrapeFromEnv(t *testing.T) {
	t.Setenv("DISABLE_SCRAPE", "true")
	registry, stub := stubRegistry()

	out, err := run(t, []string{"list-shows", "--raw"}, WithRegistry(registry))
	require.NoError(t, err)

	var events []internal.RawEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.True(t, scraper.IsFallback(events))
	assert.Zero(t, stub.calls.Load(), "disabled mode must not scrape")
}

func TestUnit_ListShows_InvalidFlags(t *testing.T) {
	registry, _ := stubRegistry()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "format", args: []string{"list-shows", "--format", "yaml"}, want: "invalid --format"},
		{name: "log level", args: []string{"--log-level", "loud", "list-shows"}, want: "invalid --log-level"},
		{name: "log format", args: []string{"--log-format", "xml", "list-shows"}, want: "invalid --log-format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args, WithRegistry(registry))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnit_LogFile(t *testing.T) {
	registry, _ := stubRegistry()
	path := filepath.Join(t.TempDir(), "rzn-watcher.log")

	_, err := run(t, []string{"--log-file", path, "--log-format", "json", "list-shows"}, WithRegistry(registry))
	require.NoError(t, err)

	logged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(logged), `"msg":"cache: refreshed"`)
}

func TestUnit_Root_EmptyRegistry(t *testing.T) {
	_, err := Root(t.Context(), WithRegistry(scraper.NewRegistry()))
	require.Error(t, err)
}

func TestUnit_Serve(t *testing.T) {
	keepDefaultLogger(t)
	registry, _ := stubRegistry()
	listeners := make(chan net.Listener, 1)
	listen := func(network, _ string) (net.Listener, error) {
		ln, err := net.Listen(network, "127.0.0.1:0")
		if err == nil {
			listeners <- ln
		}
		return ln, err
	}

	cmd, err := Root(t.Context(), WithRegistry(registry), WithListener(listen), WithStdout(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- cmd.Run(ctx, []string{"rzn-watcher", "serve", "--port", "0"})
	}()

	var ln net.Listener
	select {
	case ln = <-listeners:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start listening")
	}

	resp, err := http.Get("http://" + ln.Addr().String() + "/shows?raw=true")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, string(body), `"id":"r1"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

type recordingFetcher struct {
	name string
	hits *[]string
}

func (f recordingFetcher) Fetch(_ context.Context, url string, _ http.Header) (*httputil.Response, error) {
	*f.hits = append(*f.hits, f.name+" "+url)
	return nil, errors.New("not fetched")
}

func TestUnit_HTMLVia(t *testing.T) {
	var hits []string
	f := htmlVia{
		html: recordingFetcher{name: "html", hits: &hits},
		rest: recordingFetcher{name: "rest", hits: &hits},
	}

	_, _ = f.Fetch(t.Context(), "/page", http.Header{"Accept": {httputil.AcceptHTML}})
	_, _ = f.Fetch(t.Context(), "/events", http.Header{"Accept": {httputil.AcceptJSON}})

	assert.Equal(t, []string{"html /page", "rest /events"}, hits)
}
