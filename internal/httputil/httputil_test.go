package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func testClient(server *httptest.Server, attempts uint) *Client {
	return NewClient(
		WithHTTPClient(server.Client()),
		WithRetry(attempts, time.Millisecond),
		WithRateLimit(nil),
		WithTimeout(5*time.Second),
	)
}

func TestUnit_Client_SendsBrowserHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	t.Cleanup(server.Close)

	resp, err := testClient(server, 1).Fetch(t.Context(), server.URL+"/afisha/", http.Header{"Accept": {AcceptJSON}})
	require.NoError(t, err)
	assert.Equal(t, "<p>ok</p>", string(resp.Body))
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType)
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, DefaultAcceptLanguage, got.Get("Accept-Language"))
	assert.Equal(t, AcceptJSON, got.Get("Accept"), "caller headers override defaults")
}

func TestUnit_Client_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("second time lucky"))
	}))
	t.Cleanup(server.Close)

	resp, err := testClient(server, 2).Fetch(t.Context(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", string(resp.Body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnit_Client_DoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	_, err := testClient(server, 3).Fetch(t.Context(), server.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnit_Client_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	c := NewClient(WithHTTPClient(server.Client()), WithTimeout(50*time.Millisecond), WithRetry(1, 0), WithRateLimit(nil))
	_, err := c.Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func calendarMarkers(text string) bool {
	return HasCyrillic(text) && strings.Contains(text, "Календарь")
}

func TestUnit_DecodeHTML(t *testing.T) {
	page := "<html><body><h1>Календарь</h1><p>24 декабря, 19:00 – Ревизор</p></body></html>"
	legacy, err := charmap.Windows1251.NewEncoder().String(page)
	require.NoError(t, err)

	t.Run("utf-8", func(t *testing.T) {
		text, ok := DecodeHTML([]byte(page), "text/html; charset=utf-8", calendarMarkers)
		require.True(t, ok)
		assert.Equal(t, page, text)
	})
	t.Run("undeclared windows-1251", func(t *testing.T) {
		text, ok := DecodeHTML([]byte(legacy), "text/html", calendarMarkers)
		require.True(t, ok)
		assert.Equal(t, page, text)
	})
	t.Run("windows-1251 mislabelled as utf-8", func(t *testing.T) {
		text, ok := DecodeHTML([]byte(legacy), "text/html; charset=utf-8", calendarMarkers)
		require.True(t, ok)
		assert.Equal(t, page, text)
	})
	t.Run("neither", func(t *testing.T) {
		_, ok := DecodeHTML([]byte("<html><body>Service unavailable</body></html>"), "text/html", calendarMarkers)
		assert.False(t, ok)
	})
}

func TestUnit_CacheTransport(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/private" {
			w.Header().Set("Cache-Control", "no-store")
		}
		_, _ = w.Write([]byte("body " + r.URL.Path))
	}))
	t.Cleanup(server.Close)

	var hits, misses int
	transport := &CacheTransport{
		Base: server.Client().Transport,
		OnCacheHit: func(_ string, hit bool) {
			if hit {
				hits++
			} else {
				misses++
			}
		},
	}
	client := &http.Client{Transport: transport}

	get := func(path string) string {
		resp, err := client.Get(server.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}

	assert.Equal(t, "body /detail", get("/detail"))
	assert.Equal(t, "body /detail", get("/detail"))
	assert.Equal(t, int32(1), calls.Load(), "second GET served from cache")

	get("/private")
	get("/private")
	assert.Equal(t, int32(3), calls.Load(), "no-store is never cached")
	assert.Equal(t, 1, hits)
	assert.Equal(t, 3, misses)
}
