package httputil

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultLRUMaxEntries = 256
	defaultCacheTTL      = 10 * time.Minute
)

// CacheTransport is an http.RoundTripper that keeps successful GET responses in memory.
// Enrichment uses it so that repeated detail lookups for the same performance do not hit
// the theatre sites again. Entries live for TTL, or for the response's max-age when shorter;
// responses marked no-store are never kept. Concurrent misses for the same key may both
// reach the backend.
type CacheTransport struct {
	Base http.RoundTripper

	// MaxEntries is the LRU size. Zero means defaultLRUMaxEntries.
	MaxEntries int

	// TTL is the longest an entry is served. Zero means defaultCacheTTL.
	TTL time.Duration

	// OnCacheHit, if set, is called for every GET with the cache key and whether it was a hit.
	OnCacheHit func(cacheKey string, hit bool)

	// Now is the clock used for max-age expiry. Nil means time.Now.
	Now func() time.Time

	initOnce sync.Once
	cache    *expirable.LRU[string, *cachedResponse]
}

type cachedResponse struct {
	Status  int
	Header  http.Header
	Body    []byte
	Expires time.Time
}

func (t *CacheTransport) ensureCache() {
	t.initOnce.Do(func() {
		size := t.MaxEntries
		if size <= 0 {
			size = defaultLRUMaxEntries
		}
		t.cache = expirable.NewLRU[string, *cachedResponse](size, nil, t.ttl())
	})
}

func (t *CacheTransport) ttl() time.Duration {
	if t.TTL > 0 {
		return t.TTL
	}
	return defaultCacheTTL
}

func (t *CacheTransport) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// RoundTrip implements http.RoundTripper.
func (t *CacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Method != http.MethodGet {
		return base.RoundTrip(req)
	}
	t.ensureCache()
	key := req.Header.Get("Accept") + " " + req.URL.String()

	if !requestWantsFresh(req) {
		if entry, ok := t.cache.Get(key); ok {
			if entry.Expires.IsZero() || t.now().Before(entry.Expires) {
				t.report(key, true)
				return responseFromCache(req, entry), nil
			}
			t.cache.Remove(key)
		}
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.report(key, false)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}
	noStore, maxAge := responseCacheControl(resp.Header)
	if noStore {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	entry := &cachedResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}
	if maxAge > 0 && time.Duration(maxAge)*time.Second < t.ttl() {
		entry.Expires = t.now().Add(time.Duration(maxAge) * time.Second)
	}
	t.cache.Add(key, entry)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (t *CacheTransport) report(key string, hit bool) {
	if t.OnCacheHit != nil {
		t.OnCacheHit(key, hit)
	}
}

func responseFromCache(req *http.Request, entry *cachedResponse) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(entry.Status) + " " + http.StatusText(entry.Status),
		StatusCode:    entry.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        entry.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}

// requestWantsFresh returns true if the request's Cache-Control asks to bypass cache (no-cache or max-age=0).
func requestWantsFresh(req *http.Request) bool {
	cc := req.Header.Get("Cache-Control")
	if cc == "" {
		return false
	}
	for part := range strings.SplitSeq(cc, ",") {
		part = strings.TrimSpace(part)
		if part == "no-cache" {
			return true
		}
		if after, ok := strings.CutPrefix(part, "max-age="); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(after)); err == nil && n <= 0 {
				return true
			}
		}
	}
	return false
}

// responseCacheControl parses Cache-Control from response headers.
// Returns noStore (do not cache) and maxAge in seconds (0 = not set).
func responseCacheControl(header http.Header) (noStore bool, maxAge int) {
	for _, cc := range header["Cache-Control"] {
		for part := range strings.SplitSeq(cc, ",") {
			part = strings.TrimSpace(strings.ToLower(part))
			switch {
			case part == "no-store":
				noStore = true
			case strings.HasPrefix(part, "max-age="), strings.HasPrefix(part, "s-maxage="):
				_, val, _ := strings.Cut(part, "=")
				if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n > 0 {
					maxAge = n
				}
			}
		}
	}
	return noStore, maxAge
}
