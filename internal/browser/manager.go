package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PageStableTimeout is the timeout used when waiting for page stability or running eval scripts.
var PageStableTimeout = 30 * time.Second

// Interface loads pages in a real browser. It satisfies httputil.Fetcher so the playbill
// adapters can read the rendered DOM of sites that fill their afisha from script.
type Interface interface {
	WithPage(ctx context.Context, url string, fn func(*rod.Page) error) error
	Fetch(ctx context.Context, url string, header http.Header) (*httputil.Response, error)

	io.Closer
}

var _ httputil.Fetcher = (Interface)(nil)

// headlessBrowser manages a single rod browser instance. A channel of capacity 1 serializes
// access: callers receive the browser, use it, then send it back so only one WithPage runs at a time.
type headlessBrowser struct {
	initOnce sync.Once
	initErr  error
	ch       chan *rod.Browser
	cache    *expirable.LRU[string, *httputil.Response]
}

// Headless returns a browser that lazily launches one headless chrome process and reuses it.
// Rendered documents are kept for cacheTTL so that the enrichment pass does not reload the
// same playbill page.
func Headless(cacheTTL time.Duration) Interface {
	h := &headlessBrowser{
		ch:    make(chan *rod.Browser, 1),
		cache: expirable.NewLRU[string, *httputil.Response](64, nil, cacheTTL),
	}
	return h
}

func (h *headlessBrowser) init() error {
	h.initOnce.Do(func() {
		u, err := launcher.New().Logger(newRodLauncherLogger()).Leakless(false).Launch()
		if err != nil {
			h.initErr = fmt.Errorf("launch browser: %w", err)
			close(h.ch)
			return
		}
		browser := rod.New().ControlURL(u)
		if err := browser.Connect(); err != nil {
			h.initErr = fmt.Errorf("connect to browser: %w", err)
			close(h.ch)
			return
		}
		h.ch <- browser
	})
	return h.initErr
}

func (h *headlessBrowser) Close() error {
	if err := h.init(); err != nil {
		return err
	}
	browser, ok := <-h.ch
	if !ok {
		return h.initErr
	}
	return browser.Close()
}

// WithPage receives the shared browser from the channel, creates a page at url, runs fn, then sends the browser back.
// Serializes with other callers (one WithPage at a time). The page is closed when fn returns.
func (h *headlessBrowser) WithPage(ctx context.Context, url string, fn func(page *rod.Page) error) error {
	if err := h.init(); err != nil {
		return err
	}
	var browser *rod.Browser
	select {
	case b, ok := <-h.ch:
		if !ok {
			return h.initErr
		}
		browser = b
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { h.ch <- browser }()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	defer page.MustClose()

	page = page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := rod.Try(func() {
		page.Timeout(PageStableTimeout).MustWaitStable()
	}); err != nil {
		return fmt.Errorf("wait for page stable: %w", err)
	}

	return fn(page)
}

// Fetch returns the rendered document at url. When the Accept header asks for JSON the body is
// fetched from inside the page instead, so the request carries the site's cookies and origin.
func (h *headlessBrowser) Fetch(ctx context.Context, url string, header http.Header) (*httputil.Response, error) {
	wantJSON := strings.Contains(header.Get("Accept"), "json")
	key := header.Get("Accept") + " " + url
	if resp, ok := h.cache.Get(key); ok {
		return resp, nil
	}

	var resp *httputil.Response
	target := url
	if wantJSON {
		// Load the referring site so fetch() runs under its origin.
		if ref := header.Get("Referer"); ref != "" {
			target = ref
		}
	}
	err := h.WithPage(ctx, target, func(page *rod.Page) error {
		if wantJSON {
			result, err := page.Context(ctx).Timeout(PageStableTimeout).Eval(fetchTextScript, url)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", url, err)
			}
			resp = &httputil.Response{
				URL:         url,
				StatusCode:  http.StatusOK,
				ContentType: "application/json; charset=utf-8",
				Body:        []byte(result.Value.Str()),
			}
			return nil
		}
		html, err := page.HTML()
		if err != nil {
			return fmt.Errorf("read document %s: %w", url, err)
		}
		resp = &httputil.Response{
			URL:         url,
			StatusCode:  http.StatusOK,
			ContentType: "text/html; charset=utf-8",
			Body:        []byte(html),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.cache.Add(key, resp)
	return resp, nil
}

// fetchTextScript fetches url in the page context and returns the response body.
const fetchTextScript = `(url) => {
	return fetch(url, {headers: {'Accept': 'application/json'}}).then(r => {
		if (!r.ok) throw new Error('HTTP ' + r.status);
		return r.text();
	});
}`

// rodLauncherLogger is an io.Writer that forwards launcher output (e.g. download progress) to slog at debug level.
type rodLauncherLogger struct {
	buf []byte
}

func (w *rodLauncherLogger) Write(p []byte) (n int, err error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line != "" {
			slog.Debug("rod launcher", "message", line)
		}
	}
	return len(p), nil
}

func newRodLauncherLogger() io.Writer {
	return &rodLauncherLogger{}
}
