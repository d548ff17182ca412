package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single upstream request, retries included.
	DefaultTimeout = 20 * time.Second

	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	DefaultAcceptLanguage = "ru-RU,ru;q=0.9"

	AcceptHTML = "text/html,application/xhtml+xml"
	AcceptJSON = "application/json,text/plain,*/*"

	maxBodyBytes = 8 << 20
)

// ErrUnexpectedStatus is wrapped by StatusError.
var ErrUnexpectedStatus = errors.New("unexpected status")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: %d %s", ErrUnexpectedStatus, e.URL, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Response is a fully read upstream response.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher retrieves a page. Implementations: *Client (plain HTTP) and browser.Fetcher (rendered DOM).
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (*Response, error)
}

// Client is an HTTP Fetcher that sends browser-like headers, bounds each request with a
// timeout, paces requests through a shared limiter and retries transient failures.
type Client struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	timeout        time.Duration
	attempts       uint
	retryDelay     time.Duration
	userAgent      string
	acceptLanguage string
}

// ClientOption applies configuration to a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying client (e.g. httptest.Server.Client() in tests).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithRetry sets how many attempts are made for transient failures and the delay between them.
func WithRetry(attempts uint, delay time.Duration) ClientOption {
	return func(cl *Client) {
		if attempts > 0 {
			cl.attempts = attempts
		}
		cl.retryDelay = delay
	}
}

// WithRateLimit paces outbound requests. A nil limiter disables pacing.
func WithRateLimit(l *rate.Limiter) ClientOption {
	return func(cl *Client) {
		cl.limiter = l
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 4),
		timeout:        DefaultTimeout,
		attempts:       2,
		retryDelay:     500 * time.Millisecond,
		userAgent:      DefaultUserAgent,
		acceptLanguage: DefaultAcceptLanguage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs a GET. Headers in header override the defaults. Non-2xx responses are
// returned as *StatusError; 5xx and 429 responses and transport errors are retried.
func (c *Client) Fetch(ctx context.Context, url string, header http.Header) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp *Response
	err := retry.Do(
		func() error {
			var err error
			resp, err = c.do(ctx, url, header)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, url string, header http.Header) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", url, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", c.acceptLanguage)
	req.Header.Set("Accept", AcceptHTML)
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{URL: url, Code: res.StatusCode}
	}
	return &Response{
		URL:         res.Request.URL.String(),
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
