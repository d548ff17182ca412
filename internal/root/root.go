package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/api"
	"github.com/drewfead/rzn-watcher/internal/browser"
	"github.com/drewfead/rzn-watcher/internal/enrichment"
	"github.com/drewfead/rzn-watcher/internal/httputil"
	"github.com/drewfead/rzn-watcher/internal/scraper"
	"github.com/drewfead/rzn-watcher/internal/services"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultPort     = 3000
	shutdownTimeout = 10 * time.Second
)

// syncWriter wraps an *os.File and calls Sync after each Write so streamed output
// (e.g. list-shows to stdout) appears immediately on Windows.
type syncWriter struct {
	f *os.File
}

func (w *syncWriter) Write(p []byte) (n int, err error) {
	n, err = w.f.Write(p)
	if err != nil {
		return n, err
	}
	_ = w.f.Sync()
	return n, nil
}

// RootOption configures the root command (e.g. for tests).
type RootOption func(*rootConfig)

type rootConfig struct {
	registry  scraper.Registry
	providers []internal.EnrichmentProvider
	stdout    io.Writer
	now       func() time.Time
	listen    func(network, address string) (net.Listener, error)
}

// WithRegistry sets the scraper registry. Use in tests to inject a registry that uses
// golden HTTP servers or mocks instead of the live theatre sites.
func WithRegistry(registry scraper.Registry) RootOption {
	return func(c *rootConfig) {
		c.registry = registry
	}
}

// WithEnrichmentProviders replaces the default detail providers (ubsystem, detail page).
func WithEnrichmentProviders(providers ...internal.EnrichmentProvider) RootOption {
	return func(c *rootConfig) {
		c.providers = providers
	}
}

// WithStdout redirects command output.
func WithStdout(w io.Writer) RootOption {
	return func(c *rootConfig) {
		if w != nil {
			c.stdout = w
		}
	}
}

// WithClock sets the clock used to age the cached dataset.
func WithClock(now func() time.Time) RootOption {
	return func(c *rootConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithListener overrides how serve opens its socket.
func WithListener(listen func(network, address string) (net.Listener, error)) RootOption {
	return func(c *rootConfig) {
		if listen != nil {
			c.listen = listen
		}
	}
}

func Root(ctx context.Context, opts ...RootOption) (*cli.Command, error) {
	cfg := &rootConfig{
		stdout: &syncWriter{f: os.Stdout},
		now:    time.Now,
		listen: net.Listen,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.registry != nil && len(cfg.registry.Scrapers()) == 0 {
		return nil, errors.New("registry has no scrapers")
	}

	var logCloser io.Closer
	rootCmd := &cli.Command{
		Name:   "rzn-watcher",
		Usage:  "Aggregate the playbills of Ryazan theatres",
		Writer: cfg.stdout,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "disable-scrape",
				Usage:   "serve the built-in sample dataset instead of scraping",
				Sources: cli.EnvVars("DISABLE_SCRAPE"),
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "how long a scraped dataset is served before the theatres are asked again",
				Value:   scraper.DefaultCacheTTL,
				Sources: cli.EnvVars("CACHE_TTL"),
			},
			&cli.BoolFlag{
				Name:    "headless",
				Usage:   "render HTML playbills in a headless browser",
				Sources: cli.EnvVars("HEADLESS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text or json",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "write logs to a rotated file instead of stderr",
				Sources: cli.EnvVars("LOG_FILE"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			closer, err := configureLogging(cmd.String("log-level"), cmd.String("log-format"), cmd.String("log-file"))
			if err != nil {
				return ctx, err
			}
			logCloser = closer
			return ctx, nil
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(cfg),
			listShowsCommand(cfg),
		},
	}
	return rootCmd, nil
}

func serveCommand(cfg *rootConfig) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the read API over HTTP",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:  "rate-limit",
				Usage: "requests per minute allowed from one client",
				Value: 120,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := cfg.build(cmd)
			defer a.Close()

			ln, err := cfg.listen("tcp", net.JoinHostPort("", strconv.Itoa(cmd.Int("port"))))
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			srv := &http.Server{
				Handler:           api.NewRouter(a.service, api.WithRateLimit(cmd.Int("rate-limit"), time.Minute)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				errc <- srv.Serve(ln)
			}()
			slog.Info("root: serving", "addr", ln.Addr().String(), "disable_scrape", cmd.Bool("disable-scrape"))

			select {
			case err := <-errc:
				return fmt.Errorf("server stopped: %w", err)
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down: %w", err)
			}
			slog.Info("root: server stopped")
			return nil
		},
	}
}

func listShowsCommand(cfg *rootConfig) *cli.Command {
	return &cli.Command{
		Name:  "list-shows",
		Usage: "Scrape once and print the playbill",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "print one entry per performance instead of grouped shows",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "json or dense",
				Value: "json",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "write to this file instead of stdout",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := outputFormat(cmd.String("format"))
			if err != nil {
				return err
			}
			a := cfg.build(cmd)
			defer a.Close()

			var rows any
			if cmd.Bool("raw") {
				rows, err = a.service.ListRaw(ctx)
			} else {
				rows, err = a.service.ListShows(ctx)
			}
			if err != nil {
				return fmt.Errorf("failed to list shows: %w", err)
			}
			if fetchedAt, ok := a.cache.FetchedAt(); ok {
				slog.Debug("root: dataset ready", "fetched_at", fetchedAt)
			}

			w := cfg.stdout
			if path := cmd.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return format.write(w, rows)
		},
	}
}

// app is the object graph shared by the commands.
type app struct {
	cache   *scraper.Cache
	service *services.ShowsService
	closers []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (c *rootConfig) build(cmd *cli.Command) *app {
	a := &app{}
	registry := c.registry
	if registry == nil {
		registry = a.defaultRegistry(cmd.Bool("headless"), cmd.Duration("cache-ttl"))
	}
	a.cache = scraper.NewCache(scraper.Aggregator(registry),
		scraper.WithTTL(cmd.Duration("cache-ttl")),
		scraper.WithScrapeDisabled(cmd.Bool("disable-scrape")),
		scraper.WithCacheClock(c.now),
	)
	var enricherOpts []enrichment.EnricherOption
	if len(c.providers) > 0 {
		enricherOpts = append(enricherOpts, enrichment.WithProviders(c.providers...))
	}
	a.service = services.NewShowsService(a.cache, enrichment.NewEnricher(enricherOpts...))
	return a
}

// defaultRegistry wires every theatre behind one rate-limited client and a circuit breaker.
func (a *app) defaultRegistry(headless bool, cacheTTL time.Duration) scraper.Registry {
	var fetcher httputil.Fetcher = httputil.NewClient()
	if headless {
		b := browser.Headless(cacheTTL)
		a.closers = append(a.closers, b)
		fetcher = htmlVia{html: b, rest: fetcher}
		slog.Info("root: rendering HTML playbills in a headless browser")
	}
	opts := []scraper.RegistryOption{}
	for _, s := range scraper.Theatres(scraper.WithFetcher(fetcher)) {
		opts = append(opts, scraper.WithScraper(s))
	}
	opts = append(opts, scraper.WithMiddleware(scraper.CircuitBreaker(scraper.BreakerSettings{})))
	return scraper.NewRegistry(opts...)
}

// htmlVia sends page requests to html and everything else (the JSON calendar) to rest.
type htmlVia struct {
	html httputil.Fetcher
	rest httputil.Fetcher
}

func (f htmlVia) Fetch(ctx context.Context, url string, header http.Header) (*httputil.Response, error) {
	if strings.HasPrefix(header.Get("Accept"), "text/html") {
		return f.html.Fetch(ctx, url, header)
	}
	return f.rest.Fetch(ctx, url, header)
}

func configureLogging(level, format, file string) (io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		}
		w, closer = lj, lj
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("invalid --log-format %q (valid: text, json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return closer, nil
}

type listFormat struct {
	dense *template.Template
}

// denseTemplate renders one line per event or show.
const denseTemplate = `{{range .}}{{.Date}} | {{padTheatre .Theatre}} | {{.Title}}{{with sessions .}} ({{.}} sessions){{end}}
{{end}}`

// theatreColumnWidth aligns the longest theatre name in mixed output.
const theatreColumnWidth = 32

func outputFormat(name string) (listFormat, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return listFormat{}, nil
	case "dense":
		tmpl, err := template.New("dense").Funcs(template.FuncMap{
			"padTheatre": func(s string) string {
				if n := theatreColumnWidth - len([]rune(s)); n > 0 {
					return s + strings.Repeat(" ", n)
				}
				return s
			},
			"sessions": func(v any) int {
				if show, ok := v.(internal.Show); ok && len(show.Sessions) > 1 {
					return len(show.Sessions)
				}
				return 0
			},
		}).Parse(denseTemplate)
		if err != nil {
			return listFormat{}, fmt.Errorf("dense template: %w", err)
		}
		return listFormat{dense: tmpl}, nil
	}
	return listFormat{}, fmt.Errorf("invalid --format %q (valid: json, dense)", name)
}

func (f listFormat) write(w io.Writer, rows any) error {
	if f.dense != nil {
		return f.dense.Execute(w, rows)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
