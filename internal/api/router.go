// Package api serves the show listings as JSON over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/drewfead/rzn-watcher/internal"
	"github.com/drewfead/rzn-watcher/internal/services"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shows is the read side the API serves. *services.ShowsService implements it.
type Shows interface {
	ListRaw(ctx context.Context) ([]internal.RawEvent, error)
	ListShows(ctx context.Context) ([]internal.Show, error)
	GetShow(ctx context.Context, id string) (internal.Show, error)
	Theatres(ctx context.Context) ([]string, error)
	Genres(ctx context.Context) ([]string, error)
}

type router struct {
	shows         Shows
	now           func() time.Time
	rateRequests  int
	rateWindow    time.Duration
	exposeMetrics bool
}

type RouterOption func(*router)

// WithRateLimit sets the per-IP limit. Zero requests disables it.
func WithRateLimit(requests int, window time.Duration) RouterOption {
	return func(r *router) {
		r.rateRequests = requests
		r.rateWindow = window
	}
}

// WithClock sets the clock /ping reports.
func WithClock(now func() time.Time) RouterOption {
	return func(r *router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithoutMetricsEndpoint leaves /metrics unrouted.
func WithoutMetricsEndpoint() RouterOption {
	return func(r *router) {
		r.exposeMetrics = false
	}
}

// NewRouter returns the HTTP handler for the API.
func NewRouter(shows Shows, opts ...RouterOption) http.Handler {
	rt := &router{
		shows:         shows,
		now:           time.Now,
		rateRequests:  120,
		rateWindow:    time.Minute,
		exposeMetrics: true,
	}
	for _, opt := range opts {
		opt(rt)
	}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(Recoverer)
	r.Use(CORS())
	r.Use(Metrics())

	r.Get("/ping", rt.ping)
	if rt.exposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(RateLimit(rt.rateRequests, rt.rateWindow))
		r.Use(noStore)
		r.Get("/shows", rt.listShows)
		r.Get("/shows/{id}", rt.getShow)
		r.Get("/theatres", rt.theatres)
		r.Get("/genres", rt.genres)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found")
	})
	return r
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (rt *router) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"ok":   true,
		"time": rt.now().UTC().Format(time.RFC3339),
	})
}

func (rt *router) listShows(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("raw") == "true" {
		events, err := rt.shows.ListRaw(r.Context())
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, events)
		return
	}
	shows, err := rt.shows.ListShows(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, shows)
}

func (rt *router) getShow(w http.ResponseWriter, r *http.Request) {
	show, err := rt.shows.GetShow(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, services.ErrShowNotFound):
		writeError(w, r, http.StatusNotFound, "Show not found")
	case err != nil:
		serverError(w, r, err)
	default:
		writeJSON(w, r, http.StatusOK, show)
	}
}

func (rt *router) theatres(w http.ResponseWriter, r *http.Request) {
	rt.names(w, r, rt.shows.Theatres)
}

func (rt *router) genres(w http.ResponseWriter, r *http.Request) {
	rt.names(w, r, rt.shows.Genres)
}

func (rt *router) names(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]string, error)) {
	names, err := list(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, names)
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("api: request failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "Server error")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("api: encode response", "request_id", RequestID(r.Context()), "error", err)
		http.Error(w, `{"error":"Server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
