package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/l0p7/iowa/internal/catalog"
	"github.com/l0p7/iowa/internal/upstream"
)

// Dispatcher resolves an upstream request to a payload or a typed error.
type Dispatcher interface {
	Do(ctx context.Context, req upstream.Request) (json.RawMessage, error)
}

// HealthReport is served at /healthz.
type HealthReport struct {
	Status       string `json:"status"`
	CacheEntries int    `json:"cacheEntries"`
	GatePending  int    `json:"gatePending"`
}

// RouterOptions collects the collaborators behind the HTTP surface.
type RouterOptions struct {
	Dispatcher Dispatcher
	Catalog    *catalog.Catalog
	Metrics    http.Handler
	Health     func() HealthReport
	Logger     *slog.Logger
}

type router struct {
	dispatcher Dispatcher
	catalog    *catalog.Catalog
	health     func() HealthReport
	logger     *slog.Logger
}

// NewRouter exposes catalog endpoints as JSON passthrough routes. Every route
// accepts ?cache=false to bypass the cache.
func NewRouter(opts RouterOptions) http.Handler {
	if opts.Dispatcher == nil || opts.Catalog == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "dispatcher unavailable", http.StatusServiceUnavailable)
		})
	}
	rt := &router{
		dispatcher: opts.Dispatcher,
		catalog:    opts.Catalog,
		health:     opts.Health,
		logger:     opts.Logger,
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	rt.logger = rt.logger.With(slog.String("agent", "router"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{region}/summoners/by-name/{names}", rt.serve(func(r *http.Request, opts []catalog.Option) upstream.Request {
		return rt.catalog.SummonersByName(r.PathValue("region"), splitList(r.PathValue("names")), opts...)
	}))
	mux.HandleFunc("GET /api/{region}/summoners/{ids}", rt.serve(func(r *http.Request, opts []catalog.Option) upstream.Request {
		return rt.catalog.SummonersByID(r.PathValue("region"), splitList(r.PathValue("ids")), opts...)
	}))
	mux.HandleFunc("GET /api/{region}/masteries/{summonerId}", rt.serve(func(r *http.Request, opts []catalog.Option) upstream.Request {
		return rt.catalog.ChampionMasteries(r.PathValue("region"), r.PathValue("summonerId"), opts...)
	}))
	mux.HandleFunc("GET /api/{region}/leagues/by-summoner/{ids}", rt.serve(func(r *http.Request, opts []catalog.Option) upstream.Request {
		return rt.catalog.LeaguesBySummoner(r.PathValue("region"), splitList(r.PathValue("ids")), opts...)
	}))
	mux.HandleFunc("GET /api/{region}/matches/{matchId}", rt.serve(func(r *http.Request, opts []catalog.Option) upstream.Request {
		return rt.catalog.Match(r.PathValue("region"), r.PathValue("matchId"), opts...)
	}))
	mux.HandleFunc("GET /api/{region}/static/champions", rt.serve(func(r *http.Request, opts []catalog.Option) upstream.Request {
		query := r.URL.Query()
		return rt.catalog.StaticChampions(r.PathValue("region"), query.Get("locale"), query["tags"], opts...)
	}))
	mux.HandleFunc("GET /api/status", rt.serve(func(_ *http.Request, opts []catalog.Option) upstream.Request {
		return rt.catalog.Shards(opts...)
	}))
	mux.HandleFunc("GET /api/{region}/status", rt.serve(func(r *http.Request, opts []catalog.Option) upstream.Request {
		return rt.catalog.Shard(r.PathValue("region"), opts...)
	}))
	mux.HandleFunc("GET /healthz", rt.serveHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	return mux
}

func (rt *router) serve(build func(*http.Request, []catalog.Option) upstream.Request) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts []catalog.Option
		if raw := r.URL.Query().Get("cache"); raw != "" {
			enabled, err := strconv.ParseBool(raw)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "cache must be a boolean")
				return
			}
			opts = append(opts, catalog.WithCache(enabled))
		}

		payload, err := rt.dispatcher.Do(r.Context(), build(r, opts))
		if err != nil {
			rt.writeFailure(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}
}

func (rt *router) serveHealth(w http.ResponseWriter, _ *http.Request) {
	report := HealthReport{Status: "ok"}
	if rt.health != nil {
		report = rt.health()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (rt *router) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	var upstreamErr *upstream.Error
	if !errors.As(err, &upstreamErr) {
		rt.logger.Warn("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSONError(w, status, http.StatusText(status))
		return
	}
	body, marshalErr := json.Marshal(upstreamErr)
	if marshalErr != nil {
		writeJSONError(w, status, upstreamErr.Text)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// StatusFor maps a dispatch error to the HTTP status returned to clients.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, upstream.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upstream.ErrTransportTimeout),
		errors.Is(err, upstream.ErrResponseTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSONError(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"type": "error", "code": status, "text": text})
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
