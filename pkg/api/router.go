package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RouteRegistrar mounts additional authenticated routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// RouterConfig wires the handler into an http.Handler
type RouterConfig struct {
	Handler *Handler

	// Authenticate guards every route except /healthz and /metrics (required)
	Authenticate func(http.Handler) http.Handler

	// Gate runs in front of POST /ask, usually middleware/http.BalanceGate
	Gate func(http.Handler) http.Handler

	// Routes are mounted behind Authenticate, e.g. the fund data handler
	Routes []RouteRegistrar

	// Health reports readiness on /healthz
	Health func(ctx context.Context) error

	// Metrics is served on /metrics when set
	Metrics http.Handler

	CORS   cors.Options
	Logger zerolog.Logger
}

// DefaultCORS mirrors the browser client's needs: any origin, JSON bodies, bearer auth.
func DefaultCORS() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"X-Question-Tokens"},
		MaxAge:         300,
	}
}

// NewRouter builds the HTTP API
func NewRouter(config RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(config.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)
	r.Use(cors.New(config.CORS).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if config.Health != nil {
			if err := config.Health(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(config.Authenticate)

		r.Get("/tokens", config.Handler.GetTokens)
		r.Post("/tokens", config.Handler.PostTokens)

		ask := http.Handler(http.HandlerFunc(config.Handler.Ask))
		if config.Gate != nil {
			ask = config.Gate(ask)
		}
		r.Method(http.MethodPost, "/ask", ask)

		for _, routes := range config.Routes {
			routes.Register(r)
		}
	})

	return r
}
