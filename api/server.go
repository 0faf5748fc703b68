/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. httplog:    Structured request logging (ECS schema)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Heartbeat:  /healthz liveness probe

ROUTE GROUPS:
  /api/workers/*  Worker self-service
  /api/admin/*    Administrator operations (X-Requester-ID)

SECURITY NOTE:
  No authentication. Admin routes trust the X-Requester-ID header and only
  check it against the configured administrator list.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"io"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	// AllowedOrigins for CORS; defaults to any origin.
	AllowedOrigins []string
	// AccessLog receives request logs; nil disables them.
	AccessLog io.Writer
	LogLevel  slog.Level
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.AccessLog != nil {
		r.Use(httplog.RequestLogger(NewAccessLogger(opts.AccessLog, opts.LogLevel), &httplog.Options{
			Level:  opts.LogLevel,
			Schema: httplog.SchemaECS,
		}))
	}
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", RequesterHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.Heartbeat("/healthz"))

	r.Route("/api", func(r chi.Router) {
		r.Route("/workers", func(r chi.Router) {
			r.Post("/", h.Register)
			r.Get("/{id}", h.GetAccount)
			r.Post("/{id}/punches", h.RecordPunch)
			r.Get("/{id}/punches", h.ListPunches)
			r.Get("/{id}/next", h.NextActions)
			r.Get("/{id}/shift", h.PreviewShift)
			r.Get("/{id}/transactions", h.ListTransactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/balances", h.ListBalances)
			r.Post("/backfill", h.Backfill)
			r.Post("/payouts", h.BeginPayout)
			r.Put("/payouts/payee", h.SelectPayee)
			r.Put("/payouts/amount", h.CompletePayout)
			r.Delete("/payouts", h.CancelPayout)
			r.Get("/export", h.Export)
		})
	})

	return r
}

// NewAccessLogger builds the JSON logger used for request logs, with
// attribute names rewritten to the ECS schema.
func NewAccessLogger(w io.Writer, level slog.Level) *slog.Logger {
	logFormat := httplog.SchemaECS.Concise(false)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "timeclock"),
	)
}
