/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard
  5. Session:    X-User-ID / X-User-Role headers -> dispatch.Session

ROUTE GROUPS:
  /api/tankers/*        Tanker registry
  /api/tanker-days/*    Days, trips, exceptions, balances
  /api/exceptions       Exceptions register
  /api/reports/*        Reports (JSON, CSV, XLSX)
  /api/pods/*           POD file download
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Admin operations
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SECURITY NOTE:
  The session headers are trusted as-is. Deploy behind an authenticating
  proxy that sets them.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/tanker-dispatch/dispatch"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     http.Handler // served at /metrics when set
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRole},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(SessionMiddleware)

		r.Route("/tankers", func(r chi.Router) {
			r.Get("/", h.ListTankers)
			r.Post("/", h.CreateTanker)
			r.Get("/{id}", h.GetTanker)
		})

		r.Route("/tanker-days", func(r chi.Router) {
			r.Get("/", h.ListTankerDays)
			r.Post("/", h.CreateTankerDay)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTankerDay)
				r.Get("/balances", h.GetBalances)
				r.Post("/submit", h.SubmitTankerDay)
				r.Post("/return", h.ReturnTankerDay)
				r.Post("/approve", h.ApproveTankerDay)

				r.Post("/trips", h.CreateTrip)
				r.Route("/trips/{seq}", func(r chi.Router) {
					r.Post("/depart", h.DepartTrip)
					r.Post("/deliver", h.RecordDelivery)
					r.Post("/pod", h.UploadPOD)
					r.Get("/pod", h.ListPODFiles)
					r.Post("/cancel", h.CancelTrip)
				})

				r.Post("/exceptions", h.RaiseException)
				r.Post("/exceptions/{exceptionID}/clear", h.ClearException)
			})
		})

		r.Get("/exceptions", h.ListExceptions)
		r.Get("/stats", h.GetStats)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Get("/{name}", h.GetReport)
		})

		r.Get("/pods/*", h.DownloadPOD)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// SessionMiddleware builds the caller's session from request headers.
// Unknown or missing roles become viewer, which can only read.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := dispatch.Session{
			UserID: r.Header.Get(HeaderUserID),
			Role:   dispatch.ParseRole(r.Header.Get(HeaderUserRole)),
		}
		next.ServeHTTP(w, r.WithContext(dispatch.WithSession(r.Context(), sess)))
	})
}
