package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfotel "github.com/harnessforge/harnessforge/internal/adapter/otel"
	"github.com/harnessforge/harnessforge/internal/config"
)

// NewRouter builds the status server: middleware, the API routes and, when
// ws is non-nil, the live event stream at /ws.
func NewRouter(h *Handlers, ws http.HandlerFunc, cfg config.Server, serviceName string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(CORS(cfg.CORSOrigin))
	r.Use(SecurityHeaders)
	r.Use(cfotel.HTTPMiddleware(serviceName))

	r.Get("/health", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}
	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Handler)
		}
		MountRoutes(r, h)
	})
	return r
}

// MountRoutes registers the API routes on r.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/records", h.ListRecords)
		r.Get("/summary", h.Summary)
	})
}
