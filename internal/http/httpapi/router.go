package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genstudio/internal/http/handlers"
	"genstudio/internal/infra"
	"genstudio/internal/middleware"
)

// Deps carries the optional pieces of the router.
type Deps struct {
	Logger        *infra.Logger
	DefaultLocale string
	CountryLookup middleware.CountryLookup
	// RateLimitPerMin limits generation submits per client IP. Zero disables it.
	RateLimitPerMin int
	CORSOrigins     []string
	// Static serves mirrored artifacts under /static when set.
	Static http.Handler
}

func NewRouter(app *handlers.App, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
	)
	if deps.Logger != nil {
		r.Use(middleware.Logger(*deps.Logger))
	}
	if len(deps.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.CORSOrigins))
	}

	r.Method(http.MethodGet, "/metrics", app.Metrics())
	if deps.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static", deps.Static))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.I18N(deps.DefaultLocale, deps.CountryLookup))

		r.Get("/healthz", app.Health)
		r.Get("/artifacts", app.ArtifactsList)
		r.Post("/sessions", app.SessionsCreate)
		r.Route("/sessions/{sid}", func(r chi.Router) {
			r.Delete("/", app.SessionsDelete)
			r.Get("/events", app.Events)
			r.Route("/generations", func(r chi.Router) {
				r.Get("/", app.GenerationsList)
				r.With(rateLimit(deps.RateLimitPerMin)...).Post("/", app.GenerationsCreate)
				r.Get("/{id}", app.GenerationsGet)
				r.Delete("/{id}", app.GenerationsCancel)
			})
		})
	})

	return r
}

func rateLimit(perMin int) []func(http.Handler) http.Handler {
	if perMin <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{middleware.RateLimit(perMin, time.Minute)}
}
