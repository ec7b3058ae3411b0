package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options carries the cross-cutting configuration the router needs beyond
// the handler set itself.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	AdminToken      string
	CountryLookup   middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/models", app.ListModels)

	r.Route("/v1/generations", func(r chi.Router) {
		r.With(middleware.ClientGeo(opts.CountryLookup)).Post("/", app.CreateGeneration)
		r.Get("/{id}", app.GetGeneration)
		r.Post("/{id}/retry", app.RetryGeneration)
	})

	r.Post("/v1/payments/{id}/confirm", app.ConfirmPayment)

	// The provider calls back here out of band; no client auth applies.
	r.Post("/v1/provider-callback", app.ProviderCallback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(opts.AdminToken))
		r.Get("/v1/provider-callback", app.LookupCallback)
		r.Get("/v1/stats/summary", app.StatsSummary)
	})

	return r
}
