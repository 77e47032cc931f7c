package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Ad-Bean/airouter-sub000/internal/http/handlers"
	"github.com/Ad-Bean/airouter-sub000/internal/middleware"
)

// Options carries router-level configuration.
type Options struct {
	Logger          zerolog.Logger
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
}

// NewRouter wires the HTTP surface: an unauthenticated health probe and image
// byte endpoint, plus the authenticated /v1 API.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N("en", opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	// Display URLs are unguessable UUIDs; expiry is enforced here, ownership
	// on the listing endpoint.
	r.Get("/images/{image_id}", app.ImageServe)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}
		r.Post("/v1/generations", app.GenerationsCreate)
		r.Get("/v1/messages/{message_id}", app.MessageGet)
		r.Get("/v1/images", app.ImagesList)
	})

	return r
}
