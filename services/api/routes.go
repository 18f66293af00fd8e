package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pipemock/pkg/telemetry"
	"pipemock/services/simulator"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// BaseURL prefixes web_url. Empty derives it from the request.
	BaseURL   string
	MockToken string

	AllowReset          bool
	RequireTerminalRule bool

	// Catalog is seeded after the built-in scenarios, and again on reset.
	Catalog []simulator.Scenario

	AllowedOrigins []string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int

	// Now is the clock used for every status computation.
	Now func() time.Time
}

// API wires the store, configuration and event publisher for HTTP handlers.
type API struct {
	store     *Store
	config    Config
	logger    zerolog.Logger
	publisher Publisher
	metrics   *metrics
}

// New initialises the API layer. publisher may be nil.
func New(store *Store, cfg Config, logger zerolog.Logger, publisher Publisher) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if cfg.MockToken == "" {
		return nil, errors.New("mock token is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &API{
		store:     store,
		config:    cfg,
		logger:    logger,
		publisher: publisher,
		metrics:   newMetrics(),
	}, nil
}

func (a *API) now() time.Time { return a.config.Now().UTC() }

// Seeds returns the built-in scenarios followed by the configured catalog.
func (a *API) Seeds() []simulator.Scenario {
	seeds := simulator.DefaultScenarios()
	return append(seeds, a.config.Catalog...)
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.RequestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "PRIVATE-TOKEN"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))
	if a.config.RateLimit > 0 {
		r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))
	}

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.metrics.registry, promhttp.HandlerOpts{}))

	root := r
	r.Group(func(r chi.Router) {
		r.Use(a.requireToken)

		r.Post("/projects/{project_id}/trigger/pipeline", a.handleTrigger)
		r.Get("/projects/{project_id}/pipelines/{pipeline_id}", a.handleGetPipeline)

		r.Route("/_mock", func(r chi.Router) {
			r.Get("/pipelines", a.handleListPipelines)
			r.Delete("/pipelines/{pipeline_id}", a.handleDeletePipeline)

			r.Get("/scenarios", a.handleListScenarios)
			r.Post("/scenarios", a.handleCreateScenario)
			r.Get("/scenarios/{scenario_id}", a.handleGetScenario)
			r.Put("/scenarios/{scenario_id}", a.handleUpdateScenario)
			r.Delete("/scenarios/{scenario_id}", a.handleDeleteScenario)

			if a.config.AllowReset {
				r.Post("/reset", a.handleReset)
			}
			r.Get("/routes", a.handleRoutes(root))
		})
	})

	return r, nil
}

// requireToken accepts the shared secret from PRIVATE-TOKEN or, when that
// header is absent, from an Authorization bearer credential. It runs before
// any body is read.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("PRIVATE-TOKEN")
		if provided == "" {
			provided = bearerToken(r.Header.Get("Authorization"))
		}
		if provided == "" || provided != a.config.MockToken {
			respondError(w, http.StatusUnauthorized, errors.New("invalid or missing token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return token
}

func (a *API) baseURL(r *http.Request) string {
	if a.config.BaseURL != "" {
		return a.config.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
