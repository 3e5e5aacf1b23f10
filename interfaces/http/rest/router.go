package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"proofcanvas/application/ports"
	"proofcanvas/interfaces/http/rest/handlers"
	"proofcanvas/interfaces/http/rest/middleware"
	"proofcanvas/interfaces/websocket"
	"proofcanvas/pkg/auth"
	"proofcanvas/pkg/observability"
)

// Pinger is implemented by dependencies that can report readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Relay is what the router needs from the websocket side
type Relay interface {
	handlers.RoomReader
	Instance() string
	RoomCount() int
}

// RouterOptions holds the router dependencies. Metrics, Presence and Ready are optional.
type RouterOptions struct {
	Relay          Relay
	WebSocket      http.HandlerFunc
	JWT            *auth.JWTService
	Presence       ports.PresenceStore
	Metrics        *observability.Collector
	Ready          []Pinger
	AllowedOrigins []string
	RateLimit      int
	Logger         *zap.Logger
}

// Router creates and configures the HTTP router
type Router struct {
	opts   RouterOptions
	logger *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 100
	}
	return &Router{opts: opts, logger: opts.Logger}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.opts.Metrics != nil {
		router.Use(middleware.Metrics(rt.opts.Metrics))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.opts.Metrics != nil {
		router.Handle("/metrics", rt.opts.Metrics.Handler())
	}
	router.Get("/ws", rt.opts.WebSocket)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.opts.JWT, rt.opts.RateLimit, rt.logger))

		problems := handlers.NewProblemHandler(rt.opts.Relay, rt.opts.Presence, rt.logger)
		r.Get("/me", problems.Me)
		r.Route("/problems/{problemID}", func(r chi.Router) {
			r.Get("/presence", problems.GetPresence)
			r.Get("/state", problems.GetState)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"instance": rt.opts.Relay.Instance(),
		"rooms":    rt.opts.Relay.RoomCount(),
	})
}

// readinessCheck pings every dependency that supports it
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	for _, p := range rt.opts.Ready {
		if err := p.Ping(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

var _ Relay = (*websocket.Hub)(nil)
