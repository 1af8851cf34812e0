package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/masgate/internal/api/v1"
	"github.com/gosuda/masgate/internal/api/ws"
	"github.com/gosuda/masgate/internal/auth"
	"github.com/gosuda/masgate/internal/config"
	"github.com/gosuda/masgate/internal/server/middleware"
)

// Options carries the collaborators the router is built from. Traces and
// PubSub are optional; their routes are not mounted when nil.
type Options struct {
	Invoker  Invoker
	Catalog  v1.AgentCatalog
	Registry v1.DeploymentRegistry
	Traces   v1.TraceStore
	PubSub   ws.Subscriber
	// Assets is the chat frontend. When set it is served on all unmatched routes.
	Assets fs.FS
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server with all routes wired. ctx bounds background work such
// as rate limiter cleanup.
func New(ctx context.Context, cfg *config.Config, opts Options) *Server {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Forwarded-Access-Token"},
		ExposedHeaders:   []string{"X-Request-ID", HeaderClientRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// Chat invocation. Streams clear their own write deadline.
	router.With(middleware.RateLimitByIP(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateBurst)).
		Post("/api/invoke_endpoint", newInvokeHandler(opts.Invoker).ServeHTTP)

	// Management API.
	router.Route("/api/v1", func(r chi.Router) {
		if cfg.JWT.Secret != "" {
			r.Use(middleware.Auth(cfg.JWT.Secret))
			r.Use(middleware.RequireRole(auth.RoleViewer, auth.RoleAdmin))
			r.Use(middleware.RateLimit(ctx, 20*cfg.Server.RateLimitRPS, 20*cfg.Server.RateBurst))
		}

		apiConfig := huma.DefaultConfig("masgate API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, opts)
	})

	if opts.PubSub != nil {
		router.Route("/ws", func(r chi.Router) {
			if cfg.JWT.Secret != "" {
				r.Use(middleware.Auth(cfg.JWT.Secret))
			}
			registerWSRoutes(r, ws.NewHub(opts.PubSub))
		})
	}

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Must be registered last so API routes take priority.
	if opts.Assets != nil {
		router.NotFound(spaFileServer(opts.Assets).ServeHTTP)
		log.Info().Msg("server: serving chat frontend")
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
