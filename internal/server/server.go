// Package server exposes the rarity engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/metrics"
	"goflare.io/rarity/internal/models"
)

// Service is the engine surface the handlers depend on.
type Service interface {
	CollectionRarity(ctx context.Context, apiKey, token string, page, limit int) (*models.CollectionPage, error)
	NFTImages(ctx context.Context, apiKey, token string, serials []int) (map[int]models.ImageInfo, error)
}

// Options wires a Server.
type Options struct {
	Config       config.ServerConfig
	DefaultLimit int
	// Stats feeds /healthz. It may be nil.
	Stats   func() any
	Metrics *metrics.Registry
	Logger  *zap.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	router  *mux.Router
	server  *http.Server
	service Service
	opts    Options
	logger  *zap.Logger
}

// New creates a new Server instance.
func New(service Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = config.DefaultLimit
	}

	s := &Server{
		router:  mux.NewRouter(),
		service: service,
		opts:    opts,
		logger:  opts.Logger,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         opts.Config.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/collection-rarity", s.collectionRarity).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/nft-images", s.nftImages).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/healthz", s.health).Methods(http.MethodGet, http.MethodOptions)

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// ShutdownTimeout returns how long Shutdown may take.
func (s *Server) ShutdownTimeout() time.Duration {
	if s.opts.Config.ShutdownTimeout <= 0 {
		return 15 * time.Second
	}
	return s.opts.Config.ShutdownTimeout
}
