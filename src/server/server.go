package server

import (
	"context"
	"errors"
	"net/http"

	"CopenhagenIncome/src/config"
	"CopenhagenIncome/src/processor"
	"CopenhagenIncome/src/storage"
	"CopenhagenIncome/src/view"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// ErrUnknownYear is returned for a redraw request outside the data's years.
var ErrUnknownYear = errors.New("year not in data set")

// Server serves the map page and its JSON API from one prepared Dataset.
type Server struct {
	cfg        *config.Config
	dcfg       *config.DataConfig
	ds         *processor.Dataset
	layout     view.Layout
	dispatcher *view.Dispatcher
	figures    *cache.Cache
	logger     *storage.Logger
	router     *mux.Router
	handler    http.Handler
	http       *http.Server
}

// New wires routes, middleware and the slider callback.
func New(cfg *config.Config, dcfg *config.DataConfig, ds *processor.Dataset, logger *storage.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		dcfg:       dcfg,
		ds:         ds,
		layout:     view.NewLayout(dcfg.Page, ds.Years()),
		dispatcher: view.NewDispatcher(),
		figures:    newFigureCache(cfg.CacheTTL.Std()),
		logger:     logger,
		router:     mux.NewRouter(),
	}

	s.dispatcher.OnYear(view.SliderID, func(year int) (interface{}, error) {
		return s.figure(year)
	})

	s.routes()

	s.router.Use(RecoveryMiddleware(logger))
	s.router.Use(LoggingMiddleware(logger))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		MaxAge:         86400,
	})
	s.handler = corsHandler.Handler(s.router)

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/logs", s.handleLogs).Methods("GET")

	// full paths on the root router so a wrong method gets 405, not 404
	s.router.HandleFunc("/api/layout", s.handleLayout).Methods("GET")
	s.router.HandleFunc("/api/figure/{year:[0-9]+}", s.handleFigure).Methods("GET")
	s.router.HandleFunc("/api/events", s.handleEvent).Methods("POST")
	s.router.HandleFunc("/api/districts", s.handleDistricts).Methods("GET")
	s.router.HandleFunc("/api/districts/{id}/trend.png", s.handleTrend).Methods("GET")
	s.router.HandleFunc("/api/export.xlsx", s.handleExport).Methods("GET")
}

// Handler is the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }

// ListenAndServe blocks until the server stops. After Shutdown it returns
// nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}
