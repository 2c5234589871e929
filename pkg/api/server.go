// Package api implements the item store HTTP API: stateless CRUD handlers
// that validate input, compute minimal partial mutations, and invoke the
// configured store backend.
package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/httputil"
	mw "github.com/edgeloop/itemd/pkg/httputil/middleware"
	"github.com/edgeloop/itemd/pkg/store"
)

// Server serves the item CRUD endpoints over a store backend.
type Server struct {
	store       store.Store
	environment string
	router      *httputil.Router
	logger      *zap.Logger
}

// NewServer wires the handlers and default middleware (request id, CORS,
// request logging) onto a router.
func NewServer(st store.Store, environment string, logger *zap.Logger) *Server {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	s := &Server{
		store:       st,
		environment: environment,
		router:      httputil.NewRouter(),
		logger:      logger,
	}

	s.router.Use(
		mw.RequestID,
		mw.CORSWithOptions(nil),
		mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}),
	)

	s.router.Handle("GET /items", http.HandlerFunc(s.handleList))
	s.router.Handle("GET /items/{id}", http.HandlerFunc(s.handleGet))
	s.router.Handle("POST /items", http.HandlerFunc(s.handleCreate))
	s.router.Handle("PUT /items/{id}", http.HandlerFunc(s.handleUpdate))
	s.router.Handle("DELETE /items/{id}", http.HandlerFunc(s.handleDelete))

	return s
}

// Handler returns the full handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router.Handler()
}

// Start begins serving on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting item API server", zap.String("addr", addr))
	return s.router.ListenAndServe(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}
