package httputil

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
)

// Router is the main structure for handling HTTP routing and middleware.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	middleware []Middleware
	mu         sync.RWMutex
}

// NewRouter creates a new instance of Router.
func NewRouter() *Router {
	return &Router{
		mux:    http.NewServeMux(),
		server: &http.Server{},
	}
}

// Use adds one or more middleware to the router. Middleware functions are
// applied in the order they are added.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	if len(additional) > 0 {
		r.middleware = append(r.middleware, additional...)
	}
}

// Handle registers an HTTP handler function for a given method and pattern as
// introduced in Go 1.22's routing enhancements, e.g. "GET /items/{id}".
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	parts := strings.SplitN(methodPattern, " ", 2)
	if len(parts) != 2 {
		log.Fatalf("invalid method pattern: %s", methodPattern)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	r.mux.Handle(fmt.Sprintf("%s %s", parts[0], parts[1]), handler)
}

// Handler returns the router's handler with all middleware applied, outermost
// first. Useful for httptest servers.
func (r *Router) Handler() http.Handler {
	return r.applyMiddleware()
}

// ListenAndServe starts the HTTP server.
func (r *Router) ListenAndServe(addr string) error {
	r.server.Addr = addr
	r.server.Handler = r.applyMiddleware()
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	log.Println("shutting down server")
	return r.server.Shutdown(ctx)
}

// applyMiddleware applies middleware to the http.Handler and returns a new http.Handler.
func (r *Router) applyMiddleware() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handler http.Handler = r.mux
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	return handler
}
