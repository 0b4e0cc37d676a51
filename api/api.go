// Package api serves the rule viewer over HTTP: catalog listing and search,
// per-client viewing sessions and conversion cache control.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sigmalens/config"
	"sigmalens/convert"
	"sigmalens/search"
	"sigmalens/sigma"
	"sigmalens/viewer"
)

// RuleCatalog lists the rules available for viewing. *sigma.Catalog
// implements it.
type RuleCatalog interface {
	Records() []search.RuleRecord
	Lookup(path string) (*sigma.Rule, error)
	Stats() sigma.CatalogStats
}

// Converter fetches conversions and controls their cache. *convert.Client
// implements it.
type Converter interface {
	viewer.Converter
	Invalidate(ctx context.Context, rulePaths ...string) error
	InvalidateAll(ctx context.Context) error
	BreakerState() convert.BreakerState
}

// API holds the API server
type API struct {
	router    *mux.Router
	server    *http.Server
	catalog   RuleCatalog
	converter Converter
	searcher  *search.Searcher
	sessions  *SessionStore
	config    *config.Config
	logger    *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates a new API server
func NewAPI(catalog RuleCatalog, converter Converter, searcher *search.Searcher, cfg *config.Config, logger *zap.SugaredLogger) (*API, error) {
	sessions, err := NewSessionStore(cfg.API.MaxSessions, converter, logger)
	if err != nil {
		return nil, err
	}

	a := &API{
		router:       mux.NewRouter(),
		catalog:      catalog,
		converter:    converter,
		searcher:     searcher,
		sessions:     sessions,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a, nil
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/health", a.getHealth).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	a.router.HandleFunc("/api/rules", a.getRules).Methods("GET")
	a.router.HandleFunc("/api/rules/search", a.searchRules).Methods("POST")
	a.router.HandleFunc("/api/rules/search/ws", a.searchRulesWS).Methods("GET")

	a.router.HandleFunc("/api/sessions", a.createSession).Methods("POST")
	a.router.HandleFunc("/api/sessions/{id}", a.deleteSession).Methods("DELETE")
	a.router.HandleFunc("/api/sessions/{id}/open", a.openRule).Methods("POST")
	a.router.HandleFunc("/api/sessions/{id}/view", a.getView).Methods("GET")
	a.router.HandleFunc("/api/sessions/{id}/structured", a.showStructured).Methods("POST")
	a.router.HandleFunc("/api/sessions/{id}/groups/{gid}/toggle", a.toggleGroup).Methods("POST")
	a.router.HandleFunc("/api/sessions/{id}/nodes/{nid}", a.getNode).Methods("GET")
	a.router.HandleFunc("/api/sessions/{id}/raw", a.getRaw).Methods("GET")
	a.router.HandleFunc("/api/sessions/{id}/export", a.exportView).Methods("GET")

	a.router.HandleFunc("/api/cache/refresh", a.refreshCache).Methods("POST")
}

// Handler returns the routed handler, for tests and embedding.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  a.config.API.ReadTimeout,
		WriteTimeout: a.config.API.WriteTimeout,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server and closes every session.
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.sessions.Purge()
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
