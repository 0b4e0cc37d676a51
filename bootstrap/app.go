package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sigmalens/api"
	"sigmalens/config"
	"sigmalens/convert"
	"sigmalens/search"
	"sigmalens/sigma"
)

// App holds every long-lived component of the server.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Rules
	Catalog *sigma.Catalog
	Watcher *sigma.Watcher

	// Services
	Cache     convert.Cache
	Converter *convert.Client
	Searcher  *search.Searcher
	APIServer *api.API

	shutdownTracer func(context.Context) error

	// Lifecycle
	serviceWg *sync.WaitGroup
	cancel    context.CancelFunc
}

// NewApp loads configuration and builds every component. Nothing is
// started until Start.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{serviceWg: &sync.WaitGroup{}}

	// Bootstrap logger until the configured level is known
	_, bootSugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := InitConfig(bootSugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar
	sugar.Info("sigmalens starting...")

	app.shutdownTracer, err = InitTracer(cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Catalog, err = InitCatalog(cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Cache = InitCache(ctx, cfg, sugar)
	app.Converter, err = InitConverter(cfg, app.Cache, sugar)
	if err != nil {
		return nil, err
	}
	app.Searcher = InitSearcher(cfg, sugar)

	if cfg.Rules.Watch {
		app.Watcher, err = InitWatcher(cfg, app.Catalog, app.Converter, sugar)
		if err != nil {
			sugar.Errorw("Rule watcher unavailable, changes on disk need a restart", "error", err)
		}
	}

	app.APIServer, err = api.NewAPI(app.Catalog, app.Converter, app.Searcher, cfg, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API: %w", err)
	}
	return app, nil
}

// Start starts the rule watcher and the API server.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.Watcher != nil {
		a.serviceWg.Add(1)
		go func() {
			defer a.serviceWg.Done()
			a.Watcher.Run(ctx)
		}()
	}

	addr := a.Config.Addr()
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Sugar.Errorw("API server panicked", "panic", r)
			}
		}()
		a.Sugar.Infow("API server listening", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "addr", addr, "error", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Phase 2: Stopping rule watcher...")
	if a.cancel != nil {
		a.cancel()
	}
	if a.Watcher != nil {
		if err := a.Watcher.Close(); err != nil {
			a.Sugar.Errorw("Failed to close rule watcher", "error", err)
		}
	}

	a.Sugar.Info("Phase 3: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 4: Closing connections...")
	if rc, ok := a.Cache.(*convert.RedisCache); ok {
		if err := rc.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracer(ctx); err != nil {
			a.Sugar.Errorw("Failed to flush traces", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
