package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sigmalens/config"
	"sigmalens/convert"
	"sigmalens/search"
	"sigmalens/sigma"
)

// InitCache builds the conversion cache selected by cache.backend. It
// returns nil for the "none" backend. A Redis server that cannot be reached
// at startup degrades to the in-memory cache.
func InitCache(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) convert.Cache {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		sugar.Info("Conversion cache disabled by configuration")
		return nil
	case config.CacheRedis:
		rc := convert.NewRedisCache(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, cfg.Cache.TTL, sugar)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rc.Ping(pingCtx); err != nil {
			sugar.Warnw("Redis unavailable, falling back to in-memory conversion cache",
				"addr", cfg.Cache.Redis.Addr,
				"hint", ClassifyConnectionError(err, "Redis", cfg.Cache.Redis.Addr))
			_ = rc.Close()
			return convert.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL)
		}
		sugar.Infow("Redis conversion cache connected", "addr", cfg.Cache.Redis.Addr)
		return rc
	default:
		sugar.Infow("In-memory conversion cache enabled", "size", cfg.Cache.Size, "ttl", cfg.Cache.TTL)
		return convert.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL)
	}
}

// InitConverter builds the conversion service client.
func InitConverter(cfg *config.Config, cache convert.Cache, sugar *zap.SugaredLogger) (*convert.Client, error) {
	cb := cfg.Conversion.CircuitBreaker
	client, err := convert.NewClient(convert.Options{
		BaseURL:   cfg.Conversion.BaseURL,
		Timeout:   cfg.Conversion.Timeout,
		RateLimit: cfg.Conversion.RateLimit,
		Burst:     cfg.Conversion.Burst,
		Breaker: convert.BreakerConfig{
			MaxFailures:         cb.MaxFailures,
			Timeout:             cb.Timeout,
			MaxHalfOpenRequests: cb.MaxHalfOpenRequests,
		},
		Cache: cache,
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conversion client: %w", err)
	}
	return client, nil
}

// InitSearcher builds the searcher. With search disabled every query is
// answered by the local filter.
func InitSearcher(cfg *config.Config, sugar *zap.SugaredLogger) *search.Searcher {
	if !cfg.Search.Enabled {
		sugar.Info("Advanced search disabled, using local filter only")
		return search.NewSearcher(nil, sugar)
	}
	return search.NewSearcher(search.NewClient(cfg.Search.BaseURL, cfg.Search.Timeout), sugar)
}

// InitCatalog loads the rules directory.
func InitCatalog(cfg *config.Config, sugar *zap.SugaredLogger) (*sigma.Catalog, error) {
	if err := EnsureRulesDirectory(cfg.Rules.Dir, sugar); err != nil {
		return nil, err
	}
	catalog := sigma.NewCatalog(cfg.Rules.Dir, sugar)
	if _, err := catalog.Load(); err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", cfg.Rules.Dir, err)
	}
	return catalog, nil
}

// InitWatcher watches the rules directory and drops cached conversions of
// rules that change on disk.
func InitWatcher(cfg *config.Config, catalog *sigma.Catalog, client *convert.Client, sugar *zap.SugaredLogger) (*sigma.Watcher, error) {
	onChange := func(changed []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Invalidate(ctx, changed...); err != nil {
			sugar.Warnw("Failed to invalidate cached conversions",
				"rules", len(changed),
				"error", err)
		}
	}
	w, err := sigma.NewWatcher(catalog, cfg.Rules.ReloadDelay, onChange, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to watch rules directory: %w", err)
	}
	return w, nil
}
