// Package core wires the cache, catalog, search engine and performance
// monitor into one service container with a defined lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/DjangoSpop/promptemple-sub000/pkg/cache"
	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/config"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/DjangoSpop/promptemple-sub000/pkg/perf"
	"github.com/DjangoSpop/promptemple-sub000/pkg/search"
)

// Services holds the long-lived components of the search service
type Services struct {
	Cache   *cache.TieredCache
	L2      *cache.ResilientStore
	Catalog catalog.Catalog
	Engine  *search.Engine
	Monitor *perf.Monitor
	Warmer  *search.Warmer

	logger  observability.Logger
	closers []io.Closer
}

// Options carries the shared observability components
type Options struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient
	Tracer  observability.Tracer
	// Catalog overrides the configured catalog driver
	Catalog catalog.Catalog
	// L2 overrides the configured Redis tier
	L2 cache.RemoteStore
}

// NewServices builds every component from cfg
func NewServices(ctx context.Context, cfg *config.Config, opts Options) (*Services, error) {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger("search-api")
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewNoOpMetricsClient()
	}

	s := &Services{logger: opts.Logger}

	l2 := opts.L2
	if l2 == nil && cfg.Cache.L2Enabled {
		s.L2 = cache.NewResilientStore(
			cache.NewRedisStore(cfg.Cache.Redis),
			cfg.Cache.Resilience,
			opts.Logger.WithPrefix("cache.l2"),
			opts.Metrics,
		)
		l2 = s.L2
	}

	tiered, err := cache.NewTieredCache(cfg.Cache.Config, l2, opts.Logger.WithPrefix("cache"), opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	s.Cache = tiered
	s.closers = append(s.closers, tiered)

	s.Catalog = opts.Catalog
	if s.Catalog == nil {
		s.Catalog, err = openCatalog(ctx, cfg.Catalog)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if c, ok := s.Catalog.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
	}

	s.Monitor = perf.NewMonitor(cfg.Performance, tiered, opts.Logger.WithPrefix("perf"), opts.Metrics)

	s.Engine, err = search.NewEngine(cfg.Search, search.Dependencies{
		Catalog: s.Catalog,
		Cache:   tiered,
		Monitor: s.Monitor,
		Logger:  opts.Logger.WithPrefix("search"),
		Metrics: opts.Metrics,
		Tracer:  opts.Tracer,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create search engine: %w", err)
	}

	s.Warmer = search.NewWarmer(s.Engine, cfg.Warmer, opts.Logger.WithPrefix("search.warmer"))

	opts.Logger.Info("Services initialized", map[string]interface{}{
		"catalog_driver": cfg.Catalog.Driver,
		"l2_enabled":     l2 != nil,
		"l1_max_items":   tiered.Config().L1MaxItems,
	})
	return s, nil
}

func openCatalog(ctx context.Context, cfg config.CatalogConfig) (catalog.Catalog, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := catalog.NewPostgresCatalog(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres catalog: %w", err)
		}
		return pg, nil
	case config.DriverMemory, "":
		if cfg.SeedFile == "" {
			return catalog.NewMemoryCatalog(), nil
		}
		mem, err := catalog.LoadMemoryCatalog(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

// Close releases the cache and catalog connections
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("Failed to close services cleanly", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}
