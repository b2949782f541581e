package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const catalogCacheKey = "kiosk:catalog"

// ProductFetcher is the catalog side of the backend client.
type ProductFetcher interface {
	GetProducts(ctx context.Context) ([]Product, error)
}

// CatalogService serves the booth catalog to the display shell, caching it in
// Redis so the product grid does not hit the backend on every render.
type CatalogService struct {
	fetcher ProductFetcher
	cache   *RedisCache
	ttl     time.Duration
	logger  *zap.SugaredLogger
}

func NewCatalogService(fetcher ProductFetcher, cache *RedisCache, logger *zap.SugaredLogger) *CatalogService {
	return &CatalogService{
		fetcher: fetcher,
		cache:   cache,
		ttl:     time.Minute,
		logger:  logger,
	}
}

func (s *CatalogService) Products(ctx context.Context) ([]Product, error) {
	if s.cache == nil {
		return s.fetcher.GetProducts(ctx)
	}
	return GetOrSet(s.cache, ctx, catalogCacheKey, s.ttl, func() ([]Product, error) {
		return s.fetcher.GetProducts(ctx)
	})
}

// Refresh drops the cached catalog so the next read hits the backend.
func (s *CatalogService) Refresh(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, catalogCacheKey); err != nil {
		s.logger.Warnw("catalog cache refresh failed", "err", err)
	}
}
