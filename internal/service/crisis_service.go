package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
)

type crisisLister interface {
	crisisReader
	List(ctx context.Context, filter models.CrisisFilter) ([]models.Crisis, int, error)
}

type feedCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type crisisFeedPage struct {
	Crises     []models.Crisis   `json:"crises"`
	Pagination models.Pagination `json:"pagination"`
}

// CrisisService serves the read-only crisis feed. List results are cached
// in Redis per filter combination; the cache is best effort and every
// failure falls through to Postgres.
type CrisisService struct {
	crises   crisisLister
	cache    feedCache
	metrics  *MetricsService
	logger   *zap.Logger
	cacheTTL time.Duration
}

func NewCrisisService(crises crisisLister, cache feedCache, metrics *MetricsService, logger *zap.Logger, cacheTTL time.Duration) *CrisisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &CrisisService{crises: crises, cache: cache, metrics: metrics, logger: logger, cacheTTL: cacheTTL}
}

// List returns a filtered, paginated crisis feed.
func (s *CrisisService) List(ctx context.Context, filter models.CrisisFilter) ([]models.Crisis, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	cacheKey := fmt.Sprintf("feed:crises:%s:%s:%d:%d:%d",
		filter.Status, filter.DisasterType, filter.MinSeverity, filter.Page, filter.PageSize)

	if s.cache != nil {
		var cached crisisFeedPage
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return cached.Crises, &cached.Pagination, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("crisis feed cache read failed", zap.String("key", cacheKey), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	crises, total, err := s.crises.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list crises")
	}
	pagination := models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}

	if s.cache != nil {
		page := crisisFeedPage{Crises: crises, Pagination: pagination}
		if err := s.cache.Set(ctx, cacheKey, page, s.cacheTTL); err != nil {
			s.logger.Warn("crisis feed cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return crises, &pagination, nil
}

// Get returns a single crisis by ID.
func (s *CrisisService) Get(ctx context.Context, id string) (*models.Crisis, error) {
	crisis, err := s.crises.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "crisis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load crisis")
	}
	return crisis, nil
}
