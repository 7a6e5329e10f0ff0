package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

const reportListCachePrefix = "reports:list:"

// CacheRepository abstracts persistence for cached report listings.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type cachedReportList struct {
	Reports    []models.Report   `json:"reports"`
	Pagination models.Pagination `json:"pagination"`
}

// ReportListCache keeps admin review pages in Redis. Every report write
// purges all pages. A nil or disabled cache misses on every lookup.
type ReportListCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewReportListCache constructs the cache.
func NewReportListCache(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *ReportListCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportListCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled reports whether lookups can hit.
func (c *ReportListCache) Enabled() bool {
	return c != nil && c.enabled && c.repo != nil
}

// Cacheable reports whether a filter describes a shared page. Lists scoped
// to one author are never cached.
func (c *ReportListCache) Cacheable(filter models.ReportFilter) bool {
	return c.Enabled() && filter.AuthorID == ""
}

// Lookup returns the cached page for the filter.
func (c *ReportListCache) Lookup(ctx context.Context, filter models.ReportFilter) ([]models.Report, *models.Pagination, bool) {
	if !c.Cacheable(filter) {
		return nil, nil, false
	}
	key := listCacheKey(filter)
	start := time.Now()
	var cached cachedReportList
	err := c.repo.Get(ctx, key, &cached)
	c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			c.logger.Warn("report list cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, nil, false
	}
	p := cached.Pagination
	return cached.Reports, &p, true
}

// Store saves a page. Failures are logged and otherwise ignored.
func (c *ReportListCache) Store(ctx context.Context, filter models.ReportFilter, reports []models.Report, pagination models.Pagination) {
	if !c.Cacheable(filter) {
		return
	}
	key := listCacheKey(filter)
	start := time.Now()
	err := c.repo.Set(ctx, key, cachedReportList{Reports: reports, Pagination: pagination}, c.ttl)
	c.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("report list cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Purge drops every cached page.
func (c *ReportListCache) Purge(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	if err := c.repo.DeleteByPattern(ctx, reportListCachePrefix+"*"); err != nil {
		c.logger.Warn("report list cache purge failed", zap.Error(err))
	}
}

func listCacheKey(filter models.ReportFilter) string {
	kind, status := "all", "all"
	if filter.Kind != nil {
		kind = string(*filter.Kind)
	}
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	return fmt.Sprintf("%s%s:%s:%d:%d", reportListCachePrefix, kind, status, filter.Page, filter.PageSize)
}
