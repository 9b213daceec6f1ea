package service

import (
	"context"
	"time"

	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"

	"github.com/sirupsen/logrus"
)

// CacheService 缓存/新鲜度层：判断库内数据是否足以应答查询、是否需要同步回源。
// 注意：充足性检查只统计总行数，不保证目标页的具体行在并发写入下稳定落在同一页，
// 这是沿用的产品语义，见 DESIGN.md。
type CacheService struct {
	repo     repository.SaleRecordRepository
	freshTTL time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewCacheService 创建缓存层服务
func NewCacheService(repo repository.SaleRecordRepository, freshTTL time.Duration, logger *logrus.Logger) *CacheService {
	if freshTTL <= 0 {
		freshTTL = time.Hour
	}
	return &CacheService{
		repo:     repo,
		freshTTL: freshTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// filterFromQuery 查询键转仓储筛选条件
func filterFromQuery(q model.SearchQuery) repository.RecordFilter {
	n := q.Normalize()
	return repository.RecordFilter{
		Make:     n.Make,
		Model:    n.Model,
		Site:     n.Site,
		YearFrom: n.YearFrom,
		YearTo:   n.YearTo,
		DateFrom: n.DateFrom,
		DateTo:   n.DateTo,
	}
}

// HasSufficientData 库内匹配行数是否足以覆盖第page页（粗粒度计数检查）。
// 任何读库错误按"不足"处理，让调用方回源而不是失败。
func (s *CacheService) HasSufficientData(ctx context.Context, q model.SearchQuery, page, pageSize int) bool {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 25
	}
	total, err := s.repo.Count(ctx, filterFromQuery(q))
	if err != nil {
		s.logger.WithError(err).WithField("query", q.CacheKey()).Warn("充足性检查读库失败，按缓存未命中处理")
		return false
	}
	return total >= int64(page)*int64(pageSize)
}

// FetchPage 分页返回缓存数据。
// 特权等级按成交时间倒序（最新优先），其余等级正序。读库失败返回空结果而非错误。
func (s *CacheService) FetchPage(ctx context.Context, q model.SearchQuery, page, pageSize int, tier model.SubscriptionTier) ([]*model.SaleRecord, int64) {
	recs, total, err := s.repo.FindPage(ctx, filterFromQuery(q), page, pageSize, tier.IsPrivileged())
	if err != nil {
		s.logger.WithError(err).WithField("query", q.CacheKey()).Warn("分页查询失败，返回空结果")
		return []*model.SaleRecord{}, 0
	}
	return recs, total
}

// NeedsFreshData 特权等级专用：无缓存记录或最近入库早于freshTTL时需要同步回源。
// 非特权等级恒为false。读库失败按"陈旧"处理（宁可多一次回源）。
func (s *CacheService) NeedsFreshData(ctx context.Context, q model.SearchQuery, tier model.SubscriptionTier) bool {
	if !tier.IsPrivileged() {
		return false
	}
	latest, err := s.repo.LatestIngestTime(ctx, filterFromQuery(q))
	if err != nil {
		s.logger.WithError(err).WithField("query", q.CacheKey()).Warn("新鲜度检查读库失败，按陈旧处理")
		return true
	}
	if latest == nil {
		return true
	}
	return s.now().Sub(*latest) > s.freshTTL
}

// StoreBatch 幂等写入一批记录，(lot_id, site) 冲突忽略；单行失败记日志跳过，不中断整批
func (s *CacheService) StoreBatch(ctx context.Context, q model.SearchQuery, recs []*model.SaleRecord) int64 {
	inserted, failed, err := s.repo.InsertIgnore(ctx, recs)
	if err != nil {
		s.logger.WithError(err).WithField("query", q.CacheKey()).Warn("批量写入提前终止")
	}
	if failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"query":  q.CacheKey(),
			"failed": failed,
		}).Warn("批量写入部分行失败，已跳过")
	}
	return inserted
}
