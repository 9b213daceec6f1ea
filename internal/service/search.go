package service

import (
	"context"
	"time"

	"AuctionSync/internal/config"
	"AuctionSync/internal/model"

	"github.com/sirupsen/logrus"
)

// SearchResult 查询面契约：rows + 总数 + 是否纯缓存命中
type SearchResult struct {
	Rows       []*model.SaleRecord `json:"rows"`
	TotalCount int64               `json:"total_count"`
	FromCache  bool                `json:"from_cache"`
}

// SearchService 查询编排：缓存充足/新鲜时直接出缓存，
// 特权等级在缓存未命中或陈旧时先同步触发一次定向采集再应答。
type SearchService struct {
	cache    *CacheService
	targeted *TargetedService
	cfg      config.CollectorConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewSearchService 创建查询服务
func NewSearchService(cache *CacheService, targeted *TargetedService, cfg config.CollectorConfig, logger *logrus.Logger) *SearchService {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 150
	}
	return &SearchService{
		cache:    cache,
		targeted: targeted,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Search 按查询键分页应答。
// 非特权等级永远只读缓存；特权等级在数据不足或陈旧时先回源。
// 回源失败不阻断应答（已存数据照常返回，只是可能偏少）。
func (s *SearchService) Search(ctx context.Context, q model.SearchQuery, page, pageSize int, tier model.SubscriptionTier) (*SearchResult, error) {
	fromCache := true
	if tier.IsPrivileged() {
		needsFetch := s.cache.NeedsFreshData(ctx, q, tier) || !s.cache.HasSufficientData(ctx, q, page, pageSize)
		if needsFetch {
			fromCache = false
			if _, err := s.targeted.Collect(ctx, s.collectRequest(q)); err != nil {
				s.logger.WithError(err).WithField("query", q.CacheKey()).Warn("同步回源失败，按现有缓存应答")
			}
		}
	}

	rows, total := s.cache.FetchPage(ctx, q, page, pageSize, tier)
	return &SearchResult{
		Rows:       rows,
		TotalCount: total,
		FromCache:  fromCache,
	}, nil
}

// collectRequest 查询键转定向采集请求；查询未带日期时按滚动窗口兜底
func (s *SearchService) collectRequest(q model.SearchQuery) *CollectRequest {
	n := q.Normalize()
	now := s.now()
	dateFrom := n.DateFrom
	dateTo := n.DateTo
	if dateFrom == "" {
		dateFrom = now.AddDate(0, 0, -s.cfg.WindowDays).Format("2006-01-02")
	}
	if dateTo == "" {
		dateTo = now.Format("2006-01-02")
	}
	return &CollectRequest{
		Make:     n.Make,
		Model:    n.Model,
		YearFrom: n.YearFrom,
		YearTo:   n.YearTo,
		DateFrom: dateFrom,
		DateTo:   dateTo,
		Site:     int(n.Site),
	}
}
