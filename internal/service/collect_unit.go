package service

import (
	"context"
	"time"

	"AuctionSync/internal/interfaces"
	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"

	"github.com/sirupsen/logrus"
)

// SiteCollectResult 单个站点一轮采集的结构化结果
type SiteCollectResult struct {
	Site      model.Site `json:"site"`
	Collected int64      `json:"collected"` // 实际新增行数
	Existing  int64      `json:"existing"`  // 已存在、跳过上游调用的行数
	Pages     int        `json:"pages"`     // 实际拉取的页数
	Error     string     `json:"error,omitempty"`
}

// collectUnit 对一个 (make, model, site, 年份区间, 日期窗口) 组合执行存在性检查与分页拉取。
// 复用于后台调度器与定向采集，两者只在结果的去向上不同。
type collectUnit struct {
	repo           repository.SaleRecordRepository
	source         interfaces.AuctionSource
	pageSize       int
	interPageDelay time.Duration
	logger         *logrus.Logger
}

// run 执行一轮采集。
// 已有完全相同元组的数据时跳过上游调用（幂等重跑）；
// 翻页终止条件按优先级：页内最旧成交时间早于窗口起点 → 窗口耗尽；
// 返回行数不足一页 → 上游耗尽；否则延迟后继续下一页。
// 单页拉取失败视为"没有更多数据"，记入Error但不向上抛。
func (u *collectUnit) run(ctx context.Context, req interfaces.SalesRequest, windowStart time.Time) SiteCollectResult {
	result := SiteCollectResult{Site: req.Site}

	filter := repository.RecordFilter{
		Make:     req.Make,
		Model:    req.Model,
		Site:     req.Site,
		YearFrom: req.YearFrom,
		YearTo:   req.YearTo,
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
	}
	existing, err := u.repo.Count(ctx, filter)
	if err != nil {
		// 读库失败按无数据处理，继续走上游拉取
		u.logger.WithError(err).WithFields(logrus.Fields{
			"make": req.Make, "model": req.Model, "site": req.Site.String(),
		}).Warn("存在性检查失败，继续上游拉取")
	} else if existing > 0 {
		result.Existing = existing
		return result
	}

	req.PageSize = u.pageSize
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result
		}

		req.Page = page
		recs, err := u.source.FetchSales(ctx, req)
		if err != nil {
			u.logger.WithError(err).WithFields(logrus.Fields{
				"make": req.Make, "model": req.Model, "site": req.Site.String(), "page": page,
			}).Warn("页拉取失败，终止该组合的翻页")
			result.Error = err.Error()
			return result
		}
		if len(recs) == 0 {
			return result
		}
		result.Pages++

		inserted, failed, err := u.repo.InsertIgnore(ctx, recs)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Collected += inserted
		if failed > 0 {
			u.logger.WithFields(logrus.Fields{
				"make": req.Make, "site": req.Site.String(), "page": page, "failed": failed,
			}).Warn("部分行入库失败，已跳过")
		}

		// 页内最旧成交时间（上游排序与成交时间无固定关系，须自行计算）
		oldest := oldestSaleDate(recs)
		if oldest != nil && oldest.Before(windowStart) {
			return result // 窗口耗尽
		}
		if len(recs) < u.pageSize {
			return result // 上游耗尽
		}

		if err := sleepCtx(ctx, u.interPageDelay); err != nil {
			result.Error = err.Error()
			return result
		}
	}
}

// oldestSaleDate 页内最旧成交时间，全部为空时返回nil
func oldestSaleDate(recs []*model.SaleRecord) *time.Time {
	var oldest *time.Time
	for _, r := range recs {
		if r.SaleDate == nil {
			continue
		}
		if oldest == nil || r.SaleDate.Before(*oldest) {
			oldest = r.SaleDate
		}
	}
	return oldest
}

// sleepCtx 可取消的延迟
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
