package service

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"AuctionSync/internal/config"
	"AuctionSync/internal/interfaces"
	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// jobHeap 按 (priority, last_collected) 的最小堆：
// 优先级数字小者先；同优先级下从未采集的永远优先，其余按时间戳从旧到新。
type jobHeap []*model.CollectionJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if (a.LastCollected == nil) != (b.LastCollected == nil) {
		return a.LastCollected == nil
	}
	if a.LastCollected != nil && !a.LastCollected.Equal(*b.LastCollected) {
		return a.LastCollected.Before(*b.LastCollected)
	}
	return a.ID < b.ID
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*model.CollectionJob)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// JobRunResult 一个采集任务一轮处理的汇总
type JobRunResult struct {
	Make        string              `json:"make"`
	Models      []string            `json:"models"` // 实际采集的车型列表（空串表示无车型过滤的兜底轮）
	SiteResults []SiteCollectResult `json:"site_results"`
	Collected   int64               `json:"collected"`
	Existing    int64               `json:"existing"`
}

// CollectorService 后台采集调度器。
// 持有自己的任务堆（非模块级状态），测试中可并存多个实例互不污染。
// 后台循环是单个顺序worker：同一时刻只处理一个任务，任务内翻页也严格串行，
// 以配合上游限流。
type CollectorService struct {
	recordRepo repository.SaleRecordRepository
	jobRepo    repository.CollectionJobRepository
	source     interfaces.AuctionSource
	cfg        config.CollectorConfig
	logger     *logrus.Logger

	mu   sync.Mutex
	jobs jobHeap

	now func() time.Time
}

// NewCollectorService 创建采集调度器
func NewCollectorService(
	recordRepo repository.SaleRecordRepository,
	jobRepo repository.CollectionJobRepository,
	source interfaces.AuctionSource,
	cfg config.CollectorConfig,
	logger *logrus.Logger,
) *CollectorService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 150
	}
	if cfg.RecollectAfter <= 0 {
		cfg.RecollectAfter = 24 * time.Hour
	}
	return &CollectorService{
		recordRepo: recordRepo,
		jobRepo:    jobRepo,
		source:     source,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// defaultJobs 静态优先级表（首次启动时落库）
func defaultJobs() []*model.CollectionJob {
	makes := []struct {
		name     string
		priority int
	}{
		{"Toyota", 1}, {"Honda", 1}, {"Ford", 2}, {"Chevrolet", 2},
		{"Nissan", 3}, {"BMW", 3}, {"Mercedes-Benz", 3}, {"Tesla", 4},
		{"Lexus", 4}, {"Hyundai", 5}, {"Kia", 5}, {"Subaru", 6},
	}
	jobs := make([]*model.CollectionJob, 0, len(makes))
	for _, m := range makes {
		jobs = append(jobs, &model.CollectionJob{
			Make:     m.name,
			Priority: m.priority,
		})
	}
	return jobs
}

// LoadJobs 首次启动种子化静态任务表，并把全部任务装载进内存堆
func (s *CollectorService) LoadJobs(ctx context.Context) error {
	if err := s.jobRepo.SeedIfEmpty(ctx, defaultJobs()); err != nil {
		return err
	}
	jobs, err := s.jobRepo.ListAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = jobHeap(jobs)
	heap.Init(&s.jobs)
	return nil
}

// Run 后台循环：逐个处理到期任务，任务之间固定休眠。ctx取消后退出。
func (s *CollectorService) Run(ctx context.Context) {
	s.logger.Info("采集后台循环启动")
	for {
		result, err := s.ProcessNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("采集后台循环退出")
				return
			}
			s.logger.WithError(err).Warn("任务处理失败，继续下一轮")
		} else if result != nil {
			s.logger.WithFields(logrus.Fields{
				"make":      result.Make,
				"models":    len(result.Models),
				"collected": result.Collected,
			}).Info("任务处理完成")
		}

		if err := sleepCtx(ctx, s.cfg.JobInterval); err != nil {
			s.logger.Info("采集后台循环退出")
			return
		}
	}
}

// ProcessNextJob 取出最高优先级的到期任务执行一轮采集。
// 无到期任务时返回 (nil, nil)。任务完成后回写 last_collected 并放回堆。
func (s *CollectorService) ProcessNextJob(ctx context.Context) (*JobRunResult, error) {
	job := s.takeEligible()
	if job == nil {
		return nil, nil
	}
	// 无论成败都放回堆；成功时已带新时间戳
	defer s.putBack(job)

	result, discovered, err := s.collectJob(ctx, job)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job.LastCollected = &now
	if len(discovered) > 0 {
		if b, err := json.Marshal(discovered); err == nil {
			job.DiscoveredModels = datatypes.JSON(b)
		}
	}
	if err := s.jobRepo.UpdateAfterRun(ctx, job); err != nil {
		s.logger.WithError(err).WithField("make", job.Make).Warn("任务状态回写失败")
	}
	return result, nil
}

// takeEligible 从堆中弹出最高优先级的到期任务（last_collected为空或超过重采间隔）。
// 未到期的任务暂存后放回，保持堆不变式。
func (s *CollectorService) takeEligible() *model.CollectionJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.RecollectAfter)
	var stash []*model.CollectionJob
	var picked *model.CollectionJob
	for s.jobs.Len() > 0 {
		job := heap.Pop(&s.jobs).(*model.CollectionJob)
		if job.LastCollected == nil || job.LastCollected.Before(cutoff) {
			picked = job
			break
		}
		stash = append(stash, job)
	}
	for _, job := range stash {
		heap.Push(&s.jobs, job)
	}
	return picked
}

func (s *CollectorService) putBack(job *model.CollectionJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.jobs, job)
}

// collectJob 一个任务的完整处理：车型发现 → 每车型×每站点分页采集。
// 返回的 discovered 仅在真实发现了车型时非空。
func (s *CollectorService) collectJob(ctx context.Context, job *model.CollectionJob) (*JobRunResult, []string, error) {
	now := s.now()
	windowStart := now.AddDate(0, 0, -s.cfg.WindowDays)
	dateFrom := windowStart.Format("2006-01-02")
	dateTo := now.Format("2006-01-02")

	yearFrom := job.YearFrom
	if yearFrom <= 0 {
		yearFrom = s.cfg.YearFrom
	}
	yearTo := job.YearTo
	if yearTo <= 0 {
		yearTo = now.Year() + 1
	}

	// 车型发现：窗口内该品牌已出现的车型；任务固定了车型则只采该车型
	var models, discovered []string
	if job.Model != "" {
		models = []string{job.Model}
	} else {
		var err error
		discovered, err = s.recordRepo.DistinctModels(ctx, job.Make, windowStart, s.cfg.ModelCap)
		if err != nil {
			// 发现失败不阻断任务，走无车型过滤的兜底轮
			s.logger.WithError(err).WithField("make", job.Make).Warn("车型发现失败，走兜底轮")
			discovered = nil
		}
		models = discovered
	}
	if len(models) == 0 {
		// 兜底：不带车型过滤采一轮，由上游决定适用车辆
		models = []string{""}
	}

	result := &JobRunResult{Make: job.Make, Models: models}
	unit := &collectUnit{
		repo:           s.recordRepo,
		source:         s.source,
		pageSize:       s.cfg.PageSize,
		interPageDelay: s.cfg.InterPageDelay,
		logger:         s.logger,
	}

	for mi, m := range models {
		for si, site := range model.AllSites {
			if si > 0 {
				if err := sleepCtx(ctx, s.cfg.InterSiteDelay); err != nil {
					return nil, nil, err
				}
			}
			res := unit.run(ctx, interfaces.SalesRequest{
				Make:     job.Make,
				Model:    m,
				Site:     site,
				YearFrom: yearFrom,
				YearTo:   yearTo,
				DateFrom: dateFrom,
				DateTo:   dateTo,
			}, windowStart)
			result.SiteResults = append(result.SiteResults, res)
			result.Collected += res.Collected
			result.Existing += res.Existing
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if mi < len(models)-1 {
			if err := sleepCtx(ctx, s.cfg.InterModelDelay); err != nil {
				return nil, nil, err
			}
		}
	}

	return result, discovered, nil
}

// Jobs 当前任务快照（管理接口用）
func (s *CollectorService) Jobs() []*model.CollectionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.CollectionJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}
