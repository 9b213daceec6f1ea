package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"AuctionSync/internal/config"
	"AuctionSync/internal/interfaces"
	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"

	"github.com/sirupsen/logrus"
)

// ErrValidation 请求参数校验失败（任何I/O之前同步拒绝，不重试）
var ErrValidation = errors.New("参数校验失败")

// CollectRequest 定向采集请求：用户强制对一个窄查询立即回源
type CollectRequest struct {
	Make     string `json:"make" binding:"required"`
	Model    string `json:"model"`
	YearFrom int    `json:"year_from"`
	YearTo   int    `json:"year_to"`
	DateFrom string `json:"date_from" binding:"required"` // YYYY-MM-DD
	DateTo   string `json:"date_to" binding:"required"`   // YYYY-MM-DD
	Site     int    `json:"site"`                         // 0=两个站点都采
}

// CollectResponse 定向采集结果（逐站点汇报，部分失败不影响其他站点）
type CollectResponse struct {
	TotalRecordsCollected int64               `json:"total_records_collected"`
	SiteResults           []SiteCollectResult `json:"site_results"`
}

// CheckResponse 存量检查结果
type CheckResponse struct {
	SiteCounts []SiteExistingCount `json:"site_counts"`
}

// SiteExistingCount 单站点已有记录数
type SiteExistingCount struct {
	Site  model.Site `json:"site"`
	Count int64      `json:"count"`
}

// TargetedService 定向采集：同步执行调度器的内层采集循环，绕过优先级队列
type TargetedService struct {
	recordRepo repository.SaleRecordRepository
	source     interfaces.AuctionSource
	cfg        config.CollectorConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewTargetedService 创建定向采集服务
func NewTargetedService(
	recordRepo repository.SaleRecordRepository,
	source interfaces.AuctionSource,
	cfg config.CollectorConfig,
	logger *logrus.Logger,
) *TargetedService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	return &TargetedService{
		recordRepo: recordRepo,
		source:     source,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// validate 必填字段、日期格式YYYY-MM-DD、起止顺序
func (s *TargetedService) validate(req *CollectRequest) error {
	if strings.TrimSpace(req.Make) == "" {
		return fmt.Errorf("%w: make必填", ErrValidation)
	}
	if req.DateFrom == "" || req.DateTo == "" {
		return fmt.Errorf("%w: date_from/date_to必填", ErrValidation)
	}
	from, err := time.Parse("2006-01-02", req.DateFrom)
	if err != nil {
		return fmt.Errorf("%w: date_from须为YYYY-MM-DD", ErrValidation)
	}
	to, err := time.Parse("2006-01-02", req.DateTo)
	if err != nil {
		return fmt.Errorf("%w: date_to须为YYYY-MM-DD", ErrValidation)
	}
	if from.After(to) {
		return fmt.Errorf("%w: date_from不能晚于date_to", ErrValidation)
	}
	if req.Site != 0 {
		if _, err := model.ParseSite(req.Site); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// sites 解析请求站点：0表示两个站点
func (s *TargetedService) sites(req *CollectRequest) []model.Site {
	if req.Site == 0 {
		return model.AllSites
	}
	site, _ := model.ParseSite(req.Site)
	return []model.Site{site}
}

// Collect 同步执行定向采集，逐站点返回结果摘要
func (s *TargetedService) Collect(ctx context.Context, req *CollectRequest) (*CollectResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	windowStart, _ := time.Parse("2006-01-02", req.DateFrom)
	yearFrom := req.YearFrom
	if yearFrom <= 0 {
		yearFrom = s.cfg.YearFrom
	}
	yearTo := req.YearTo
	if yearTo <= 0 {
		yearTo = s.now().Year() + 1
	}

	unit := &collectUnit{
		repo:           s.recordRepo,
		source:         s.source,
		pageSize:       s.cfg.PageSize,
		interPageDelay: s.cfg.InterPageDelay,
		logger:         s.logger,
	}

	resp := &CollectResponse{}
	for i, site := range s.sites(req) {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.InterSiteDelay); err != nil {
				return resp, err
			}
		}
		res := unit.run(ctx, interfaces.SalesRequest{
			Make:     req.Make,
			Model:    req.Model,
			Site:     site,
			YearFrom: yearFrom,
			YearTo:   yearTo,
			DateFrom: req.DateFrom,
			DateTo:   req.DateTo,
		}, windowStart)
		resp.SiteResults = append(resp.SiteResults, res)
		resp.TotalRecordsCollected += res.Collected
	}

	s.logger.WithFields(logrus.Fields{
		"make":      req.Make,
		"model":     req.Model,
		"collected": resp.TotalRecordsCollected,
	}).Info("定向采集完成")
	return resp, nil
}

// Check 只做存量检查，不触发上游调用
func (s *TargetedService) Check(ctx context.Context, req *CollectRequest) (*CheckResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	resp := &CheckResponse{}
	for _, site := range s.sites(req) {
		count, err := s.recordRepo.Count(ctx, repository.RecordFilter{
			Make:     req.Make,
			Model:    req.Model,
			Site:     site,
			YearFrom: req.YearFrom,
			YearTo:   req.YearTo,
			DateFrom: req.DateFrom,
			DateTo:   req.DateTo,
		})
		if err != nil {
			// 读库失败按0处理，调用方据此决定是否回源
			s.logger.WithError(err).WithField("site", site.String()).Warn("存量检查失败，按0处理")
			count = 0
		}
		resp.SiteCounts = append(resp.SiteCounts, SiteExistingCount{Site: site, Count: count})
	}
	return resp, nil
}
