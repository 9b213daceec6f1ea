package service

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"AuctionSync/internal/config"
	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 分析深度
const (
	DepthStandard      = "standard"
	DepthComprehensive = "comprehensive"
)

// 处理策略
const (
	StrategyDirect    = "direct"
	StrategyChunked   = "chunked"
	StrategyStreaming = "streaming"
)

// MakeCount 品牌出现频次
type MakeCount struct {
	Make  string `json:"make"`
	Count int    `json:"count"`
}

// Opportunity 从品牌分组中推导的套利机会（每块最多3条）
type Opportunity struct {
	Make            string  `json:"make"`
	SampleSize      int     `json:"sample_size"`
	AvgPrice        float64 `json:"avg_price"`
	EstimatedMargin float64 `json:"estimated_margin"` // 组内最高价相对均价的上行空间
	Confidence      float64 `json:"confidence"`       // 随样本量增长，上限0.9
}

// TrendPoint 年份维度的趋势点（仅comprehensive深度输出）
type TrendPoint struct {
	Year     int     `json:"year"`
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avg_price"`
}

// PartialResult 单块的统计结果，可与其它块合并
type PartialResult struct {
	RecordCount   int64         `json:"record_count"`
	PricedCount   int64         `json:"priced_count"` // 价格有效（>0）的行数，均价按此加权
	AvgPrice      float64       `json:"avg_price"`
	MinPrice      float64       `json:"min_price"`
	MaxPrice      float64       `json:"max_price"`
	TopMakes      []MakeCount   `json:"top_makes"`
	Opportunities []Opportunity `json:"opportunities"`
	Trends        []TrendPoint  `json:"trends,omitempty"`

	makeFreq map[string]int // 合并期间保留完整频次表，输出前再截断TopN
}

// AnalysisResult 一次分析请求的最终结果
type AnalysisResult struct {
	ID            string        `json:"id"`
	Strategy      string        `json:"strategy"`
	Depth         string        `json:"depth"`
	RecordCount   int64         `json:"record_count"`
	AvgPrice      float64       `json:"avg_price"`
	MinPrice      float64       `json:"min_price"`
	MaxPrice      float64       `json:"max_price"`
	TopMakes      []MakeCount   `json:"top_makes"`
	Opportunities []Opportunity `json:"opportunities"`
	Trends        []TrendPoint  `json:"trends,omitempty"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

// ProcessorMetrics 处理器运行指标（观测用）
type ProcessorMetrics struct {
	TotalRecords     int64         `json:"total_records"`
	BatchCount       int64         `json:"batch_count"`
	AvgBatchDuration time.Duration `json:"avg_batch_duration"`
	MemoryRatio      float64       `json:"memory_ratio"`
}

// SampleSink 增量学习协作方：分析完成后收到一小份新样本。实现方自行保证非阻塞。
type SampleSink interface {
	Observe(recs []*model.SaleRecord)
}

// AnalyzerService 自适应批量分析器。
// 按请求行数与实时内存压力在直接/分块/流式三种策略间切换；
// 多个分析请求可并发执行，各自持有独立累加器，仅结果缓存与指标受锁保护。
type AnalyzerService struct {
	repo   repository.SaleRecordRepository
	cfg    config.AnalyzerConfig
	logger *logrus.Logger

	// memRatio 返回当前堆占用率[0,1]，测试中可注入固定值
	memRatio func() float64
	sink     SampleSink

	cacheMu sync.Mutex
	cache   map[string]*AnalysisResult

	metricsMu     sync.Mutex
	totalRecords  int64
	batchCount    int64
	totalDuration time.Duration
}

// NewAnalyzerService 创建分析器
func NewAnalyzerService(repo repository.SaleRecordRepository, cfg config.AnalyzerConfig, logger *logrus.Logger) *AnalyzerService {
	if cfg.ChunkedThreshold <= 0 {
		cfg.ChunkedThreshold = 15000
	}
	if cfg.StreamingThreshold <= 0 {
		cfg.StreamingThreshold = 50000
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = 0.85
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 500
	}
	if cfg.TopMakes <= 0 {
		cfg.TopMakes = 5
	}
	return &AnalyzerService{
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
		memRatio: heapUtilization,
		cache:    map[string]*AnalysisResult{},
	}
}

// SetSampleSink 注入增量学习协作方（可选）
func (s *AnalyzerService) SetSampleSink(sink SampleSink) { s.sink = sink }

// heapUtilization 当前堆占用率：HeapAlloc / max(HeapSys, NextGC)
func heapUtilization() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	limit := m.HeapSys
	if m.NextGC > limit {
		limit = m.NextGC
	}
	if limit == 0 {
		return 0
	}
	return float64(m.HeapAlloc) / float64(limit)
}

// chooseStrategy 策略选择：行数或内存压力超流式门槛走流式；行数超分块门槛走分块；否则直接处理
func (s *AnalyzerService) chooseStrategy(rowCount int, memRatio float64) string {
	if rowCount >= s.cfg.StreamingThreshold || memRatio > s.cfg.MemoryThreshold {
		return StrategyStreaming
	}
	if rowCount >= s.cfg.ChunkedThreshold {
		return StrategyChunked
	}
	return StrategyDirect
}

// cacheKey 结果缓存键：(caller, depth, filter, rowCount) 完全一致的请求直接短路
func cacheKey(callerID, depth string, rowCount int, f repository.RecordFilter) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s|%d|%d|%d|%s|%s",
		callerID, depth, rowCount, f.Make, f.Model, int(f.Site), f.YearFrom, f.YearTo, f.DateFrom, f.DateTo)
}

// Process 执行一次分析。返回结果、是否命中缓存、错误。
func (s *AnalyzerService) Process(ctx context.Context, callerID, depth string, rowCount int, filter repository.RecordFilter) (*AnalysisResult, bool, error) {
	if depth != DepthComprehensive {
		depth = DepthStandard
	}
	if rowCount <= 0 {
		rowCount = s.cfg.ChunkSize
	}

	key := cacheKey(callerID, depth, rowCount, filter)
	s.cacheMu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.cacheMu.Unlock()
		return cached, true, nil
	}
	s.cacheMu.Unlock()

	strategy := s.chooseStrategy(rowCount, s.memRatio())
	s.logger.WithFields(logrus.Fields{
		"caller":   callerID,
		"strategy": strategy,
		"rows":     rowCount,
	}).Info("分析请求开始")

	var merged *PartialResult
	var lastChunk []*model.SaleRecord
	var err error
	switch strategy {
	case StrategyStreaming:
		merged, lastChunk, err = s.runStreaming(ctx, rowCount, depth, filter)
	case StrategyChunked:
		merged, lastChunk, err = s.runChunked(ctx, rowCount, depth, filter)
	default:
		merged, lastChunk, err = s.runDirect(ctx, rowCount, depth, filter)
	}
	if err != nil {
		return nil, false, err
	}

	result := s.finalize(merged, strategy, depth)

	s.cacheMu.Lock()
	s.cache[key] = result
	s.cacheMu.Unlock()

	// 把最后一块的小样本交给增量学习协作方
	if s.sink != nil && len(lastChunk) > 0 {
		sample := lastChunk
		if len(sample) > 100 {
			sample = sample[:100]
		}
		s.sink.Observe(sample)
	}

	return result, false, nil
}

// runDirect 一次取全量，单块处理
func (s *AnalyzerService) runDirect(ctx context.Context, rowCount int, depth string, filter repository.RecordFilter) (*PartialResult, []*model.SaleRecord, error) {
	recs, err := s.repo.FindSlice(ctx, filter, 0, rowCount)
	if err != nil {
		return nil, nil, fmt.Errorf("读取记录失败: %w", err)
	}
	part := s.processChunk(recs, depth)
	return part, recs, nil
}

// runChunked 一次取全量，定长分块处理后合并
func (s *AnalyzerService) runChunked(ctx context.Context, rowCount int, depth string, filter repository.RecordFilter) (*PartialResult, []*model.SaleRecord, error) {
	recs, err := s.repo.FindSlice(ctx, filter, 0, rowCount)
	if err != nil {
		return nil, nil, fmt.Errorf("读取记录失败: %w", err)
	}

	var merged *PartialResult
	var lastChunk []*model.SaleRecord
	for start := 0; start < len(recs); start += s.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := start + s.cfg.ChunkSize
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]
		merged = mergePartial(merged, s.processChunk(chunk, depth))
		lastChunk = chunk
	}
	if merged == nil {
		merged = s.processChunk(nil, depth)
	}
	return merged, lastChunk, nil
}

// runStreaming 分窗口拉取并增量合并；窗口约为请求行数的1/20（不低于下限）。
// 每个窗口之后内存占用仍超门槛时主动触发一次GC提示再继续。
func (s *AnalyzerService) runStreaming(ctx context.Context, rowCount int, depth string, filter repository.RecordFilter) (*PartialResult, []*model.SaleRecord, error) {
	window := rowCount / 20
	if window < s.cfg.MinBatchSize {
		window = s.cfg.MinBatchSize
	}

	var merged *PartialResult
	var lastChunk []*model.SaleRecord
	fetched := 0
	for fetched < rowCount {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		limit := window
		if rowCount-fetched < limit {
			limit = rowCount - fetched
		}
		recs, err := s.repo.FindSlice(ctx, filter, fetched, limit)
		if err != nil {
			return nil, nil, fmt.Errorf("读取记录失败: %w", err)
		}
		if len(recs) == 0 {
			break
		}
		merged = mergePartial(merged, s.processChunk(recs, depth))
		lastChunk = recs
		fetched += len(recs)

		if s.memRatio() > s.cfg.MemoryThreshold {
			runtime.GC()
		}
	}
	if merged == nil {
		merged = s.processChunk(nil, depth)
	}
	return merged, lastChunk, nil
}

// processChunk 单块统计：行数、有效价格的均值/极值、高频品牌、套利机会与趋势点
func (s *AnalyzerService) processChunk(recs []*model.SaleRecord, depth string) *PartialResult {
	start := time.Now()
	part := &PartialResult{makeFreq: map[string]int{}}
	part.RecordCount = int64(len(recs))

	type makeGroup struct {
		count    int
		sum, max float64
		priced   int
	}
	groups := map[string]*makeGroup{}
	type yearAgg struct {
		count  int
		sum    float64
		priced int
	}
	years := map[int]*yearAgg{}

	var sum float64
	for _, r := range recs {
		part.makeFreq[r.Make]++

		g := groups[r.Make]
		if g == nil {
			g = &makeGroup{}
			groups[r.Make] = g
		}
		g.count++

		if depth == DepthComprehensive && r.Year > 0 {
			y := years[r.Year]
			if y == nil {
				y = &yearAgg{}
				years[r.Year] = y
			}
			y.count++
		}

		price := r.PurchasePrice
		if price <= 0 {
			continue // 非正价或无法解析的价格不计入均值/极值
		}
		part.PricedCount++
		sum += price
		if part.MinPrice == 0 || price < part.MinPrice {
			part.MinPrice = price
		}
		if price > part.MaxPrice {
			part.MaxPrice = price
		}
		g.sum += price
		g.priced++
		if price > g.max {
			g.max = price
		}
		if depth == DepthComprehensive && r.Year > 0 {
			years[r.Year].sum += price
			years[r.Year].priced++
		}
	}
	if part.PricedCount > 0 {
		part.AvgPrice = sum / float64(part.PricedCount)
	}

	// 套利机会：样本量≥3的品牌组，按样本量取前3
	type candidate struct {
		mk string
		g  *makeGroup
	}
	var cands []candidate
	for mk, g := range groups {
		if g.count >= 3 && g.priced > 0 {
			cands = append(cands, candidate{mk, g})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].g.count != cands[j].g.count {
			return cands[i].g.count > cands[j].g.count
		}
		return cands[i].mk < cands[j].mk
	})
	if len(cands) > 3 {
		cands = cands[:3]
	}
	for _, c := range cands {
		avg := c.g.sum / float64(c.g.priced)
		margin := 0.0
		if avg > 0 {
			margin = (c.g.max - avg) / avg
		}
		confidence := 0.5 + 0.05*float64(c.g.count)
		if confidence > 0.9 {
			confidence = 0.9
		}
		part.Opportunities = append(part.Opportunities, Opportunity{
			Make:            c.mk,
			SampleSize:      c.g.count,
			AvgPrice:        avg,
			EstimatedMargin: margin,
			Confidence:      confidence,
		})
	}

	if depth == DepthComprehensive {
		var yearKeys []int
		for y := range years {
			yearKeys = append(yearKeys, y)
		}
		sort.Ints(yearKeys)
		for _, y := range yearKeys {
			a := years[y]
			avg := 0.0
			if a.priced > 0 {
				avg = a.sum / float64(a.priced)
			}
			part.Trends = append(part.Trends, TrendPoint{Year: y, Count: a.count, AvgPrice: avg})
		}
	}

	s.recordBatch(part.RecordCount, time.Since(start))
	return part
}

// mergePartial 合并两个部分结果。
// 标量按各自有效行数加权滚动平均（不是批均值的简单平均）；机会与趋势直接拼接，不在此层去重。
func mergePartial(a, b *PartialResult) *PartialResult {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	merged := &PartialResult{
		RecordCount: a.RecordCount + b.RecordCount,
		PricedCount: a.PricedCount + b.PricedCount,
		makeFreq:    map[string]int{},
	}
	if merged.PricedCount > 0 {
		merged.AvgPrice = (a.AvgPrice*float64(a.PricedCount) + b.AvgPrice*float64(b.PricedCount)) / float64(merged.PricedCount)
	}
	merged.MinPrice = a.MinPrice
	if merged.MinPrice == 0 || (b.MinPrice > 0 && b.MinPrice < merged.MinPrice) {
		merged.MinPrice = b.MinPrice
	}
	merged.MaxPrice = a.MaxPrice
	if b.MaxPrice > merged.MaxPrice {
		merged.MaxPrice = b.MaxPrice
	}
	for mk, c := range a.makeFreq {
		merged.makeFreq[mk] += c
	}
	for mk, c := range b.makeFreq {
		merged.makeFreq[mk] += c
	}
	merged.Opportunities = append(append([]Opportunity{}, a.Opportunities...), b.Opportunities...)
	merged.Trends = append(append([]TrendPoint{}, a.Trends...), b.Trends...)
	return merged
}

// finalize 从合并结果产出最终报告（此时才截断TopN品牌）
func (s *AnalyzerService) finalize(part *PartialResult, strategy, depth string) *AnalysisResult {
	topMakes := topNMakes(part.makeFreq, s.cfg.TopMakes)
	return &AnalysisResult{
		ID:            uuid.NewString(),
		Strategy:      strategy,
		Depth:         depth,
		RecordCount:   part.RecordCount,
		AvgPrice:      part.AvgPrice,
		MinPrice:      part.MinPrice,
		MaxPrice:      part.MaxPrice,
		TopMakes:      topMakes,
		Opportunities: part.Opportunities,
		Trends:        part.Trends,
		GeneratedAt:   time.Now(),
	}
}

// topNMakes 频次表取前N（频次降序，同频按名称序）
func topNMakes(freq map[string]int, n int) []MakeCount {
	out := make([]MakeCount, 0, len(freq))
	for mk, c := range freq {
		out = append(out, MakeCount{Make: mk, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Make < out[j].Make
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// recordBatch 累计运行指标
func (s *AnalyzerService) recordBatch(records int64, d time.Duration) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.totalRecords += records
	s.batchCount++
	s.totalDuration += d
}

// Metrics 当前运行指标快照
func (s *AnalyzerService) Metrics() ProcessorMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	m := ProcessorMetrics{
		TotalRecords: s.totalRecords,
		BatchCount:   s.batchCount,
		MemoryRatio:  s.memRatio(),
	}
	if s.batchCount > 0 {
		m.AvgBatchDuration = s.totalDuration / time.Duration(s.batchCount)
	}
	return m
}
