package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"AuctionSync/internal/config"
	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"
)

func testAnalyzerCfg() config.AnalyzerConfig {
	return config.AnalyzerConfig{
		ChunkedThreshold:   15000,
		StreamingThreshold: 50000,
		MemoryThreshold:    0.85,
		ChunkSize:          1000,
		MinBatchSize:       500,
		TopMakes:           5,
	}
}

func newAnalyzer(t *testing.T, cfg config.AnalyzerConfig) (*AnalyzerService, repository.SaleRecordRepository) {
	t.Helper()
	repo := repository.NewSaleRecordRepository(newTestDB(t))
	s := NewAnalyzerService(repo, cfg, testLogger())
	s.memRatio = func() float64 { return 0.2 } // 测试中固定内存占用，不受运行时影响
	return s, repo
}

func pricedRecords(prefix, mk string, year int, prices []float64) []*model.SaleRecord {
	now := time.Now().AddDate(0, 0, -1)
	recs := make([]*model.SaleRecord, 0, len(prices))
	for i, p := range prices {
		recs = append(recs, &model.SaleRecord{
			LotID:         fmt.Sprintf("%s-%d", prefix, i),
			Site:          model.SiteCopart,
			Make:          mk,
			Model:         "X",
			Year:          year,
			PurchasePrice: p,
			SaleDate:      &now,
		})
	}
	return recs
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestChooseStrategy(t *testing.T) {
	s, _ := newAnalyzer(t, testAnalyzerCfg())

	cases := []struct {
		rows int
		mem  float64
		want string
	}{
		{5000, 0.2, StrategyDirect},
		{14999, 0.2, StrategyDirect},
		{15000, 0.2, StrategyChunked},
		{20000, 0.2, StrategyChunked},
		{50000, 0.2, StrategyStreaming},
		{60000, 0.2, StrategyStreaming},
		{100, 0.95, StrategyStreaming}, // 内存压力单独触发流式
	}
	for _, c := range cases {
		if got := s.chooseStrategy(c.rows, c.mem); got != c.want {
			t.Errorf("chooseStrategy(%d, %.2f) = %s, want %s", c.rows, c.mem, got, c.want)
		}
	}
}

func TestMergePartialWeightedAverage(t *testing.T) {
	a := &PartialResult{RecordCount: 10, PricedCount: 10, AvgPrice: 100, MinPrice: 50, MaxPrice: 150, makeFreq: map[string]int{"Toyota": 10}}
	b := &PartialResult{RecordCount: 5, PricedCount: 5, AvgPrice: 400, MinPrice: 300, MaxPrice: 500, makeFreq: map[string]int{"Toyota": 2, "Honda": 3}}

	m := mergePartial(a, b)
	// (10×100 + 5×400) / 15 = 200，不是批均值的简单平均250
	if !almostEqual(m.AvgPrice, 200) {
		t.Errorf("AvgPrice = %f, want 200", m.AvgPrice)
	}
	if m.RecordCount != 15 || m.PricedCount != 15 {
		t.Errorf("counts = %d/%d", m.RecordCount, m.PricedCount)
	}
	if m.MinPrice != 50 || m.MaxPrice != 500 {
		t.Errorf("min/max = %f/%f", m.MinPrice, m.MaxPrice)
	}
	if m.makeFreq["Toyota"] != 12 || m.makeFreq["Honda"] != 3 {
		t.Errorf("makeFreq = %v", m.makeFreq)
	}
}

func TestMergePartialZeroMin(t *testing.T) {
	// 一侧没有有效价格（MinPrice=0）时不能把0当最小值
	a := &PartialResult{RecordCount: 3, makeFreq: map[string]int{}}
	b := &PartialResult{RecordCount: 2, PricedCount: 2, AvgPrice: 80, MinPrice: 60, MaxPrice: 100, makeFreq: map[string]int{}}

	m := mergePartial(a, b)
	if m.MinPrice != 60 {
		t.Errorf("MinPrice = %f, want 60", m.MinPrice)
	}
	if !almostEqual(m.AvgPrice, 80) {
		t.Errorf("AvgPrice = %f, want 80", m.AvgPrice)
	}
}

func TestMergePartialNil(t *testing.T) {
	b := &PartialResult{RecordCount: 1}
	if got := mergePartial(nil, b); got != b {
		t.Error("merge(nil, b) should return b")
	}
	if got := mergePartial(b, nil); got != b {
		t.Error("merge(b, nil) should return b")
	}
}

func TestProcessDirect(t *testing.T) {
	s, repo := newAnalyzer(t, testAnalyzerCfg())
	ctx := context.Background()

	seedRecords(t, repo, pricedRecords("toy", "Toyota", 2019, []float64{1000, 2000, 3000}))
	seedRecords(t, repo, pricedRecords("hon", "Honda", 2020, []float64{4000, 6000}))
	seedRecords(t, repo, pricedRecords("unpriced", "Ford", 2018, []float64{0})) // 无价格行不计入均值

	res, cached, err := s.Process(ctx, "caller-1", DepthStandard, 100, repository.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if cached {
		t.Error("first call must not hit cache")
	}
	if res.Strategy != StrategyDirect {
		t.Errorf("strategy = %s", res.Strategy)
	}
	if res.RecordCount != 6 {
		t.Errorf("RecordCount = %d, want 6", res.RecordCount)
	}
	// 有效价格5行：(1000+2000+3000+4000+6000)/5 = 3200
	if !almostEqual(res.AvgPrice, 3200) {
		t.Errorf("AvgPrice = %f, want 3200", res.AvgPrice)
	}
	if res.MinPrice != 1000 || res.MaxPrice != 6000 {
		t.Errorf("min/max = %f/%f", res.MinPrice, res.MaxPrice)
	}
	if len(res.TopMakes) == 0 || res.TopMakes[0].Make != "Toyota" || res.TopMakes[0].Count != 3 {
		t.Errorf("TopMakes = %+v", res.TopMakes)
	}
	// 套利机会：仅Toyota组满足样本量≥3
	if len(res.Opportunities) != 1 || res.Opportunities[0].Make != "Toyota" {
		t.Fatalf("Opportunities = %+v", res.Opportunities)
	}
	opp := res.Opportunities[0]
	if !almostEqual(opp.AvgPrice, 2000) {
		t.Errorf("opp avg = %f", opp.AvgPrice)
	}
	if !almostEqual(opp.EstimatedMargin, 0.5) { // (3000-2000)/2000
		t.Errorf("opp margin = %f", opp.EstimatedMargin)
	}
	if !almostEqual(opp.Confidence, 0.65) { // 0.5 + 0.05×3
		t.Errorf("opp confidence = %f", opp.Confidence)
	}
	if len(res.Trends) != 0 {
		t.Errorf("standard深度不应有趋势: %+v", res.Trends)
	}
}

func TestProcessComprehensiveTrends(t *testing.T) {
	s, repo := newAnalyzer(t, testAnalyzerCfg())
	seedRecords(t, repo, pricedRecords("a", "Toyota", 2018, []float64{1000, 2000}))
	seedRecords(t, repo, pricedRecords("b", "Toyota", 2020, []float64{3000}))

	res, _, err := s.Process(context.Background(), "caller-1", DepthComprehensive, 100, repository.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trends) != 2 {
		t.Fatalf("Trends = %+v", res.Trends)
	}
	// 年份升序
	if res.Trends[0].Year != 2018 || res.Trends[1].Year != 2020 {
		t.Errorf("trend order = %+v", res.Trends)
	}
	if res.Trends[0].Count != 2 || !almostEqual(res.Trends[0].AvgPrice, 1500) {
		t.Errorf("trend 2018 = %+v", res.Trends[0])
	}
}

func TestProcessChunkedMatchesDirect(t *testing.T) {
	// 分块与直接处理在同一数据上的聚合结果一致（加权合并的正确性）
	cfg := testAnalyzerCfg()
	cfg.ChunkedThreshold = 10
	cfg.ChunkSize = 4
	s, repo := newAnalyzer(t, cfg)

	seedRecords(t, repo, pricedRecords("t", "Toyota", 2019, []float64{500, 1500, 2500, 3500, 4500, 5500}))
	seedRecords(t, repo, pricedRecords("h", "Honda", 2019, []float64{100, 200, 300, 400, 600, 800}))

	res, _, err := s.Process(context.Background(), "caller-1", DepthStandard, 12, repository.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != StrategyChunked {
		t.Fatalf("strategy = %s", res.Strategy)
	}
	if res.RecordCount != 12 {
		t.Errorf("RecordCount = %d", res.RecordCount)
	}
	want := (500 + 1500 + 2500 + 3500 + 4500 + 5500 + 100 + 200 + 300 + 400 + 600 + 800) / 12.0
	if !almostEqual(res.AvgPrice, want) {
		t.Errorf("AvgPrice = %f, want %f", res.AvgPrice, want)
	}
	if res.MinPrice != 100 || res.MaxPrice != 5500 {
		t.Errorf("min/max = %f/%f", res.MinPrice, res.MaxPrice)
	}
	if res.TopMakes[0].Count != 6 || res.TopMakes[1].Count != 6 {
		t.Errorf("TopMakes = %+v", res.TopMakes)
	}
}

func TestProcessStreaming(t *testing.T) {
	cfg := testAnalyzerCfg()
	cfg.StreamingThreshold = 10
	cfg.MinBatchSize = 3
	s, repo := newAnalyzer(t, cfg)

	seedRecords(t, repo, pricedRecords("t", "Toyota", 2019, []float64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}))

	res, _, err := s.Process(context.Background(), "caller-1", DepthStandard, 10, repository.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != StrategyStreaming {
		t.Fatalf("strategy = %s", res.Strategy)
	}
	if res.RecordCount != 10 {
		t.Errorf("RecordCount = %d", res.RecordCount)
	}
	if !almostEqual(res.AvgPrice, 550) {
		t.Errorf("AvgPrice = %f, want 550", res.AvgPrice)
	}
}

func TestProcessCacheHit(t *testing.T) {
	s, repo := newAnalyzer(t, testAnalyzerCfg())
	seedRecords(t, repo, pricedRecords("t", "Toyota", 2019, []float64{1000, 2000}))
	ctx := context.Background()
	filter := repository.RecordFilter{Make: "Toyota"}

	first, cached, err := s.Process(ctx, "caller-1", DepthStandard, 100, filter)
	if err != nil || cached {
		t.Fatalf("first: cached=%v err=%v", cached, err)
	}
	second, cached, err := s.Process(ctx, "caller-1", DepthStandard, 100, filter)
	if err != nil {
		t.Fatal(err)
	}
	if !cached {
		t.Error("identical request must hit cache")
	}
	if second.ID != first.ID {
		t.Error("cached result must be the stored one")
	}

	// caller、行数或过滤条件任一不同 → 不命中
	if _, cached, _ := s.Process(ctx, "caller-2", DepthStandard, 100, filter); cached {
		t.Error("different caller must not hit cache")
	}
	if _, cached, _ := s.Process(ctx, "caller-1", DepthStandard, 50, filter); cached {
		t.Error("different row count must not hit cache")
	}
}

type recordingSink struct {
	observed [][]*model.SaleRecord
}

func (r *recordingSink) Observe(recs []*model.SaleRecord) {
	r.observed = append(r.observed, recs)
}

func TestSampleSinkReceivesLastChunk(t *testing.T) {
	s, repo := newAnalyzer(t, testAnalyzerCfg())
	sink := &recordingSink{}
	s.SetSampleSink(sink)
	seedRecords(t, repo, pricedRecords("t", "Toyota", 2019, []float64{1000, 2000, 3000}))

	if _, _, err := s.Process(context.Background(), "caller-1", DepthStandard, 100, repository.RecordFilter{}); err != nil {
		t.Fatal(err)
	}
	if len(sink.observed) != 1 || len(sink.observed[0]) != 3 {
		t.Fatalf("sink observed = %d batches", len(sink.observed))
	}

	// 缓存命中不再触发样本递送
	if _, cached, _ := s.Process(context.Background(), "caller-1", DepthStandard, 100, repository.RecordFilter{}); !cached {
		t.Fatal("expected cache hit")
	}
	if len(sink.observed) != 1 {
		t.Error("cache hit must not feed the sink again")
	}
}

func TestMetricsAccumulate(t *testing.T) {
	s, repo := newAnalyzer(t, testAnalyzerCfg())
	seedRecords(t, repo, pricedRecords("t", "Toyota", 2019, []float64{1000, 2000}))

	if _, _, err := s.Process(context.Background(), "caller-1", DepthStandard, 100, repository.RecordFilter{}); err != nil {
		t.Fatal(err)
	}
	m := s.Metrics()
	if m.TotalRecords != 2 || m.BatchCount != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if !almostEqual(m.MemoryRatio, 0.2) {
		t.Errorf("MemoryRatio = %f", m.MemoryRatio)
	}
}
