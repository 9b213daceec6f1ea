package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"AuctionSync/internal/interfaces"
	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"
)

func newTargeted(t *testing.T, src interfaces.AuctionSource) (*TargetedService, repository.SaleRecordRepository) {
	t.Helper()
	repo := repository.NewSaleRecordRepository(newTestDB(t))
	return NewTargetedService(repo, src, testCollectorCfg(), testLogger()), repo
}

func TestCollectValidation(t *testing.T) {
	s, _ := newTargeted(t, &fakeSource{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  CollectRequest
	}{
		{"missing make", CollectRequest{DateFrom: "2025-01-01", DateTo: "2025-06-01"}},
		{"missing dates", CollectRequest{Make: "Toyota"}},
		{"bad date format", CollectRequest{Make: "Toyota", DateFrom: "01/02/2025", DateTo: "2025-06-01"}},
		{"start after end", CollectRequest{Make: "Toyota", DateFrom: "2025-06-01", DateTo: "2025-01-01"}},
		{"bad site", CollectRequest{Make: "Toyota", DateFrom: "2025-01-01", DateTo: "2025-06-01", Site: 7}},
	}
	for _, c := range cases {
		req := c.req
		if _, err := s.Collect(ctx, &req); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", c.name, err)
		}
	}
}

func TestWindowTermination(t *testing.T) {
	// 第3页出现窗口起点之前的成交时间 → 第3页后停止，绝不请求第4页
	now := time.Now()
	windowStart, _ := time.Parse("2006-01-02", now.AddDate(0, 0, -30).Format("2006-01-02"))

	src := &fakeSource{
		handler: func(req interfaces.SalesRequest) ([]*model.SaleRecord, error) {
			date := now.AddDate(0, 0, -1)
			if req.Page >= 3 {
				date = windowStart.AddDate(0, 0, -5) // 窗口之前
			}
			return makeRecords(fmt.Sprintf("pg%d", req.Page), req.PageSize, req.Site, req.Make, req.Model, date), nil
		},
	}
	s, _ := newTargeted(t, src)

	resp, err := s.Collect(context.Background(), &CollectRequest{
		Make:     "Toyota",
		DateFrom: windowStart.Format("2006-01-02"),
		DateTo:   now.Format("2006-01-02"),
		Site:     int(model.SiteCopart),
	})
	if err != nil {
		t.Fatal(err)
	}

	maxPage := 0
	for _, c := range src.callsCopy() {
		if c.Page > maxPage {
			maxPage = c.Page
		}
	}
	if maxPage != 3 {
		t.Fatalf("max requested page = %d, want 3", maxPage)
	}
	if len(resp.SiteResults) != 1 || resp.SiteResults[0].Pages != 3 {
		t.Fatalf("site results = %+v", resp.SiteResults)
	}
}

func TestShortPageTermination(t *testing.T) {
	// 返回行数不足一页 → 上游耗尽，停止翻页
	now := time.Now()
	src := &fakeSource{
		handler: func(req interfaces.SalesRequest) ([]*model.SaleRecord, error) {
			if req.Page == 1 {
				return makeRecords("pg1", req.PageSize, req.Site, req.Make, req.Model, now.AddDate(0, 0, -1)), nil
			}
			return makeRecords("pg2", 3, req.Site, req.Make, req.Model, now.AddDate(0, 0, -1)), nil
		},
	}
	s, _ := newTargeted(t, src)

	resp, err := s.Collect(context.Background(), &CollectRequest{
		Make:     "Toyota",
		DateFrom: now.AddDate(0, 0, -30).Format("2006-01-02"),
		DateTo:   now.Format("2006-01-02"),
		Site:     int(model.SiteCopart),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := src.callCount(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
	if resp.TotalRecordsCollected != 25+3 {
		t.Errorf("collected = %d, want 28", resp.TotalRecordsCollected)
	}
}

func TestCollectBothSitesIsolatedFailure(t *testing.T) {
	// 一个站点失败不影响另一个站点（逐站点结果汇报）
	now := time.Now()
	src := &fakeSource{
		handler: func(req interfaces.SalesRequest) ([]*model.SaleRecord, error) {
			if req.Site == model.SiteIAAI {
				return nil, errors.New("upstream 503")
			}
			return makeRecords("ok", 5, req.Site, req.Make, req.Model, now.AddDate(0, 0, -1)), nil
		},
	}
	s, _ := newTargeted(t, src)

	resp, err := s.Collect(context.Background(), &CollectRequest{
		Make:     "Toyota",
		DateFrom: now.AddDate(0, 0, -30).Format("2006-01-02"),
		DateTo:   now.Format("2006-01-02"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.SiteResults) != 2 {
		t.Fatalf("site results = %d", len(resp.SiteResults))
	}
	var okCount, errCount int
	for _, r := range resp.SiteResults {
		if r.Error != "" {
			errCount++
		} else if r.Collected == 5 {
			okCount++
		}
	}
	if okCount != 1 || errCount != 1 {
		t.Errorf("ok=%d err=%d, want 1/1", okCount, errCount)
	}
}

func TestCrossInvocationDedup(t *testing.T) {
	// 定向采集与后台调度写同一张表，(lot_id, site) 唯一约束保证并发收敛
	now := time.Now()
	page := makeRecords("dup", 5, model.SiteCopart, "Toyota", "Camry", now.AddDate(0, 0, -1))
	src := &fakeSource{
		handler: func(req interfaces.SalesRequest) ([]*model.SaleRecord, error) {
			// 每次返回内容相同的一页（不足一页即止）
			recs := make([]*model.SaleRecord, len(page))
			for i, r := range page {
				cp := *r
				recs[i] = &cp
			}
			return recs, nil
		},
	}
	s, repo := newTargeted(t, src)

	req := &CollectRequest{
		Make:     "Toyota",
		Model:    "Camry",
		DateFrom: now.AddDate(0, 0, -30).Format("2006-01-02"),
		DateTo:   now.Format("2006-01-02"),
		Site:     int(model.SiteCopart),
	}
	first, err := s.Collect(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.TotalRecordsCollected != 5 {
		t.Fatalf("first collected = %d", first.TotalRecordsCollected)
	}

	// 第二次同样的请求：存量检查直接命中，跳过上游
	second, err := s.Collect(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.TotalRecordsCollected != 0 || second.SiteResults[0].Existing != 5 {
		t.Fatalf("second = %+v", second.SiteResults)
	}

	total, err := repo.Count(context.Background(), repository.RecordFilter{Make: "Toyota"})
	if err != nil || total != 5 {
		t.Fatalf("total = %d err=%v", total, err)
	}
}

func TestCheckCounts(t *testing.T) {
	s, repo := newTargeted(t, &fakeSource{})
	now := time.Now()
	seedRecords(t, repo, makeRecords("c", 3, model.SiteCopart, "Toyota", "Camry", now.AddDate(0, 0, -1)))

	resp, err := s.Check(context.Background(), &CollectRequest{
		Make:     "Toyota",
		Model:    "Camry",
		DateFrom: now.AddDate(0, 0, -30).Format("2006-01-02"),
		DateTo:   now.Format("2006-01-02"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.SiteCounts) != 2 {
		t.Fatalf("site counts = %d", len(resp.SiteCounts))
	}
	for _, sc := range resp.SiteCounts {
		switch sc.Site {
		case model.SiteCopart:
			if sc.Count != 3 {
				t.Errorf("copart count = %d", sc.Count)
			}
		case model.SiteIAAI:
			if sc.Count != 0 {
				t.Errorf("iaai count = %d", sc.Count)
			}
		}
	}
}
