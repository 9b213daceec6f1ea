package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"AuctionSync/internal/interfaces"
	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1) // 内存库只允许单连接
	if err := db.AutoMigrate(&model.SaleRecord{}, &model.CollectionJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeSource 可编程的上游假实现，记录每次调用
type fakeSource struct {
	mu      sync.Mutex
	calls   []interfaces.SalesRequest
	handler func(req interfaces.SalesRequest) ([]*model.SaleRecord, error)
}

func (f *fakeSource) FetchSales(_ context.Context, req interfaces.SalesRequest) ([]*model.SaleRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.handler == nil {
		return []*model.SaleRecord{}, nil
	}
	return f.handler(req)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) callsCopy() []interfaces.SalesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interfaces.SalesRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// makeRecords 生成一页测试记录，lot编号带前缀防止跨页冲突
func makeRecords(prefix string, n int, site model.Site, mk, mdl string, saleDate time.Time) []*model.SaleRecord {
	recs := make([]*model.SaleRecord, 0, n)
	for i := 0; i < n; i++ {
		d := saleDate
		recs = append(recs, &model.SaleRecord{
			LotID:    fmt.Sprintf("%s-%d", prefix, i),
			Site:     site,
			Make:     mk,
			Model:    mdl,
			Year:     2019,
			SaleDate: &d,
		})
	}
	return recs
}

func seedRecords(t *testing.T, repo repository.SaleRecordRepository, recs []*model.SaleRecord) {
	t.Helper()
	if _, failed, err := repo.InsertIgnore(context.Background(), recs); err != nil || failed > 0 {
		t.Fatalf("seed: failed=%d err=%v", failed, err)
	}
}
