package repository

import (
	"context"
	"time"

	"AuctionSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordFilter 销售记录的通用筛选条件（缓存层、采集器、分析器共用）
type RecordFilter struct {
	Make     string     // 品牌，空=不过滤
	Model    string     // 车型，空=全部
	Site     model.Site // 站点，0=全部
	YearFrom int        // 年份下界，0=不限
	YearTo   int        // 年份上界，0=不限
	DateFrom string     // 成交日期下界 YYYY-MM-DD，空=不限
	DateTo   string     // 成交日期上界 YYYY-MM-DD，空=不限
}

// SaleRecordRepository 销售记录仓储接口
type SaleRecordRepository interface {
	// InsertIgnore 逐行插入，(lot_id, site) 冲突按无操作处理；
	// 单行失败计入failed继续，不中断整批。返回实际新增与失败行数。
	InsertIgnore(ctx context.Context, recs []*model.SaleRecord) (inserted int64, failed int64, err error)
	// Count 统计满足条件的行数
	Count(ctx context.Context, f RecordFilter) (int64, error)
	// FindPage 分页查询，newestFirst 控制按成交时间倒序/正序
	FindPage(ctx context.Context, f RecordFilter, page, pageSize int, newestFirst bool) ([]*model.SaleRecord, int64, error)
	// FindSlice 按偏移量取一段记录（分析器流式/分块读取用），按主键正序保证窗口稳定
	FindSlice(ctx context.Context, f RecordFilter, offset, limit int) ([]*model.SaleRecord, error)
	// DistinctModels 返回该品牌在窗口内已出现的车型（去掉空串与Unknown），上限limit
	DistinctModels(ctx context.Context, mk string, since time.Time, limit int) ([]string, error)
	// LatestIngestTime 满足条件的记录中最近一次入库时间，无记录返回nil
	LatestIngestTime(ctx context.Context, f RecordFilter) (*time.Time, error)
}

type saleRecordRepository struct {
	db *gorm.DB
}

// NewSaleRecordRepository 创建 SaleRecordRepository 实例
func NewSaleRecordRepository(db *gorm.DB) SaleRecordRepository {
	return &saleRecordRepository{db: db}
}

// applyFilter 把 RecordFilter 翻译为 where 条件
func (r *saleRecordRepository) applyFilter(db *gorm.DB, f RecordFilter) *gorm.DB {
	if f.Make != "" {
		db = db.Where("LOWER(make) = LOWER(?)", f.Make)
	}
	if f.Model != "" {
		db = db.Where("LOWER(model) = LOWER(?)", f.Model)
	}
	if f.Site != 0 {
		db = db.Where("site = ?", int(f.Site))
	}
	if f.YearFrom > 0 {
		db = db.Where("year >= ?", f.YearFrom)
	}
	if f.YearTo > 0 {
		db = db.Where("year <= ?", f.YearTo)
	}
	if t, err := time.Parse("2006-01-02", f.DateFrom); err == nil {
		db = db.Where("sale_date >= ?", t)
	}
	if t, err := time.Parse("2006-01-02", f.DateTo); err == nil {
		// 上界含当日
		db = db.Where("sale_date < ?", t.Add(24*time.Hour))
	}
	return db
}

// InsertIgnore 逐行插入，冲突忽略
func (r *saleRecordRepository) InsertIgnore(ctx context.Context, recs []*model.SaleRecord) (int64, int64, error) {
	var inserted, failed int64
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return inserted, failed, err
		}
		res := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "lot_id"}, {Name: "site"}},
				DoNothing: true,
			}).
			Create(rec)
		if res.Error != nil {
			failed++
			continue
		}
		inserted += res.RowsAffected
	}
	return inserted, failed, nil
}

// Count 统计满足条件的行数
func (r *saleRecordRepository) Count(ctx context.Context, f RecordFilter) (int64, error) {
	var total int64
	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.SaleRecord{}), f)
	if err := db.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// FindPage 分页查询（特权等级最新在前，免费等级最旧在前）
func (r *saleRecordRepository) FindPage(ctx context.Context, f RecordFilter, page, pageSize int, newestFirst bool) ([]*model.SaleRecord, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 25
	}

	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.SaleRecord{}), f)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "sale_date ASC"
	if newestFirst {
		order = "sale_date DESC"
	}

	var recs []*model.SaleRecord
	if err := db.
		Order(order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&recs).Error; err != nil {
		return nil, 0, err
	}

	return recs, total, nil
}

// FindSlice 按偏移量取一段记录（主键正序）
func (r *saleRecordRepository) FindSlice(ctx context.Context, f RecordFilter, offset, limit int) ([]*model.SaleRecord, error) {
	if limit <= 0 {
		return []*model.SaleRecord{}, nil
	}
	var recs []*model.SaleRecord
	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.SaleRecord{}), f)
	if err := db.Order("id ASC").Offset(offset).Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DistinctModels 品牌在窗口内已出现的车型列表
func (r *saleRecordRepository) DistinctModels(ctx context.Context, mk string, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []string
	if err := r.db.WithContext(ctx).Model(&model.SaleRecord{}).
		Where("LOWER(make) = LOWER(?)", mk).
		Where("model <> '' AND model <> 'Unknown'").
		Where("sale_date >= ?", since).
		Distinct("model").
		Order("model ASC").
		Limit(limit).
		Pluck("model", &models).Error; err != nil {
		return nil, err
	}
	return models, nil
}

// LatestIngestTime 满足条件的记录的最近入库时间
func (r *saleRecordRepository) LatestIngestTime(ctx context.Context, f RecordFilter) (*time.Time, error) {
	var rec model.SaleRecord
	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.SaleRecord{}), f)
	if err := db.Order("created_at DESC").First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	t := rec.CreatedAt
	return &t, nil
}
