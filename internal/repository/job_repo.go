package repository

import (
	"context"
	"time"

	"AuctionSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CollectionJobRepository 采集任务仓储接口
type CollectionJobRepository interface {
	// SeedIfEmpty 首次启动时写入静态优先级表（已存在则跳过，幂等）
	SeedIfEmpty(ctx context.Context, jobs []*model.CollectionJob) error
	// ListAll 取全部任务（调度器启动时装载进内存堆）
	ListAll(ctx context.Context) ([]*model.CollectionJob, error)
	// UpdateAfterRun 一轮采集结束后回写时间戳与发现的车型列表
	UpdateAfterRun(ctx context.Context, job *model.CollectionJob) error
}

type collectionJobRepository struct {
	db *gorm.DB
}

// NewCollectionJobRepository 创建 CollectionJobRepository 实例
func NewCollectionJobRepository(db *gorm.DB) CollectionJobRepository {
	return &collectionJobRepository{db: db}
}

// SeedIfEmpty 首次启动时写入静态优先级表
func (r *collectionJobRepository) SeedIfEmpty(ctx context.Context, jobs []*model.CollectionJob) error {
	for _, job := range jobs {
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "make"}, {Name: "model"}},
				DoNothing: true,
			}).
			Create(job).Error; err != nil {
			return err
		}
	}
	return nil
}

// ListAll 取全部任务
func (r *collectionJobRepository) ListAll(ctx context.Context) ([]*model.CollectionJob, error) {
	var jobs []*model.CollectionJob
	if err := r.db.WithContext(ctx).
		Order("priority ASC, id ASC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateAfterRun 回写 last_collected 与 discovered_models
func (r *collectionJobRepository) UpdateAfterRun(ctx context.Context, job *model.CollectionJob) error {
	return r.db.WithContext(ctx).Model(&model.CollectionJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"last_collected":    job.LastCollected,
			"discovered_models": job.DiscoveredModels,
			"updated_at":        time.Now(),
		}).Error
}
