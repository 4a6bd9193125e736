package repository

import (
	"context"
	"errors"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"gorm.io/gorm"
)

// StageRepository 工作流阶段仓库（只读参考数据）
type StageRepository struct {
	db *gorm.DB
}

func NewStageRepository(db *gorm.DB) *StageRepository {
	return &StageRepository{db: db}
}

// FindActive 查询所有启用阶段，按 stage_order 升序
func (r *StageRepository) FindActive(ctx context.Context) (entity.StageCatalog, error) {
	var stages []entity.WorkflowStage
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("stage_order ASC").
		Find(&stages).Error
	if err != nil {
		return nil, err
	}
	return entity.StageCatalog(stages), nil
}

// FindByID 根据ID查找阶段
func (r *StageRepository) FindByID(ctx context.Context, id string) (*entity.WorkflowStage, error) {
	var stage entity.WorkflowStage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&stage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stage, nil
}

// FindBySlug 根据slug查找阶段（旧版数据用slug引用阶段）
func (r *StageRepository) FindBySlug(ctx context.Context, slug string) (*entity.WorkflowStage, error) {
	var stage entity.WorkflowStage
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&stage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stage, nil
}
