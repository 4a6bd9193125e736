package repository

import (
	"context"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransitionRepository 阶段流转审计记录仓库（只追加）
type TransitionRepository struct {
	db *gorm.DB
}

func NewTransitionRepository(db *gorm.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// Create 写入一条流转记录
func (r *TransitionRepository) Create(ctx context.Context, rec *entity.StageTransition) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()[:32]
	}
	if rec.EnteredAt.IsZero() {
		rec.EnteredAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByProject 查询某项目全部流转记录，按时间升序
func (r *TransitionRepository) FindByProject(ctx context.Context, projectID string) ([]entity.StageTransition, error) {
	var items []entity.StageTransition
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("entered_at ASC").
		Find(&items).Error
	return items, err
}

// FindByOrg 查询组织范围内的流转记录（可选时间窗口）
func (r *TransitionRepository) FindByOrg(ctx context.Context, orgID string, from, to *time.Time) ([]entity.StageTransition, error) {
	var items []entity.StageTransition
	query := r.db.WithContext(ctx).Where("org_id = ?", orgID)
	if from != nil {
		query = query.Where("entered_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("entered_at <= ?", *to)
	}
	err := query.Order("entered_at ASC").Find(&items).Error
	return items, err
}
