package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"gorm.io/gorm"
)

// ProjectRepository 项目仓库
type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// FindAll 查询项目列表（按组织过滤）
func (r *ProjectRepository) FindAll(ctx context.Context, orgID string, page, pageSize int, filters map[string]string) ([]entity.Project, int64, error) {
	var items []entity.Project
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Project{}).
		Where("customer_organization_id = ?", orgID)

	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if priority := filters["priority_level"]; priority != "" {
		query = query.Where("priority_level = ?", priority)
	}
	if stageID := filters["current_stage_id"]; stageID != "" {
		query = query.Where("current_stage_id = ?", stageID)
	}
	if projectType := filters["project_type"]; projectType != "" {
		query = query.Where("project_type = ?", projectType)
	}
	if assignee := filters["assignee_id"]; assignee != "" {
		query = query.Where("assignee_id = ?", assignee)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("title ILIKE ? OR project_id ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找项目
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*entity.Project, error) {
	var project entity.Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &project, nil
}

// Create 创建项目
func (r *ProjectRepository) Create(ctx context.Context, project *entity.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

// Update 更新项目
func (r *ProjectRepository) Update(ctx context.Context, project *entity.Project) error {
	return r.db.WithContext(ctx).Save(project).Error
}

// UpdateStage 更新项目所处阶段
// 只改 current_stage_id / stage_entered_at / updated_at 三个字段
func (r *ProjectRepository) UpdateStage(ctx context.Context, id, stageID string, enteredAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&entity.Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stage_id": stageID,
			"stage_entered_at": enteredAt,
			"updated_at":       enteredAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除项目
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Project{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GenerateProjectID 生成项目编码 P-{YYYYMMDD}{2位序号}
func (r *ProjectRepository) GenerateProjectID(ctx context.Context) (string, error) {
	day := time.Now().Format("20060102")
	prefix := fmt.Sprintf("P-%s", day)

	var maxCode string
	err := r.db.WithContext(ctx).
		Model(&entity.Project{}).
		Select("COALESCE(MAX(project_id), '')").
		Where("project_id LIKE ?", prefix+"%").
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	var seq int
	if maxCode != "" {
		fmt.Sscanf(maxCode, "P-"+day+"%02d", &seq)
	}
	seq++
	return fmt.Sprintf("%s%02d", prefix, seq), nil
}
