package repository

import (
	"context"
	"errors"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentRepository 项目文档仓库
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create 创建文档记录
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.ProjectDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()[:32]
	}
	return r.db.WithContext(ctx).Create(doc).Error
}

// FindByProject 查询项目全部文档
func (r *DocumentRepository) FindByProject(ctx context.Context, projectID string) ([]entity.ProjectDocument, error) {
	var items []entity.ProjectDocument
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

// FindByID 根据ID查找文档
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*entity.ProjectDocument, error) {
	var doc entity.ProjectDocument
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// FindValidByRequirement 查询项目某出口条件下的有效文档
func (r *DocumentRepository) FindValidByRequirement(ctx context.Context, projectID, requirementKey string) ([]entity.ProjectDocument, error) {
	var items []entity.ProjectDocument
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND requirement_key = ? AND status = ?",
			projectID, requirementKey, entity.DocumentStatusValid).
		Find(&items).Error
	return items, err
}
