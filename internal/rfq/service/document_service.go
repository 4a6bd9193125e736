package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/repository"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// DocumentService 项目文档服务
// 同时充当工作流校验的文档需求协作方：上传的有效文档满足对应出口条件
type DocumentService struct {
	docRepo     *repository.DocumentRepository
	minioClient *minio.Client
	bucket      string
	logger      *zap.Logger
}

// NewDocumentService 创建文档服务；minioClient 可为空（仅记录元数据）
func NewDocumentService(docRepo *repository.DocumentRepository, minioClient *minio.Client, bucket string, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		docRepo:     docRepo,
		minioClient: minioClient,
		bucket:      bucket,
		logger:      logger,
	}
}

// UploadDocument 上传项目文档并登记元数据
func (s *DocumentService) UploadDocument(ctx context.Context, actor Actor, projectID, requirementKey, fileName, contentType string, size int64, reader io.Reader) (*entity.ProjectDocument, error) {
	objectKey := fmt.Sprintf("projects/%s/%s-%s", projectID, uuid.New().String()[:8], fileName)

	if s.minioClient != nil {
		_, err := s.minioClient.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return nil, fmt.Errorf("上传文档失败: %w", err)
		}
	}

	now := time.Now()
	doc := &entity.ProjectDocument{
		ProjectID:      projectID,
		OrgID:          actor.OrgID,
		RequirementKey: requirementKey,
		FileName:       fileName,
		ObjectKey:      objectKey,
		ContentType:    contentType,
		SizeBytes:      size,
		Status:         entity.DocumentStatusValid,
		UploadedBy:     actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, classifyDBError(err)
	}
	return doc, nil
}

// ListDocuments 查询项目文档
func (s *DocumentService) ListDocuments(ctx context.Context, projectID string) ([]entity.ProjectDocument, error) {
	return s.docRepo.FindByProject(ctx, projectID)
}

// CheckRequirements 实现 RequirementChecker
// 出口条件满足 = 该条件下存在至少一份有效文档
func (s *DocumentService) CheckRequirements(ctx context.Context, projectID string, stage *entity.WorkflowStage) ([]CriterionStatus, error) {
	statuses := make([]CriterionStatus, 0, len(stage.ExitCriteria))
	for _, criterion := range stage.ExitCriteria {
		docs, err := s.docRepo.FindValidByRequirement(ctx, projectID, criterion.Key)
		if err != nil {
			return nil, fmt.Errorf("查询条件文档失败: %w", err)
		}
		statuses = append(statuses, CriterionStatus{
			Key:       criterion.Key,
			Label:     criterion.Label,
			Required:  criterion.Required,
			Satisfied: len(docs) > 0,
		})
	}
	return statuses, nil
}
