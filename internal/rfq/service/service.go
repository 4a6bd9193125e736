package service

import (
	"github.com/factorypulse/pulse/internal/config"
	"github.com/factorypulse/pulse/internal/rfq/cache"
	"github.com/factorypulse/pulse/internal/rfq/realtime"
	"github.com/factorypulse/pulse/internal/rfq/repository"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	Auth       *AuthService
	Workflow   *WorkflowService
	Project    *ProjectService
	History    *HistoryService
	Document   *DocumentService
	Export     *ExportService
	Optimistic *OptimisticCoordinator
}

// NewServices 创建服务集合
func NewServices(
	repos *repository.Repositories,
	rdb *redis.Client,
	cfg *config.Config,
	qc *cache.QueryCache,
	store *state.ProjectStore,
	publisher *realtime.Publisher,
	logger *zap.Logger,
) *Services {
	// 初始化MinIO客户端，不可用时降级为仅元数据模式
	var minioClient *minio.Client
	if cfg.MinIO.Endpoint != "" {
		var err error
		minioClient, err = minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			logger.Warn("MinIO client init failed, documents will be metadata-only", zap.Error(err))
			minioClient = nil
		}
	}

	documentSvc := NewDocumentService(repos.Document, minioClient, cfg.MinIO.Bucket, logger)
	workflowSvc := NewWorkflowService(repos.Stage, documentSvc, logger)
	historySvc := NewHistoryService(repos.Transition, repos.Stage, logger)
	projectSvc := NewProjectService(repos.Project, repos.Stage, workflowSvc, historySvc, qc, store, publisher, logger)

	return &Services{
		Auth:       NewAuthService(rdb, cfg, logger),
		Workflow:   workflowSvc,
		Project:    projectSvc,
		History:    historySvc,
		Document:   documentSvc,
		Export:     NewExportService(historySvc),
		Optimistic: NewOptimisticCoordinator(store, logger),
	}
}
