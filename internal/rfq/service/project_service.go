package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/cache"
	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/realtime"
	"github.com/factorypulse/pulse/internal/rfq/repository"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 阶段流转确认后的延迟全量刷新间隔
const deferredRefreshDelay = 2 * time.Second

// Actor 操作人上下文（来自JWT）
type Actor struct {
	UserID string
	OrgID  string
}

// ProjectService 项目读写服务
// 阶段/状态变更为先确认后应用：远端写入成功前不改本地状态
type ProjectService struct {
	projectRepo *repository.ProjectRepository
	stageRepo   *repository.StageRepository
	workflowSvc *WorkflowService
	historySvc  *HistoryService
	cache       *cache.QueryCache
	store       *state.ProjectStore
	publisher   *realtime.Publisher
	logger      *zap.Logger

	refreshDelay time.Duration
}

// NewProjectService 创建项目服务
func NewProjectService(
	projectRepo *repository.ProjectRepository,
	stageRepo *repository.StageRepository,
	workflowSvc *WorkflowService,
	historySvc *HistoryService,
	qc *cache.QueryCache,
	store *state.ProjectStore,
	publisher *realtime.Publisher,
	logger *zap.Logger,
) *ProjectService {
	return &ProjectService{
		projectRepo:  projectRepo,
		stageRepo:    stageRepo,
		workflowSvc:  workflowSvc,
		historySvc:   historySvc,
		cache:        qc,
		store:        store,
		publisher:    publisher,
		logger:       logger,
		refreshDelay: deferredRefreshDelay,
	}
}

// ListProjects 查询项目列表，命中缓存时不访问数据库
func (s *ProjectService) ListProjects(ctx context.Context, orgID string, page, pageSize int, filters map[string]string) ([]entity.Project, int64, error) {
	params := make(map[string]string, len(filters)+2)
	for k, v := range filters {
		params[k] = v
	}
	params["page"] = fmt.Sprintf("%d", page)
	params["page_size"] = fmt.Sprintf("%d", pageSize)
	key := cache.BuildKey("projects.list", orgID, params)

	if payload, ok := s.cache.Get(key); ok {
		if cached, ok := payload.(*listPayload); ok {
			return cached.items, cached.total, nil
		}
	}

	// 新一轮取数获得代数令牌；若期间发生写入，迟到的结果会被丢弃
	gen := s.cache.Begin(key, orgID)

	items, total, err := s.projectRepo.FindAll(ctx, orgID, page, pageSize, filters)
	if err != nil {
		return nil, 0, err
	}

	s.cache.SetIfCurrent(key, gen, orgID, &listPayload{items: items, total: total})
	return items, total, nil
}

type listPayload struct {
	items []entity.Project
	total int64
}

// GetProject 查询项目详情
func (s *ProjectService) GetProject(ctx context.Context, id string) (*entity.Project, error) {
	return s.projectRepo.FindByID(ctx, id)
}

// CreateProjectRequest 创建项目请求
// 同时接受旧版字段（current_stage slug / priority / due_date），在边界归一化
type CreateProjectRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Status        string `json:"status"`
	PriorityLevel string `json:"priority_level"`
	ProjectType   string `json:"project_type"`

	CurrentStageID *string `json:"current_stage_id"`
	AssigneeID     *string `json:"assignee_id"`

	EstimatedValue        *float64 `json:"estimated_value"`
	EstimatedDeliveryDate *string  `json:"estimated_delivery_date"` // YYYY-MM-DD

	Tags     []string     `json:"tags"`
	Metadata entity.JSONB `json:"metadata"`
	Notes    string       `json:"notes"`

	entity.LegacyProjectFields
}

// CreateProject 创建项目
// 枚举值在进入持久层前校验，违规直接拒绝
func (s *ProjectService) CreateProject(ctx context.Context, actor Actor, req *CreateProjectRequest) (*entity.Project, error) {
	code, err := s.projectRepo.GenerateProjectID(ctx)
	if err != nil {
		return nil, fmt.Errorf("生成项目编码失败: %w", err)
	}

	now := time.Now()
	project := &entity.Project{
		ID:                     uuid.New().String()[:32],
		ProjectID:              code,
		Title:                  req.Title,
		Description:            req.Description,
		Status:                 req.Status,
		PriorityLevel:          req.PriorityLevel,
		ProjectType:            req.ProjectType,
		CurrentStageID:         req.CurrentStageID,
		CustomerOrganizationID: actor.OrgID,
		AssigneeID:             req.AssigneeID,
		CreatedBy:              actor.UserID,
		EstimatedValue:         req.EstimatedValue,
		Tags:                   entity.StringArray(req.Tags),
		Metadata:               req.Metadata,
		Notes:                  req.Notes,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if req.EstimatedDeliveryDate != nil {
		if t, err := time.Parse("2006-01-02", *req.EstimatedDeliveryDate); err == nil {
			project.EstimatedDeliveryDate = &t
		}
	}

	// 旧版字段归一化
	project.NormalizeLegacy(req.LegacyProjectFields, func(slug string) (string, bool) {
		stage, err := s.stageRepo.FindBySlug(ctx, slug)
		if err != nil {
			return "", false
		}
		return stage.ID, true
	})

	if project.Status == "" {
		project.Status = entity.ProjectStatusActive
	}
	if result := s.validateEnums(project); !result.Valid {
		return nil, &ConstraintError{Kind: "check", Message: result.Message}
	}
	if project.CurrentStageID != nil {
		project.StageEnteredAt = &now
	}

	if err := s.projectRepo.Create(ctx, project); err != nil {
		return nil, classifyDBError(err)
	}

	s.cache.InvalidateScope(actor.OrgID)
	s.store.Upsert(*project)
	s.publishChange(ctx, realtime.EventInsert, project, nil)

	return project, nil
}

// UpdateProjectRequest 更新项目请求
type UpdateProjectRequest struct {
	Title          *string  `json:"title"`
	Description    *string  `json:"description"`
	Status         *string  `json:"status"`
	PriorityLevel  *string  `json:"priority_level"`
	ProjectType    *string  `json:"project_type"`
	AssigneeID     *string  `json:"assignee_id"`
	EstimatedValue *float64 `json:"estimated_value"`
	Tags           []string `json:"tags"`
	Notes          *string  `json:"notes"`
}

// UpdateProject 更新项目基础字段（不含阶段流转）
func (s *ProjectService) UpdateProject(ctx context.Context, id string, req *UpdateProjectRequest) (*entity.Project, error) {
	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		project.Title = *req.Title
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.Status != nil {
		project.Status = *req.Status
	}
	if req.PriorityLevel != nil {
		project.PriorityLevel = *req.PriorityLevel
	}
	if req.ProjectType != nil {
		project.ProjectType = *req.ProjectType
	}
	if req.AssigneeID != nil {
		project.AssigneeID = req.AssigneeID
	}
	if req.EstimatedValue != nil {
		project.EstimatedValue = req.EstimatedValue
	}
	if req.Tags != nil {
		project.Tags = entity.StringArray(req.Tags)
	}
	if req.Notes != nil {
		project.Notes = *req.Notes
	}
	project.UpdatedAt = time.Now()

	if result := s.validateEnums(project); !result.Valid {
		return nil, &ConstraintError{Kind: "check", Message: result.Message}
	}

	if err := s.projectRepo.Update(ctx, project); err != nil {
		return nil, classifyDBError(err)
	}

	s.cache.InvalidateScope(project.CustomerOrganizationID)
	s.store.Upsert(*project)
	s.publishChange(ctx, realtime.EventUpdate, project, nil)

	return project, nil
}

// DeleteProject 删除项目
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.projectRepo.Delete(ctx, id); err != nil {
		return classifyDBError(err)
	}

	s.cache.InvalidateScope(project.CustomerOrganizationID)
	s.store.Remove(id)
	s.publishChange(ctx, realtime.EventDelete, nil, project)

	return nil
}

// UpdateProjectStage 流转项目阶段
// 顺序：校验 → 远端写入 → 审计 → 缓存失效 → 本地状态 → 变更广播 → 延迟刷新
func (s *ProjectService) UpdateProjectStage(ctx context.Context, projectID, targetStageID string, opts TransitionOptions, actor Actor) (ValidationResult, error) {
	if projectID == "" || targetStageID == "" {
		return ValidationResult{Valid: false, Message: "Project ID and target stage ID are required"}, nil
	}

	project, err := s.projectRepo.FindByID(ctx, projectID)
	if err != nil {
		return ValidationResult{}, err
	}

	result, err := s.workflowSvc.ValidateTransition(ctx, project, targetStageID, opts)
	if err != nil {
		return ValidationResult{}, err
	}
	if !result.Valid {
		return result, nil
	}

	// 先确认后应用：远端写入失败则本地不动
	now := time.Now()
	if err := s.projectRepo.UpdateStage(ctx, projectID, targetStageID, now); err != nil {
		return ValidationResult{}, classifyDBError(err)
	}

	// 审计尽力而为，失败不回滚流转
	s.historySvc.RecordStageTransition(ctx, RecordTransitionRequest{
		ProjectID:      projectID,
		OrgID:          project.CustomerOrganizationID,
		FromStageID:    project.CurrentStageID,
		ToStageID:      targetStageID,
		UserID:         actor.UserID,
		Reason:         opts.Reason,
		BypassRequired: result.BypassRequired,
		BypassReason:   opts.BypassReason,
	})

	s.cache.InvalidateScope(project.CustomerOrganizationID)

	project.CurrentStageID = &targetStageID
	project.StageEnteredAt = &now
	project.UpdatedAt = now
	s.store.Upsert(*project)
	s.publishChange(ctx, realtime.EventUpdate, project, nil)

	// 延迟全量刷新，拉回服务端计算的关联字段
	s.scheduleRefresh(projectID)

	return result, nil
}

// UpdateProjectStatus 变更项目状态（同样先确认后应用）
func (s *ProjectService) UpdateProjectStatus(ctx context.Context, projectID, status string, actor Actor) (ValidationResult, error) {
	if projectID == "" || status == "" {
		return ValidationResult{Valid: false, Message: "Project ID and status are required"}, nil
	}
	if result := s.workflowSvc.ValidateStatus(status); !result.Valid {
		return result, nil
	}

	project, err := s.projectRepo.FindByID(ctx, projectID)
	if err != nil {
		return ValidationResult{}, err
	}

	project.Status = status
	project.UpdatedAt = time.Now()
	if err := s.projectRepo.Update(ctx, project); err != nil {
		return ValidationResult{}, classifyDBError(err)
	}

	s.cache.InvalidateScope(project.CustomerOrganizationID)
	s.store.Upsert(*project)
	s.publishChange(ctx, realtime.EventUpdate, project, nil)

	return ValidationResult{Valid: true}, nil
}

// RefreshProject 强制重取单个项目并回写本地状态
func (s *ProjectService) RefreshProject(ctx context.Context, id string) (*entity.Project, error) {
	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store.Upsert(*project)
	return project, nil
}

func (s *ProjectService) scheduleRefresh(projectID string) {
	go func() {
		time.Sleep(s.refreshDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.RefreshProject(ctx, projectID); err != nil {
			s.logger.Warn("Deferred project refresh failed",
				zap.String("project_id", projectID),
				zap.Error(err))
		}
	}()
}

func (s *ProjectService) validateEnums(project *entity.Project) ValidationResult {
	if !entity.IsValidStatus(project.Status) {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("Invalid status value: %s", project.Status)}
	}
	if !entity.IsValidPriority(project.PriorityLevel) {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("Invalid priority value: %s", project.PriorityLevel)}
	}
	return ValidationResult{Valid: true}
}

func (s *ProjectService) publishChange(ctx context.Context, eventType realtime.EventType, newRow, oldRow *entity.Project) {
	if s.publisher == nil {
		return
	}
	event := realtime.ChangeEvent{
		Type:  eventType,
		Table: entity.Project{}.TableName(),
	}
	if newRow != nil {
		event.OrgID = newRow.CustomerOrganizationID
		event.New = projectToFields(newRow)
	}
	if oldRow != nil {
		event.OrgID = oldRow.CustomerOrganizationID
		event.Old = projectToFields(oldRow)
	}
	s.publisher.Publish(ctx, event)
}

func projectToFields(p *entity.Project) map[string]interface{} {
	raw, err := json.Marshal(p)
	if err != nil {
		return map[string]interface{}{"id": p.ID}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"id": p.ID}
	}
	return m
}
