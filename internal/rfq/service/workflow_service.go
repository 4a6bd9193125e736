package service

import (
	"context"
	"fmt"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"go.uber.org/zap"
)

// ValidationResult 流转校验结果
// 预期的非法流转不是error，通过 Valid/Message 表达
type ValidationResult struct {
	Valid          bool   `json:"is_valid"`
	Message        string `json:"message,omitempty"`
	BypassRequired bool   `json:"bypass_required,omitempty"`
}

// TransitionOptions 流转选项
type TransitionOptions struct {
	Bypass       bool   `json:"bypass"`
	BypassReason string `json:"bypass_reason"`
	Reason       string `json:"reason"`
}

// CriterionStatus 单条出口条件的满足状态
type CriterionStatus struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Required  bool   `json:"required"`
	Satisfied bool   `json:"satisfied"`
}

// StageProgress 阶段进度：出口条件满足情况及下一阶段
type StageProgress struct {
	StageID       string            `json:"stage_id"`
	StageName     string            `json:"stage_name"`
	ExitCriteria  []CriterionStatus `json:"exit_criteria"`
	CanAdvance    bool              `json:"can_advance"`
	NextStageID   string            `json:"next_stage_id,omitempty"`
	NextStageName string            `json:"next_stage_name,omitempty"`
}

// StageCatalogSource 阶段目录来源
type StageCatalogSource interface {
	FindActive(ctx context.Context) (entity.StageCatalog, error)
}

// RequirementChecker 文档需求协作方：判断出口条件是否满足
type RequirementChecker interface {
	CheckRequirements(ctx context.Context, projectID string, stage *entity.WorkflowStage) ([]CriterionStatus, error)
}

// WorkflowService 工作流校验服务
// 纯判断逻辑，不写存储；阶段目录和文档需求由协作方提供
type WorkflowService struct {
	stages  StageCatalogSource
	checker RequirementChecker
	logger  *zap.Logger
}

// NewWorkflowService 创建工作流校验服务
func NewWorkflowService(stages StageCatalogSource, checker RequirementChecker, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{
		stages:  stages,
		checker: checker,
		logger:  logger,
	}
}

// ValidateTransition 校验项目能否流转到目标阶段
// 规则：后退始终允许；前进一步需出口条件满足；跳级或条件未满足需 bypass 且必须给出理由
func (s *WorkflowService) ValidateTransition(ctx context.Context, project *entity.Project, targetStageID string, opts TransitionOptions) (ValidationResult, error) {
	catalog, err := s.stages.FindActive(ctx)
	if err != nil {
		// 阶段目录不可用属于异常，向上传播
		return ValidationResult{}, fmt.Errorf("加载阶段目录失败: %w", err)
	}

	if len(catalog) == 0 {
		return ValidationResult{Valid: false, Message: "No active workflow stages configured"}, nil
	}

	target, ok := catalog.ByID(targetStageID)
	if !ok {
		return ValidationResult{Valid: false, Message: "Unknown or inactive target stage"}, nil
	}

	if project.CurrentStageID == nil {
		// 首次进入：只允许进入序号最小的阶段，或任意阶段带bypass
		first := &catalog[0]
		if target.ID == first.ID {
			return ValidationResult{Valid: true}, nil
		}
		return s.requireBypass(opts, "Projects must enter the workflow at the first stage")
	}

	current, ok := catalog.ByID(*project.CurrentStageID)
	if !ok {
		return ValidationResult{Valid: false, Message: "Project has no resolvable current stage"}, nil
	}

	// 后退（含原地）始终允许，用于返工
	if target.StageOrder <= current.StageOrder {
		return ValidationResult{Valid: true}, nil
	}

	// 跳级前进必须bypass
	if target.StageOrder > current.StageOrder+1 {
		return s.requireBypass(opts, "Skipping forward multiple stages is not allowed without a bypass")
	}

	// 前进一步：校验当前阶段出口条件
	unmet, err := s.unmetCriteria(ctx, project, current)
	if err != nil {
		return ValidationResult{}, err
	}
	if len(unmet) > 0 {
		return s.requireBypass(opts,
			fmt.Sprintf("Complete current stage requirements first (%d unmet)", len(unmet)))
	}

	return ValidationResult{Valid: true}, nil
}

// ListStages 返回启用的阶段目录（按 stage_order 升序）
func (s *WorkflowService) ListStages(ctx context.Context) (entity.StageCatalog, error) {
	return s.stages.FindActive(ctx)
}

// ValidateStatus 校验状态枚举值
func (s *WorkflowService) ValidateStatus(status string) ValidationResult {
	if !entity.IsValidStatus(status) {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("Invalid status value: %s", status)}
	}
	return ValidationResult{Valid: true}
}

// GetStageProgress 读取项目当前阶段的出口条件满足情况
func (s *WorkflowService) GetStageProgress(ctx context.Context, project *entity.Project) (*StageProgress, error) {
	catalog, err := s.stages.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载阶段目录失败: %w", err)
	}
	if project.CurrentStageID == nil {
		return &StageProgress{CanAdvance: false}, nil
	}
	current, ok := catalog.ByID(*project.CurrentStageID)
	if !ok {
		return nil, fmt.Errorf("项目当前阶段不存在: %s", *project.CurrentStageID)
	}

	criteria, err := s.checkCriteria(ctx, project, current)
	if err != nil {
		return nil, err
	}

	canAdvance := true
	for _, c := range criteria {
		if c.Required && !c.Satisfied {
			canAdvance = false
			break
		}
	}

	progress := &StageProgress{
		StageID:      current.ID,
		StageName:    current.Name,
		ExitCriteria: criteria,
		CanAdvance:   canAdvance,
	}
	if next := catalog.Next(current); next != nil {
		progress.NextStageID = next.ID
		progress.NextStageName = next.Name
	}
	return progress, nil
}

func (s *WorkflowService) requireBypass(opts TransitionOptions, message string) (ValidationResult, error) {
	if !opts.Bypass {
		return ValidationResult{Valid: false, Message: message}, nil
	}
	if opts.BypassReason == "" {
		return ValidationResult{Valid: false, Message: "A bypass reason is required"}, nil
	}
	return ValidationResult{Valid: true, BypassRequired: true}, nil
}

func (s *WorkflowService) checkCriteria(ctx context.Context, project *entity.Project, stage *entity.WorkflowStage) ([]CriterionStatus, error) {
	if len(stage.ExitCriteria) == 0 {
		return nil, nil
	}
	if s.checker == nil {
		// 没有文档需求协作方时视为全部未满足，宁可保守
		out := make([]CriterionStatus, 0, len(stage.ExitCriteria))
		for _, c := range stage.ExitCriteria {
			out = append(out, CriterionStatus{Key: c.Key, Label: c.Label, Required: c.Required})
		}
		return out, nil
	}
	criteria, err := s.checker.CheckRequirements(ctx, project.ID, stage)
	if err != nil {
		return nil, fmt.Errorf("检查出口条件失败: %w", err)
	}
	return criteria, nil
}

func (s *WorkflowService) unmetCriteria(ctx context.Context, project *entity.Project, stage *entity.WorkflowStage) ([]CriterionStatus, error) {
	criteria, err := s.checkCriteria(ctx, project, stage)
	if err != nil {
		return nil, err
	}
	var unmet []CriterionStatus
	for _, c := range criteria {
		if c.Required && !c.Satisfied {
			unmet = append(unmet, c)
		}
	}
	return unmet, nil
}
