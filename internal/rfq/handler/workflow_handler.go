package handler

import (
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/gin-gonic/gin"
)

// WorkflowHandler 工作流校验处理器
type WorkflowHandler struct {
	workflowSvc *service.WorkflowService
	projectSvc  *service.ProjectService
}

func NewWorkflowHandler(workflowSvc *service.WorkflowService, projectSvc *service.ProjectService) *WorkflowHandler {
	return &WorkflowHandler{workflowSvc: workflowSvc, projectSvc: projectSvc}
}

// ValidateTransition 预校验流转（不执行写入）
// POST /api/v1/projects/:id/validate-transition
func (h *WorkflowHandler) ValidateTransition(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		TargetStageID string `json:"target_stage_id" binding:"required"`
		Bypass        bool   `json:"bypass"`
		BypassReason  string `json:"bypass_reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	project, err := h.projectSvc.GetProject(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	result, err := h.workflowSvc.ValidateTransition(c.Request.Context(), project, req.TargetStageID, service.TransitionOptions{
		Bypass:       req.Bypass,
		BypassReason: req.BypassReason,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, result)
}

// GetStageProgress 当前阶段出口条件进度
// GET /api/v1/projects/:id/progress
func (h *WorkflowHandler) GetStageProgress(c *gin.Context) {
	id := c.Param("id")

	project, err := h.projectSvc.GetProject(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	progress, err := h.workflowSvc.GetStageProgress(c.Request.Context(), project)
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, progress)
}
