package handler

import (
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/gin-gonic/gin"
)

// StageHandler 阶段目录处理器（只读）
type StageHandler struct {
	workflowSvc *service.WorkflowService
}

func NewStageHandler(workflowSvc *service.WorkflowService) *StageHandler {
	return &StageHandler{workflowSvc: workflowSvc}
}

// ListStages 启用阶段列表，按序返回
// GET /api/v1/stages
func (h *StageHandler) ListStages(c *gin.Context) {
	stages, err := h.workflowSvc.ListStages(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": stages})
}
