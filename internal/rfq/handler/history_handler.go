package handler

import (
	"fmt"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/gin-gonic/gin"
)

// HistoryHandler 阶段历史/统计处理器
type HistoryHandler struct {
	historySvc *service.HistoryService
	exportSvc  *service.ExportService
}

func NewHistoryHandler(historySvc *service.HistoryService, exportSvc *service.ExportService) *HistoryHandler {
	return &HistoryHandler{historySvc: historySvc, exportSvc: exportSvc}
}

// GetProjectHistory 项目阶段历史
// GET /api/v1/projects/:id/history
func (h *HistoryHandler) GetProjectHistory(c *gin.Context) {
	id := c.Param("id")

	entries, err := h.historySvc.GetProjectStageHistory(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, gin.H{"items": entries})
}

// GetStats 组织流转统计
// GET /api/v1/history/stats?from=2026-01-01&to=2026-02-01
func (h *HistoryHandler) GetStats(c *gin.Context) {
	from, to, err := parseDateRange(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	stats, err := h.historySvc.GetStageTransitionStats(c.Request.Context(), GetOrgID(c), from, to)
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, stats)
}

// ExportStats 导出流转统计工作簿
// GET /api/v1/history/stats/export
func (h *HistoryHandler) ExportStats(c *gin.Context) {
	from, to, err := parseDateRange(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	f, err := h.exportSvc.ExportStats(c.Request.Context(), GetOrgID(c), from, to)
	if err != nil {
		RespondError(c, err)
		return
	}

	fileName := fmt.Sprintf("stage-transitions-%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Disposition", "attachment; filename="+fileName)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "导出失败: "+err.Error())
	}
}

func parseDateRange(c *gin.Context) (from, to *time.Time, err error) {
	if v := c.Query("from"); v != "" {
		t, parseErr := time.Parse("2006-01-02", v)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("invalid from date: %s", v)
		}
		from = &t
	}
	if v := c.Query("to"); v != "" {
		t, parseErr := time.Parse("2006-01-02", v)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("invalid to date: %s", v)
		}
		// 含当天
		t = t.Add(24*time.Hour - time.Second)
		to = &t
	}
	return from, to, nil
}
