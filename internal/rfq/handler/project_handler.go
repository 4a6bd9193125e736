package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/gin-gonic/gin"
)

// projectView 项目响应视图：实体字段加派生字段
type projectView struct {
	*entity.Project
	DaysInStage int `json:"days_in_stage"`
}

func newProjectView(p *entity.Project) projectView {
	return projectView{Project: p, DaysInStage: p.DaysInStage(time.Now())}
}

func newProjectViews(items []entity.Project) []projectView {
	views := make([]projectView, len(items))
	for i := range items {
		views[i] = newProjectView(&items[i])
	}
	return views
}

// ProjectHandler 项目处理器
type ProjectHandler struct {
	svc        *service.ProjectService
	optimistic *service.OptimisticCoordinator
}

func NewProjectHandler(svc *service.ProjectService, optimistic *service.OptimisticCoordinator) *ProjectHandler {
	return &ProjectHandler{svc: svc, optimistic: optimistic}
}

// ListProjects 项目列表
// GET /api/v1/projects?status=xxx&priority_level=xxx&current_stage_id=xxx&search=xxx
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status":           c.Query("status"),
		"priority_level":   c.Query("priority_level"),
		"current_stage_id": c.Query("current_stage_id"),
		"project_type":     c.Query("project_type"),
		"assignee_id":      c.Query("assignee_id"),
		"search":           c.Query("search"),
	}

	items, total, err := h.svc.ListProjects(c.Request.Context(), GetOrgID(c), page, pageSize, filters)
	if err != nil {
		RespondError(c, err)
		return
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	Success(c, ListResponse{
		Items: newProjectViews(items),
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

// GetProject 项目详情
// GET /api/v1/projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	id := c.Param("id")
	project, err := h.svc.GetProject(c.Request.Context(), id)
	if err != nil {
		NotFound(c, "Project not found")
		return
	}
	Success(c, newProjectView(project))
}

// CreateProject 创建项目
// POST /api/v1/projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	project, err := h.svc.CreateProject(c.Request.Context(), GetActor(c), &req)
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, newProjectView(project))
}

// UpdateProject 更新项目基础字段（乐观更新路径）
// PUT /api/v1/projects/:id
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	id := c.Param("id")
	var req service.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	// 暂定数据 = 当前快照叠加请求字段，由协调器先行应用
	tentative, err := h.svc.GetProject(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	applyUpdateRequest(tentative, &req)

	result := h.optimistic.Perform(c.Request.Context(), service.OptimisticCommand{
		Kind:      service.CommandUpdate,
		ProjectID: id,
		Tentative: tentative,
	}, func(ctx context.Context) (*entity.Project, error) {
		return h.svc.UpdateProject(ctx, id, &req)
	})
	if result.Err != nil {
		RespondError(c, result.Err)
		return
	}

	Success(c, newProjectView(result.Project))
}

// DeleteProject 删除项目（乐观更新路径）
// DELETE /api/v1/projects/:id
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	id := c.Param("id")

	result := h.optimistic.Perform(c.Request.Context(), service.OptimisticCommand{
		Kind:      service.CommandDelete,
		ProjectID: id,
	}, func(ctx context.Context) (*entity.Project, error) {
		return nil, h.svc.DeleteProject(ctx, id)
	})
	if result.Err != nil {
		RespondError(c, result.Err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateProjectStage 阶段流转（先确认后应用，不走乐观路径）
// PUT /api/v1/projects/:id/stage
func (h *ProjectHandler) UpdateProjectStage(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		TargetStageID string `json:"target_stage_id" binding:"required"`
		Bypass        bool   `json:"bypass"`
		BypassReason  string `json:"bypass_reason"`
		Reason        string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.UpdateProjectStage(c.Request.Context(), id, req.TargetStageID, service.TransitionOptions{
		Bypass:       req.Bypass,
		BypassReason: req.BypassReason,
		Reason:       req.Reason,
	}, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	if !result.Valid {
		BadRequest(c, result.Message)
		return
	}

	Success(c, result)
}

// UpdateProjectStatus 状态变更
// PUT /api/v1/projects/:id/status
func (h *ProjectHandler) UpdateProjectStatus(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.UpdateProjectStatus(c.Request.Context(), id, req.Status, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	if !result.Valid {
		BadRequest(c, result.Message)
		return
	}

	Success(c, result)
}

func applyUpdateRequest(p *entity.Project, req *service.UpdateProjectRequest) {
	if req.Title != nil {
		p.Title = *req.Title
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.PriorityLevel != nil {
		p.PriorityLevel = *req.PriorityLevel
	}
	if req.ProjectType != nil {
		p.ProjectType = *req.ProjectType
	}
	if req.AssigneeID != nil {
		p.AssigneeID = req.AssigneeID
	}
	if req.EstimatedValue != nil {
		p.EstimatedValue = req.EstimatedValue
	}
	if req.Tags != nil {
		p.Tags = entity.StringArray(req.Tags)
	}
	if req.Notes != nil {
		p.Notes = *req.Notes
	}
}
