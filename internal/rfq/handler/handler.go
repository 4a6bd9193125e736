package handler

import (
	"errors"
	"strconv"

	"github.com/factorypulse/pulse/internal/rfq/repository"
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/factorypulse/pulse/internal/rfq/sse"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Auth     *AuthHandler
	Project  *ProjectHandler
	Stage    *StageHandler
	Workflow *WorkflowHandler
	History  *HistoryHandler
	Document *DocumentHandler
	SSE      *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		Auth:     NewAuthHandler(svc.Auth),
		Project:  NewProjectHandler(svc.Project, svc.Optimistic),
		Stage:    NewStageHandler(svc.Workflow),
		Workflow: NewWorkflowHandler(svc.Workflow, svc.Project),
		History:  NewHistoryHandler(svc.History, svc.Export),
		Document: NewDocumentHandler(svc.Document),
		SSE:      NewSSEHandler(hub),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// ServiceUnavailable 可重试的暂时性故障响应
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, 50300, message)
}

// RespondError 按错误类别选择响应
// 约束冲突 → 参数错误提示；记录不存在 → 404；其余 → 可重试的通用失败
func RespondError(c *gin.Context, err error) {
	var constraintErr *service.ConstraintError
	if errors.As(err, &constraintErr) {
		BadRequest(c, constraintErr.Message)
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		NotFound(c, "Record not found")
		return
	}
	if errors.Is(err, service.ErrUpdatePending) {
		Error(c, 40900, err.Error())
		return
	}
	ServiceUnavailable(c, "Something went wrong, please try again")
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetOrgID 从上下文获取组织ID
func GetOrgID(c *gin.Context) string {
	orgID, _ := c.Get("org_id")
	if id, ok := orgID.(string); ok {
		return id
	}
	return ""
}

// GetActor 从上下文获取操作人
func GetActor(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: GetUserID(c),
		OrgID:  GetOrgID(c),
	}
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
