package handler

import (
	"github.com/factorypulse/pulse/internal/middleware"
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/gin-gonic/gin"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Login 签发token对
// POST /api/v1/auth/login
// 身份核验由上游身份源完成，这里只负责换发本系统token
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.UserIdentity
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if req.UserID == "" || req.OrgID == "" {
		BadRequest(c, "user_id and org_id are required")
		return
	}

	pair, err := h.svc.IssueTokens(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, pair)
}

// Refresh 刷新token对
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
		service.UserIdentity
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken, req.UserIdentity)
	if err != nil {
		Unauthorized(c, err.Error())
		return
	}

	Success(c, pair)
}

// Logout 登出：当前access token进入黑名单
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claimsVal, exists := c.Get("claims")
	if exists {
		if claims, ok := claimsVal.(*middleware.JWTClaims); ok && claims.ExpiresAt != nil {
			h.svc.Revoke(c.Request.Context(), claims.ID, claims.ExpiresAt.Time)
		}
	}
	Success(c, nil)
}
