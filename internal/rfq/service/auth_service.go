package service

import (
	"context"
	"fmt"
	"time"

	"github.com/factorypulse/pulse/internal/config"
	"github.com/factorypulse/pulse/internal/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	refreshKeyPrefix   = "pulse:auth:refresh:"
	blacklistKeyPrefix = "pulse:auth:blacklist:"
)

// AuthService 认证服务：签发/刷新token，维护吊销黑名单
type AuthService struct {
	rdb    *redis.Client
	cfg    *config.Config
	logger *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{rdb: rdb, cfg: cfg, logger: logger}
}

// TokenPair Token对
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// UserIdentity 签发token所需的用户身份
type UserIdentity struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	OrgID  string   `json:"org_id"`
	Roles  []string `json:"roles"`
}

// IssueTokens 签发access/refresh token对
// refresh token 存入redis，刷新时校验
func (s *AuthService) IssueTokens(ctx context.Context, user UserIdentity) (*TokenPair, error) {
	now := time.Now()
	jti := uuid.New().String()

	claims := middleware.JWTClaims{
		UserID: user.UserID,
		Name:   user.Name,
		Email:  user.Email,
		OrgID:  user.OrgID,
		Roles:  user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			Issuer:    s.cfg.JWT.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTokenExpire)),
			ID:        jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return nil, fmt.Errorf("签发access token失败: %w", err)
	}

	refreshToken := uuid.New().String()
	if s.rdb != nil {
		key := refreshKeyPrefix + refreshToken
		payload := user.UserID + "|" + user.OrgID
		if err := s.rdb.Set(ctx, key, payload, s.cfg.JWT.RefreshTokenExpire).Err(); err != nil {
			return nil, fmt.Errorf("存储refresh token失败: %w", err)
		}
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.JWT.AccessTokenExpire.Seconds()),
	}, nil
}

// Refresh 用refresh token换取新token对
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, user UserIdentity) (*TokenPair, error) {
	if s.rdb == nil {
		return nil, fmt.Errorf("refresh token store unavailable")
	}
	key := refreshKeyPrefix + refreshToken
	stored, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired refresh token")
	}
	if err != nil {
		return nil, fmt.Errorf("读取refresh token失败: %w", err)
	}
	if stored != user.UserID+"|"+user.OrgID {
		return nil, fmt.Errorf("refresh token does not match user")
	}

	// 旧refresh token一次性使用
	s.rdb.Del(ctx, key)

	return s.IssueTokens(ctx, user)
}

// Revoke 吊销access token（登出），jti进黑名单直至自然过期
func (s *AuthService) Revoke(ctx context.Context, tokenID string, until time.Time) {
	if s.rdb == nil || tokenID == "" {
		return
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}
	if err := s.rdb.Set(ctx, blacklistKeyPrefix+tokenID, "1", ttl).Err(); err != nil {
		s.logger.Warn("Failed to blacklist token", zap.String("jti", tokenID), zap.Error(err))
	}
}

// IsRevoked 实现 middleware.TokenChecker
func (s *AuthService) IsRevoked(tokenID string) bool {
	if s.rdb == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.rdb.Exists(ctx, blacklistKeyPrefix+tokenID).Result()
	if err != nil {
		// redis不可用时放行，避免全站不可用
		return false
	}
	return n > 0
}
