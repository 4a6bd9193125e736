package service

import (
	"context"
	"sync"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/repository"
	"go.uber.org/zap"
)

// 审计写入重试上限，超过后丢弃
const maxAuditRetries = 5

// RecordTransitionRequest 记录一次流转尝试
type RecordTransitionRequest struct {
	ProjectID      string
	OrgID          string
	FromStageID    *string
	ToStageID      string
	UserID         string
	Reason         string
	BypassRequired bool
	BypassReason   string
}

type pendingAudit struct {
	rec      *entity.StageTransition
	attempts int
}

// HistoryService 阶段历史记录服务
// 审计写入尽力而为：失败只告警并进入重试队列，绝不回滚触发它的流转
type HistoryService struct {
	transitionRepo *repository.TransitionRepository
	stageRepo      *repository.StageRepository
	logger         *zap.Logger

	mu      sync.Mutex
	pending []pendingAudit
}

// NewHistoryService 创建阶段历史服务
func NewHistoryService(transitionRepo *repository.TransitionRepository, stageRepo *repository.StageRepository, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		transitionRepo: transitionRepo,
		stageRepo:      stageRepo,
		logger:         logger,
	}
}

// RecordStageTransition 写入一条流转审计记录
// 阶段名解析尽力而为，解析不到记为 Unknown；写入失败不向调用方传播
func (s *HistoryService) RecordStageTransition(ctx context.Context, req RecordTransitionRequest) {
	rec := &entity.StageTransition{
		ProjectID:      req.ProjectID,
		OrgID:          req.OrgID,
		FromStageID:    req.FromStageID,
		ToStageID:      req.ToStageID,
		FromStageName:  s.resolveStageName(ctx, req.FromStageID),
		ToStageName:    s.resolveStageName(ctx, &req.ToStageID),
		UserID:         req.UserID,
		Reason:         req.Reason,
		BypassRequired: req.BypassRequired,
		BypassReason:   req.BypassReason,
		EnteredAt:      time.Now(),
	}

	if err := s.transitionRepo.Create(ctx, rec); err != nil {
		s.logger.Warn("Stage transition audit write failed, queued for retry",
			zap.String("project_id", req.ProjectID),
			zap.String("to_stage_id", req.ToStageID),
			zap.Error(err))
		s.mu.Lock()
		s.pending = append(s.pending, pendingAudit{rec: rec})
		s.mu.Unlock()
	}
}

// FlushRetries 重试失败的审计写入，由后台定时任务调用
func (s *HistoryService) FlushRetries(ctx context.Context) {
	s.mu.Lock()
	queue := s.pending
	s.pending = nil
	s.mu.Unlock()

	var remaining []pendingAudit
	for _, p := range queue {
		if err := s.transitionRepo.Create(ctx, p.rec); err != nil {
			p.attempts++
			if p.attempts >= maxAuditRetries {
				s.logger.Error("Dropping stage transition audit record after retries",
					zap.String("project_id", p.rec.ProjectID),
					zap.Int("attempts", p.attempts),
					zap.Error(err))
				continue
			}
			remaining = append(remaining, p)
		}
	}

	if len(remaining) > 0 {
		s.mu.Lock()
		s.pending = append(s.pending, remaining...)
		s.mu.Unlock()
	}
}

// PendingAudits 当前待重试的审计记录数
func (s *HistoryService) PendingAudits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// GetProjectStageHistory 重建项目阶段历史
// 相邻记录配对：每条的 exited_at 取下一条的 entered_at，最后一条（当前阶段）为空
func (s *HistoryService) GetProjectStageHistory(ctx context.Context, projectID string) ([]entity.StageHistoryEntry, error) {
	records, err := s.transitionRepo.FindByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return pairHistory(records), nil
}

// pairHistory 将按时间升序的流转记录配对为历史条目
func pairHistory(records []entity.StageTransition) []entity.StageHistoryEntry {
	entries := make([]entity.StageHistoryEntry, 0, len(records))
	for i, rec := range records {
		entry := entity.StageHistoryEntry{StageTransition: rec}
		if i+1 < len(records) {
			exited := records[i+1].EnteredAt
			entry.ExitedAt = &exited
			minutes := int64(exited.Sub(rec.EnteredAt).Minutes())
			entry.DurationMinutes = &minutes
		}
		entries = append(entries, entry)
	}
	return entries
}

// GetStageTransitionStats 组织范围内的流转统计
func (s *HistoryService) GetStageTransitionStats(ctx context.Context, orgID string, from, to *time.Time) (*entity.TransitionStats, error) {
	records, err := s.transitionRepo.FindByOrg(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}

	stats := &entity.TransitionStats{
		ByStage:       make(map[string]int64),
		BypassReasons: []string{},
	}
	for _, rec := range records {
		stats.TotalTransitions++
		stats.ByStage[rec.ToStageName]++
		if rec.BypassRequired {
			stats.BypassedCount++
			if rec.BypassReason != "" {
				stats.BypassReasons = append(stats.BypassReasons, rec.BypassReason)
			}
		}
	}
	return stats, nil
}

func (s *HistoryService) resolveStageName(ctx context.Context, stageID *string) string {
	if stageID == nil || *stageID == "" {
		return ""
	}
	stage, err := s.stageRepo.FindByID(ctx, *stageID)
	if err != nil {
		return "Unknown"
	}
	return stage.Name
}
