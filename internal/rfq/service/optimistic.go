package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommandKind 乐观更新命令类型
type CommandKind string

const (
	CommandCreate CommandKind = "create"
	CommandUpdate CommandKind = "update"
	CommandDelete CommandKind = "delete"
)

// OptimisticCommand 类型化的乐观更新命令
// Tentative 先应用到本地，确认失败时恢复 Rollback 快照
type OptimisticCommand struct {
	ID        string
	Kind      CommandKind
	ProjectID string
	Tentative *entity.Project // delete 时为空
	Rollback  *entity.Project // 为空时自动从本地状态取快照
}

// ConfirmFunc 远端确认函数，返回确认后的数据
type ConfirmFunc func(ctx context.Context) (*entity.Project, error)

// OptimisticResult 乐观更新结果
type OptimisticResult struct {
	Success bool
	Project *entity.Project
	Err     error
}

// OptimisticCoordinator 乐观更新协调器
// 立即应用暂定数据，随后等待远端确认；失败则精确恢复快照
// 同一实体的更新串行：存在未确认更新时第二个请求直接拒绝
type OptimisticCoordinator struct {
	store  *state.ProjectStore
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]string // projectID → 进行中的命令ID
}

// NewOptimisticCoordinator 创建乐观更新协调器
func NewOptimisticCoordinator(store *state.ProjectStore, logger *zap.Logger) *OptimisticCoordinator {
	return &OptimisticCoordinator{
		store:   store,
		logger:  logger,
		pending: make(map[string]string),
	}
}

// Perform 执行一次乐观更新：应用 → 确认 → 替换或回滚
func (c *OptimisticCoordinator) Perform(ctx context.Context, cmd OptimisticCommand, confirm ConfirmFunc) OptimisticResult {
	if cmd.ProjectID == "" {
		return OptimisticResult{Err: fmt.Errorf("optimistic command requires a project id")}
	}
	if cmd.Kind != CommandDelete && cmd.Tentative == nil {
		return OptimisticResult{Err: fmt.Errorf("optimistic %s command requires tentative data", cmd.Kind)}
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}

	// 同一实体串行化
	c.mu.Lock()
	if pendingID, busy := c.pending[cmd.ProjectID]; busy {
		c.mu.Unlock()
		c.logger.Warn("Rejecting concurrent optimistic update",
			zap.String("project_id", cmd.ProjectID),
			zap.String("pending_command", pendingID))
		return OptimisticResult{Err: ErrUpdatePending}
	}
	c.pending[cmd.ProjectID] = cmd.ID

	// 回滚快照：未显式提供时取当前本地状态
	rollback := cmd.Rollback
	hadRecord := false
	if rollback == nil {
		if snapshot, ok := c.store.Get(cmd.ProjectID); ok {
			rollback = &snapshot
			hadRecord = true
		}
	} else {
		hadRecord = true
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ProjectID)
		c.mu.Unlock()
	}()

	// 立即应用暂定数据
	switch cmd.Kind {
	case CommandDelete:
		c.store.Remove(cmd.ProjectID)
	default:
		c.store.Upsert(*cmd.Tentative)
	}

	confirmed, err := confirm(ctx)
	if err != nil {
		// 精确恢复更新前的快照
		if hadRecord {
			c.store.Upsert(*rollback)
		} else {
			c.store.Remove(cmd.ProjectID)
		}
		c.logger.Warn("Optimistic update rolled back",
			zap.String("command_id", cmd.ID),
			zap.String("project_id", cmd.ProjectID),
			zap.String("kind", string(cmd.Kind)),
			zap.Error(err))
		return OptimisticResult{Err: err}
	}

	// 确认成功：以确认后的数据为准
	if cmd.Kind != CommandDelete && confirmed != nil {
		c.store.Upsert(*confirmed)
	}

	return OptimisticResult{Success: true, Project: confirmed}
}

// Pending 是否存在指定实体的未确认更新
func (c *OptimisticCoordinator) Pending(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[projectID]
	return ok
}
