package entity

import "time"

// StageTransition 阶段流转审计记录（只追加，不修改不删除）
type StageTransition struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	ProjectID string `json:"project_id" gorm:"size:32;not null;index:idx_transition_project"`
	OrgID     string `json:"org_id" gorm:"size:32;not null;index"`

	FromStageID   *string `json:"from_stage_id" gorm:"size:32"` // 首次进入时为空
	ToStageID     string  `json:"to_stage_id" gorm:"size:32;not null"`
	FromStageName string  `json:"from_stage_name" gorm:"size:100"`
	ToStageName   string  `json:"to_stage_name" gorm:"size:100"`

	UserID string `json:"user_id" gorm:"size:32"`
	Reason string `json:"reason" gorm:"type:text"`

	BypassRequired bool   `json:"bypass_required" gorm:"default:false"`
	BypassReason   string `json:"bypass_reason" gorm:"type:text"`

	EnteredAt time.Time `json:"entered_at" gorm:"not null;index:idx_transition_project"`
	CreatedAt time.Time `json:"created_at"`
}

func (StageTransition) TableName() string {
	return "stage_transitions"
}

// StageHistoryEntry 历史视图条目：配对相邻记录计算停留时长
type StageHistoryEntry struct {
	StageTransition
	ExitedAt        *time.Time `json:"exited_at"`        // 最后一条（当前阶段）为空
	DurationMinutes *int64     `json:"duration_minutes"` // exited_at - entered_at
}

// TransitionStats 流转统计
type TransitionStats struct {
	TotalTransitions int64            `json:"total_transitions"`
	BypassedCount    int64            `json:"bypassed_count"`
	ByStage          map[string]int64 `json:"by_stage"` // to_stage_name → 次数
	BypassReasons    []string         `json:"bypass_reasons"`
}
