package entity

import (
	"time"
)

// Project RFQ/制造项目
type Project struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	ProjectID   string `json:"project_id" gorm:"size:32;uniqueIndex;not null"` // P-2026090101
	Title       string `json:"title" gorm:"size:200;not null"`
	Description string `json:"description" gorm:"type:text"`

	Status        string `json:"status" gorm:"size:20;not null;default:active"`         // active/on_hold/delayed/cancelled/completed
	PriorityLevel string `json:"priority_level" gorm:"size:20;not null;default:medium"` // low/medium/high/urgent
	ProjectType   string `json:"project_type" gorm:"size:50"`

	// 工作流位置
	CurrentStageID *string    `json:"current_stage_id" gorm:"size:32;index"`
	StageEnteredAt *time.Time `json:"stage_entered_at"`

	// 关联方
	CustomerOrganizationID string  `json:"customer_organization_id" gorm:"size:32;not null;index"`
	AssigneeID             *string `json:"assignee_id" gorm:"size:32"`
	CreatedBy              string  `json:"created_by" gorm:"size:32"`

	// 商务信息
	EstimatedValue        *float64   `json:"estimated_value" gorm:"type:decimal(15,2)"`
	EstimatedDeliveryDate *time.Time `json:"estimated_delivery_date" gorm:"type:date"`

	Tags     StringArray `json:"tags" gorm:"type:jsonb"`
	Metadata JSONB       `json:"metadata" gorm:"type:jsonb"`
	Notes    string      `json:"notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// Project 状态
const (
	ProjectStatusActive    = "active"
	ProjectStatusOnHold    = "on_hold"
	ProjectStatusDelayed   = "delayed"
	ProjectStatusCancelled = "cancelled"
	ProjectStatusCompleted = "completed"
)

// Project 优先级
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidStatuses 合法状态集合
var ValidStatuses = []string{
	ProjectStatusActive,
	ProjectStatusOnHold,
	ProjectStatusDelayed,
	ProjectStatusCancelled,
	ProjectStatusCompleted,
}

// ValidPriorities 合法优先级集合
var ValidPriorities = []string{
	PriorityLow,
	PriorityMedium,
	PriorityHigh,
	PriorityUrgent,
}

// IsValidStatus 判断状态是否合法
func IsValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidPriority 判断优先级是否合法
func IsValidPriority(p string) bool {
	for _, v := range ValidPriorities {
		if v == p {
			return true
		}
	}
	return false
}

// DaysInStage 当前阶段停留天数（整数天）
func (p *Project) DaysInStage(now time.Time) int {
	if p.StageEnteredAt == nil {
		return 0
	}
	d := now.Sub(*p.StageEnteredAt)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// LegacyProjectFields 旧版数据中可能出现的字段
// 统一在数据边界归一化，内部逻辑不再区分新旧字段
type LegacyProjectFields struct {
	CurrentStage string `json:"current_stage"` // 阶段slug，对应新字段 current_stage_id
	Priority     string `json:"priority"`      // 对应新字段 priority_level
	DueDate      string `json:"due_date"`      // 对应新字段 estimated_delivery_date
}

// NormalizeLegacy 将旧版字段归一化写入项目实体
// resolveSlug 由调用方提供（slug → stage id），找不到时保持原值为空
func (p *Project) NormalizeLegacy(legacy LegacyProjectFields, resolveSlug func(string) (string, bool)) {
	if p.CurrentStageID == nil && legacy.CurrentStage != "" && resolveSlug != nil {
		if id, ok := resolveSlug(legacy.CurrentStage); ok {
			p.CurrentStageID = &id
		}
	}
	if p.PriorityLevel == "" && legacy.Priority != "" {
		p.PriorityLevel = legacy.Priority
	}
	if p.EstimatedDeliveryDate == nil && legacy.DueDate != "" {
		if t, err := time.Parse("2006-01-02", legacy.DueDate); err == nil {
			p.EstimatedDeliveryDate = &t
		}
	}
	if p.PriorityLevel == "" {
		p.PriorityLevel = PriorityMedium
	}
}
