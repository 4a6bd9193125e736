package entity

import "time"

// WorkflowStage 工作流阶段（参考数据，本子系统只读）
type WorkflowStage struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	Name       string `json:"name" gorm:"size:100;not null"`
	Slug       string `json:"slug" gorm:"size:50;uniqueIndex;not null"`
	StageOrder int    `json:"stage_order" gorm:"not null;index"` // 决定阶段全序
	IsActive   bool   `json:"is_active" gorm:"default:true"`

	EstimatedDurationDays int    `json:"estimated_duration_days" gorm:"default:0"`
	Color                 string `json:"color" gorm:"size:20"` // 仅用于前端展示

	ExitCriteria CriteriaList `json:"exit_criteria" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WorkflowStage) TableName() string {
	return "workflow_stages"
}

// ExitCriterion 阶段出口条件
type ExitCriterion struct {
	Key      string `json:"key"`      // 条件标识，对应文档需求key
	Label    string `json:"label"`    // 人类可读描述
	Required bool   `json:"required"` // 是否为推进必要条件
}

// StageCatalog 按 stage_order 排序的阶段目录，提供查找辅助
type StageCatalog []WorkflowStage

// ByID 按ID查找阶段
func (c StageCatalog) ByID(id string) (*WorkflowStage, bool) {
	for i := range c {
		if c[i].ID == id {
			return &c[i], true
		}
	}
	return nil, false
}

// BySlug 按slug查找阶段
func (c StageCatalog) BySlug(slug string) (*WorkflowStage, bool) {
	for i := range c {
		if c[i].Slug == slug {
			return &c[i], true
		}
	}
	return nil, false
}

// Next 返回指定阶段的下一阶段（按 stage_order），没有则返回nil
func (c StageCatalog) Next(current *WorkflowStage) *WorkflowStage {
	var next *WorkflowStage
	for i := range c {
		s := &c[i]
		if !s.IsActive || s.StageOrder <= current.StageOrder {
			continue
		}
		if next == nil || s.StageOrder < next.StageOrder {
			next = s
		}
	}
	return next
}
