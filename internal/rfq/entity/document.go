package entity

import "time"

// ProjectDocument 项目文档（用于出口条件校验）
type ProjectDocument struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	ProjectID string `json:"project_id" gorm:"size:32;not null;index"`
	OrgID     string `json:"org_id" gorm:"size:32;not null;index"`

	RequirementKey string `json:"requirement_key" gorm:"size:50;index"` // 对应阶段出口条件key，可为空
	FileName       string `json:"file_name" gorm:"size:255;not null"`
	ObjectKey      string `json:"object_key" gorm:"size:500;not null"` // MinIO对象路径
	ContentType    string `json:"content_type" gorm:"size:100"`
	SizeBytes      int64  `json:"size_bytes"`
	Status         string `json:"status" gorm:"size:20;default:valid"` // valid/invalid/pending_review

	UploadedBy string    `json:"uploaded_by" gorm:"size:32"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ProjectDocument) TableName() string {
	return "project_documents"
}

// ProjectDocument 状态
const (
	DocumentStatusValid         = "valid"
	DocumentStatusInvalid       = "invalid"
	DocumentStatusPendingReview = "pending_review"
)
