package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// AuditLogModel 操作审计日志
// 记录每个请求级别的操作(含被拒绝的操作),与表单自身的审计链相互独立
type AuditLogModel struct {
	ID           string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID       string         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Role         string         `gorm:"type:varchar(32)" json:"role"`
	Action       string         `gorm:"type:varchar(64);not null;index" json:"action"`  // create/update/delete/submit/review/decide/comment/download
	ResourceType string         `gorm:"type:varchar(32);not null" json:"resource_type"` // form/attachment
	ResourceID   string         `gorm:"type:varchar(64);not null;index" json:"resource_id"`
	Result       string         `gorm:"type:varchar(32);not null" json:"result"` // success 或错误类别
	RequestID    string         `gorm:"type:varchar(64);index" json:"request_id,omitempty"`
	IP           string         `gorm:"type:varchar(45)" json:"ip,omitempty"`
	UserAgent    string         `gorm:"type:text" json:"user_agent,omitempty"`
	Details      datatypes.JSON `json:"details,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
}

// TableName 指定表名
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// Validate 验证审计日志模型
func (alm *AuditLogModel) Validate() error {
	if alm.ID == "" {
		return errors.New("audit log ID is required")
	}
	if alm.UserID == "" {
		return errors.New("user ID is required")
	}
	if alm.Action == "" {
		return errors.New("action is required")
	}
	if alm.ResourceType == "" {
		return errors.New("resource type is required")
	}
	if alm.ResourceID == "" {
		return errors.New("resource ID is required")
	}
	return nil
}
