package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/formflow-gin/internal/form"
	"gorm.io/datatypes"
)

// FormModel 表单数据模型
// 审计条目单独存放在 form_audit_entries,与状态在同一事务内写入
type FormModel struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)"`
	Status      string         `gorm:"type:varchar(32);not null;index"`
	Department  string         `gorm:"type:varchar(128);not null;index"`
	SubmittedBy string         `gorm:"type:varchar(64);not null;index"`
	ReviewedBy  string         `gorm:"type:varchar(64);index"`
	ApprovedBy  string         `gorm:"type:varchar(64)"`
	Title       string         `gorm:"type:varchar(255);not null"`
	Description string         `gorm:"type:text"`
	Template    string         `gorm:"type:varchar(128)"`
	FormData    datatypes.JSON `gorm:"not null"`
	Attachments datatypes.JSON `gorm:"not null"` // []form.Attachment
	Comments    datatypes.JSON `gorm:"not null"` // []form.Comment
	Version     int64          `gorm:"not null;default:1"`
	CreatedAt   time.Time      `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime:false"`
}

// TableName 指定表名
func (FormModel) TableName() string {
	return "forms"
}

// Validate 验证表单模型
func (fm *FormModel) Validate() error {
	if fm.ID == "" {
		return errors.New("form ID is required")
	}
	if !form.Status(fm.Status).Valid() {
		return fmt.Errorf("invalid form status: %s", fm.Status)
	}
	if fm.SubmittedBy == "" {
		return errors.New("submitted_by is required")
	}
	if fm.Title == "" {
		return errors.New("form title is required")
	}
	return nil
}

// FormAuditEntryModel 表单审计条目,(form_id, seq) 唯一
type FormAuditEntryModel struct {
	FormID      string    `gorm:"primaryKey;type:varchar(64)"`
	Seq         int       `gorm:"primaryKey;autoIncrement:false"`
	Action      string    `gorm:"type:varchar(32);not null;index"`
	PerformedBy string    `gorm:"type:varchar(64);not null"`
	Details     string    `gorm:"type:text"`
	Timestamp   time.Time `gorm:"not null"`
}

// TableName 指定表名
func (FormAuditEntryModel) TableName() string {
	return "form_audit_entries"
}

// NewFormModel 将领域记录转换为数据模型
func NewFormModel(rec *form.Record) (*FormModel, error) {
	attachments, err := json.Marshal(nonNilAttachments(rec.Attachments))
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	comments, err := json.Marshal(nonNilComments(rec.Comments))
	if err != nil {
		return nil, fmt.Errorf("failed to encode comments: %w", err)
	}
	formData := datatypes.JSON(rec.FormData)
	if len(formData) == 0 {
		formData = datatypes.JSON("{}")
	}

	return &FormModel{
		ID:          rec.ID,
		Status:      string(rec.Status),
		Department:  rec.Department,
		SubmittedBy: rec.SubmittedBy,
		ReviewedBy:  rec.ReviewedBy,
		ApprovedBy:  rec.ApprovedBy,
		Title:       rec.Title,
		Description: rec.Description,
		Template:    rec.Template,
		FormData:    formData,
		Attachments: datatypes.JSON(attachments),
		Comments:    datatypes.JSON(comments),
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// NewAuditEntryModels 转换 entries,seq 从 offset 开始
func NewAuditEntryModels(formID string, offset int, entries []form.AuditEntry) []FormAuditEntryModel {
	out := make([]FormAuditEntryModel, 0, len(entries))
	for i, e := range entries {
		out = append(out, FormAuditEntryModel{
			FormID:      formID,
			Seq:         offset + i,
			Action:      string(e.Action),
			PerformedBy: e.PerformedBy,
			Details:     e.Details,
			Timestamp:   e.Timestamp,
		})
	}
	return out
}

// ToRecord 转换为领域记录,entries 需按 seq 升序
func (fm *FormModel) ToRecord(entries []FormAuditEntryModel) (*form.Record, error) {
	rec := &form.Record{
		ID:          fm.ID,
		Status:      form.Status(fm.Status),
		Department:  fm.Department,
		SubmittedBy: fm.SubmittedBy,
		ReviewedBy:  fm.ReviewedBy,
		ApprovedBy:  fm.ApprovedBy,
		Title:       fm.Title,
		Description: fm.Description,
		Template:    fm.Template,
		FormData:    json.RawMessage(fm.FormData),
		Attachments: []form.Attachment{},
		Comments:    []form.Comment{},
		AuditLog:    make([]form.AuditEntry, 0, len(entries)),
		Version:     fm.Version,
		CreatedAt:   fm.CreatedAt,
		UpdatedAt:   fm.UpdatedAt,
	}
	if len(fm.Attachments) > 0 {
		if err := json.Unmarshal(fm.Attachments, &rec.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments of form %s: %w", fm.ID, err)
		}
	}
	if len(fm.Comments) > 0 {
		if err := json.Unmarshal(fm.Comments, &rec.Comments); err != nil {
			return nil, fmt.Errorf("failed to decode comments of form %s: %w", fm.ID, err)
		}
	}
	for _, e := range entries {
		rec.AuditLog = append(rec.AuditLog, form.AuditEntry{
			Action:      form.AuditAction(e.Action),
			PerformedBy: e.PerformedBy,
			Timestamp:   e.Timestamp,
			Details:     e.Details,
		})
	}
	return rec, nil
}

func nonNilAttachments(in []form.Attachment) []form.Attachment {
	if in == nil {
		return []form.Attachment{}
	}
	return in
}

func nonNilComments(in []form.Comment) []form.Comment {
	if in == nil {
		return []form.Comment{}
	}
	return in
}
