package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TemplateField 模板字段,仅用于展示
type TemplateField struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// SharedDepartment 部门为空的模板对所有部门可见
const SharedDepartment = ""

// TemplateModel 表单模板数据模型
// 模板由外部维护,本服务只读
type TemplateModel struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)"`
	Name        string         `gorm:"type:varchar(255);not null;index"`
	Department  string         `gorm:"type:varchar(128);index"`
	Description string         `gorm:"type:text"`
	Fields      datatypes.JSON `gorm:"not null"` // []TemplateField
	IsActive    bool           `gorm:"not null"`
	CreatedBy   string         `gorm:"type:varchar(64)"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (TemplateModel) TableName() string {
	return "templates"
}

// Validate 验证模板模型
func (tm *TemplateModel) Validate() error {
	if tm.ID == "" {
		return errors.New("template ID is required")
	}
	if tm.Name == "" {
		return errors.New("template name is required")
	}
	if len(tm.Fields) == 0 {
		return errors.New("template fields are required")
	}
	if _, err := tm.DecodeFields(); err != nil {
		return err
	}
	return nil
}

// DecodeFields 解析字段定义
func (tm *TemplateModel) DecodeFields() ([]TemplateField, error) {
	var fields []TemplateField
	if err := json.Unmarshal(tm.Fields, &fields); err != nil {
		return nil, fmt.Errorf("invalid template fields: %w", err)
	}
	return fields, nil
}
