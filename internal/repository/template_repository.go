package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/formflow-gin/internal/model"
	"gorm.io/gorm"
)

// ErrTemplateNotFound 模板不存在
var ErrTemplateNotFound = errors.New("template not found")

// TemplateRepository 模板仓储接口
// 模板对表单流转只读,Save 仅用于初始化数据
type TemplateRepository interface {
	Save(ctx context.Context, template *model.TemplateModel) error
	FindByID(ctx context.Context, id string) (*model.TemplateModel, error)
	FindActive(ctx context.Context, departments ...string) ([]*model.TemplateModel, error)
}

// templateRepository 模板仓储实现
type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository 创建模板仓储
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Save 保存模板
func (r *templateRepository) Save(ctx context.Context, template *model.TemplateModel) error {
	if err := template.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(template).Error
}

// FindByID 根据 ID 查找模板
func (r *templateRepository) FindByID(ctx context.Context, id string) (*model.TemplateModel, error) {
	var template model.TemplateModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&template).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to find template %s: %w", id, err)
	}
	return &template, nil
}

// FindActive 查找启用的模板,不指定部门时返回全部部门
func (r *templateRepository) FindActive(ctx context.Context, departments ...string) ([]*model.TemplateModel, error) {
	var templates []*model.TemplateModel
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if len(departments) > 0 {
		query = query.Where("department IN ?", departments)
	}
	err := query.Order("name ASC").Find(&templates).Error
	return templates, err
}
