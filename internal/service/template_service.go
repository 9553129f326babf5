package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/model"
	"github.com/mautops/formflow-gin/internal/repository"
)

// TemplateView 模板视图
type TemplateView struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Department  string                `json:"department,omitempty"`
	Description string                `json:"description,omitempty"`
	Fields      []model.TemplateField `json:"fields"`
}

// TemplateService 模板查询服务,模板对本服务只读
type TemplateService interface {
	List(ctx context.Context, p form.Principal) ([]*TemplateView, error)
	Get(ctx context.Context, p form.Principal, id string) (*TemplateView, error)
}

// templateService 模板服务实现
type templateService struct {
	repo repository.TemplateRepository
}

// NewTemplateService 创建模板服务
func NewTemplateService(repo repository.TemplateRepository) TemplateService {
	return &templateService{repo: repo}
}

// List 列出启用的模板,非管理员只能看到本部门和通用模板
func (s *templateService) List(ctx context.Context, p form.Principal) ([]*TemplateView, error) {
	if !p.Role.Valid() {
		return nil, form.Forbidden("unknown role %q", p.Role)
	}
	var departments []string
	if p.Role != form.RoleAdmin {
		departments = []string{p.Department, model.SharedDepartment}
	}

	templates, err := s.repo.FindActive(ctx, departments...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	views := make([]*TemplateView, 0, len(templates))
	for _, t := range templates {
		v, err := toTemplateView(t)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Get 读取模板,不可见的模板返回 NotFound
func (s *templateService) Get(ctx context.Context, p form.Principal, id string) (*TemplateView, error) {
	if !p.Role.Valid() {
		return nil, form.Forbidden("unknown role %q", p.Role)
	}
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return nil, form.NotFound("template %s not found", id)
		}
		return nil, err
	}
	if !t.IsActive || !templateVisible(p, t) {
		return nil, form.NotFound("template %s not found", id)
	}
	return toTemplateView(t)
}

func templateVisible(p form.Principal, t *model.TemplateModel) bool {
	if p.Role == form.RoleAdmin {
		return true
	}
	return t.Department == model.SharedDepartment || t.Department == p.Department
}

func toTemplateView(t *model.TemplateModel) (*TemplateView, error) {
	fields, err := t.DecodeFields()
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", t.ID, err)
	}
	return &TemplateView{
		ID:          t.ID,
		Name:        t.Name,
		Department:  t.Department,
		Description: t.Description,
		Fields:      fields,
	}, nil
}
