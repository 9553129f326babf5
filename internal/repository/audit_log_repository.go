package repository

import (
	"context"
	"fmt"

	"github.com/mautops/formflow-gin/internal/model"
	"gorm.io/gorm"
)

// AuditLogFilter 操作审计查询条件,空字段不参与过滤
type AuditLogFilter struct {
	UserID       string
	ResourceType string
	ResourceID   string
	Result       string
	Page         int
	PageSize     int
}

// AuditLogRepository 操作审计仓储接口,只追加不修改
type AuditLogRepository interface {
	Save(ctx context.Context, log *model.AuditLogModel) error
	Query(ctx context.Context, filter AuditLogFilter) ([]*model.AuditLogModel, int64, error)
}

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Save(ctx context.Context, log *model.AuditLogModel) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}
	return nil
}

// Query 按条件分页查询,最新的在前
func (r *auditLogRepository) Query(ctx context.Context, filter AuditLogFilter) ([]*model.AuditLogModel, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.AuditLogModel{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ResourceType != "" {
		q = q.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		q = q.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.Result != "" {
		q = q.Where("result = ?", filter.Result)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	q = q.Order("created_at DESC").Order("id")
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var logs []*model.AuditLogModel
	if err := q.Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return logs, total, nil
}
